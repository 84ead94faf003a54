package slurm

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"jarvice.io/slurm-launcher/admission"
	"jarvice.io/slurm-launcher/core"
	logger "jarvice.io/slurm-launcher/logger"
)

const batchShell = "#!/bin/bash"

// The run script links the job's checkpoint directory into the job tree when
// the cluster provides one and marks it for delayed purge.
var runScriptTmpl = template.Must(template.New("run").Parse(`#!/bin/bash
if [ -d {{.CheckpointRoot}}/$SLURM_JOB_ID ]; then
    ln -s {{.CheckpointRoot}}/$SLURM_JOB_ID {{.JobDir}}/$SLURM_JOB_ID
fi
touch {{.JobDir}}/$SLURM_JOB_ID/DELAYPURGE
{{- if .Venv}}
. {{.VenvRoot}}/{{.Venv}}/bin/activate
{{- end}}
{{.Command}}{{range .Overrides}} {{.}}{{end}}
`))

type runScriptData struct {
	JobDir         string
	CheckpointRoot string
	Venv           string
	VenvRoot       string
	Command        string
	Overrides      []string
}

// Renderer writes the batch file and run script of a job under the job
// tree of User as of Now.
type Renderer struct {
	Now  time.Time
	User string
}

// Artifact returns where Render puts the job's files.
func (r *Renderer) Artifact(job *core.JobConfig) admission.Artifact {
	l := job.Layout()
	return admission.Artifact{
		BatchPath:  l.BatchPath(r.Now, r.User, job.Name),
		ScriptPath: l.ScriptPath(r.Now, r.User, job.Name),
	}
}

// Render creates the scripts and log directories and writes both files,
// replacing earlier renders of the same job.
func (r *Renderer) Render(job *core.JobConfig) (admission.Artifact, error) {
	l := job.Layout()
	for _, dir := range []string{
		l.ScriptsDir(r.Now, r.User, job.Name),
		l.LogDir(r.Now, r.User, job.Name),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return admission.Artifact{}, err
		}
	}
	artifact := r.Artifact(job)
	batch := BatchFile(job, l.JobDir(r.Now, r.User, job.Name))
	if err := os.WriteFile(artifact.BatchPath, []byte(batch), 0644); err != nil {
		return admission.Artifact{}, err
	}
	script, err := RunScript(job, l.JobDir(r.Now, r.User, job.Name))
	if err != nil {
		return admission.Artifact{}, err
	}
	if err := os.WriteFile(artifact.ScriptPath, []byte(script), 0755); err != nil {
		return admission.Artifact{}, err
	}
	logger.DebugObj("rendered "+job.Name, artifact)
	return artifact, nil
}

// DirectiveOption turns a config key into its long option name.
func DirectiveOption(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// BatchFile renders the #SBATCH header followed by the command running the
// job's run script. Output and error default to the job's log directory.
func BatchFile(job *core.JobConfig, jobDir string) string {
	lines := []string{batchShell}
	seen := map[string]bool{}
	for _, d := range job.Directives {
		opt := DirectiveOption(d.Key)
		seen[opt] = true
		lines = append(lines, fmt.Sprintf("%s --%s=%s", DirectivePrefix, opt, d.Value))
	}
	logDir := filepath.Join(jobDir, core.LogDirName)
	if !seen["output"] {
		lines = append(lines, fmt.Sprintf("%s --output=%s/%%j.out", DirectivePrefix, logDir))
	}
	if !seen["error"] {
		lines = append(lines, fmt.Sprintf("%s --error=%s/%%j.err", DirectivePrefix, logDir))
	}
	scriptPath := filepath.Join(jobDir, core.ScriptsDirName, job.Name+core.ScriptFileExt)
	lines = append(lines, "bash "+scriptPath)
	return strings.Join(lines, "\n")
}

// RunScript renders the shell script executed by the batch job.
func RunScript(job *core.JobConfig, jobDir string) (string, error) {
	data := runScriptData{
		JobDir:         jobDir,
		CheckpointRoot: job.CheckpointRoot,
		Venv:           job.Venv,
		VenvRoot:       job.VenvRoot,
		Command:        job.Command,
	}
	for _, o := range job.Overrides {
		data.Overrides = append(data.Overrides, ShellQuote(o))
	}
	var b bytes.Buffer
	if err := runScriptTmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s: %w", job.Name, err)
	}
	return b.String(), nil
}

// ShellQuote single-quotes s unless it is made only of characters the shell
// leaves alone.
func ShellQuote(s string) string {
	if len(s) > 0 && strings.Trim(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-+=.,:/@%") == "" {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
