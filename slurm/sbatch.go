package slurm

import (
	"context"
	"regexp"
	"strings"

	"jarvice.io/slurm-launcher/admission"
	logger "jarvice.io/slurm-launcher/logger"
)

var submittedRe = regexp.MustCompile(`Submitted batch job (\d+)`)

// SBatch submits rendered batch files with sbatch.
type SBatch struct {
	Command string
	Run     Runner
}

// NewSBatch returns a submitter running sbatch from PATH.
func NewSBatch() *SBatch {
	return &SBatch{Command: SBatchName, Run: ExecRunner}
}

// Submit implements admission.Submitter. The job ID is empty when sbatch
// succeeds without printing one (e.g. --parsable wrappers).
func (s *SBatch) Submit(ctx context.Context, artifact admission.Artifact) (string, error) {
	if script, err := ReadBatchFile(artifact.BatchPath); err == nil {
		logger.DebugObj("batch directives", script.Directives)
		if len(script.Unsupported) > 0 {
			logger.WarningPrintf("%s: %d unrecognized options: %s", artifact.BatchPath,
				len(script.Unsupported), strings.Join(script.Unsupported, " "))
		}
	} else {
		logger.WarningPrintf("unable to read back %s: %v", artifact.BatchPath, err)
	}
	run := s.Run
	if run == nil {
		run = ExecRunner
	}
	command := s.Command
	if len(command) == 0 {
		command = SBatchName
	}
	// sbatch is not cancelled once issued
	out, err := run(context.WithoutCancel(ctx), command, artifact.BatchPath)
	if err != nil {
		return "", &admission.SubmitError{Path: artifact.BatchPath, Output: string(out), Err: err}
	}
	logger.InfoPrintf("%s", strings.TrimSpace(string(out)))
	return ParseJobID(out), nil
}

// ParseJobID extracts the job ID from sbatch output.
func ParseJobID(out []byte) string {
	if m := submittedRe.FindSubmatch(out); m != nil {
		return string(m[1])
	}
	// sbatch --parsable prints "<id>[;cluster]"
	fields := strings.Split(strings.TrimSpace(string(out)), ";")
	if id := fields[0]; len(id) > 0 && strings.Trim(id, "0123456789") == "" {
		return id
	}
	return ""
}
