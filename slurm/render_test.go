package slurm

import (
	"os"
	"strings"
	"testing"
	"time"

	"jarvice.io/slurm-launcher/core"
)

func testJob() *core.JobConfig {
	return &core.JobConfig{
		Name: "exp_lr0.1",
		Directives: []core.Directive{
			{Key: "job_name", Value: "exp_lr0.1"},
			{Key: "partition", Value: "gpu"},
			{Key: "cpus_per_task", Value: "4"},
		},
		Overrides:      []string{"lr=0.1", "tag=a b"},
		Root:           "/scratch/$USER",
		VenvRoot:       "/h/$USER/venv",
		CheckpointRoot: "/checkpoint/$USER",
		Command:        "python3 train.py",
	}
}

func TestBatchFile(t *testing.T) {
	got := BatchFile(testJob(), "/scratch/alice/slurm/2024-03-01/exp_lr0.1")
	want := strings.Join([]string{
		"#!/bin/bash",
		"#SBATCH --job-name=exp_lr0.1",
		"#SBATCH --partition=gpu",
		"#SBATCH --cpus-per-task=4",
		"#SBATCH --output=/scratch/alice/slurm/2024-03-01/exp_lr0.1/log/%j.out",
		"#SBATCH --error=/scratch/alice/slurm/2024-03-01/exp_lr0.1/log/%j.err",
		"bash /scratch/alice/slurm/2024-03-01/exp_lr0.1/scripts/exp_lr0.1.sh",
	}, "\n")
	if got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestBatchFileKeepsExplicitOutput(t *testing.T) {
	job := testJob()
	job.Directives = append(job.Directives, core.Directive{Key: "output", Value: "/tmp/out.log"})
	got := BatchFile(job, "/j")
	if strings.Count(got, "--output=") != 1 || !strings.Contains(got, "--output=/tmp/out.log") {
		t.Fatalf("output directive not kept:\n%s", got)
	}
	if !strings.Contains(got, "--error=/j/log/%j.err") {
		t.Fatalf("default error directive missing:\n%s", got)
	}
}

func TestRunScript(t *testing.T) {
	job := testJob()
	got, err := RunScript(job, "/j")
	if err != nil {
		t.Fatal(err)
	}
	want := `#!/bin/bash
if [ -d /checkpoint/$USER/$SLURM_JOB_ID ]; then
    ln -s /checkpoint/$USER/$SLURM_JOB_ID /j/$SLURM_JOB_ID
fi
touch /j/$SLURM_JOB_ID/DELAYPURGE
python3 train.py lr=0.1 'tag=a b'
`
	if got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
	job.Venv = "torch"
	got, err = RunScript(job, "/j")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "DELAYPURGE\n. /h/$USER/venv/torch/bin/activate\npython3 train.py") {
		t.Fatalf("venv activation missing:\n%s", got)
	}
}

func TestRenderRoundTrip(t *testing.T) {
	job := testJob()
	job.Root = t.TempDir()
	r := &Renderer{Now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), User: "alice"}
	artifact, err := r.Render(job)
	if err != nil {
		t.Fatal(err)
	}
	if again := r.Artifact(job); again != artifact {
		t.Fatalf("Artifact() = %+v, Render() = %+v", again, artifact)
	}
	if _, err := os.Stat(artifact.ScriptPath); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(job.Layout().LogDir(r.Now, r.User, job.Name)); err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
	script, err := ReadBatchFile(artifact.BatchPath)
	if err != nil {
		t.Fatal(err)
	}
	if name, _ := script.Directive("job-name"); name != job.Name {
		t.Fatalf("job-name %q", name)
	}
	if p, _ := script.Directive("partition"); p != "gpu" {
		t.Fatalf("partition %q", p)
	}
	if !strings.HasPrefix(string(script.Body), "bash ") {
		t.Fatalf("body %q", script.Body)
	}
	// rendering again overwrites in place
	if second, err := r.Render(job); err != nil || second != artifact {
		t.Fatalf("second render %+v, %v", second, err)
	}
}

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"lr=0.1":     "lr=0.1",
		"a b":        "'a b'",
		"it's":       `'it'\''s'`,
		"":           "''",
		"x=$(rm -r)": "'x=$(rm -r)'",
	}
	for in, want := range cases {
		if got := ShellQuote(in); got != want {
			t.Errorf("ShellQuote(%q) = %q, want %q", in, got, want)
		}
	}
}
