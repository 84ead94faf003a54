package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"jarvice.io/slurm-launcher/admission"
	"jarvice.io/slurm-launcher/core"
	logger "jarvice.io/slurm-launcher/logger"
	"jarvice.io/slurm-launcher/slurm"
)

// pause between submissions when the config sets wait
const submitPause = time.Second

type LaunchCommand struct {
	Config LauncherConfigFlags `group:"Configuration Options"`
	DryRun bool                `short:"n" long:"dry-run" description:"render job files without submitting"`
	Args   OverrideArgs        `positional-args:"true"`
}

var launchCommand LaunchCommand

func (x *LaunchCommand) Execute(args []string) error {
	if x.Config.Help {
		return createHelpErr()
	}
	user, err := x.Config.user()
	if err != nil {
		return err
	}
	cfg, err := x.Config.load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l := &launcher{
		Now:       time.Now(),
		User:      user,
		Source:    slurm.NewSQueue(slurm.DefaultQueryRate),
		Submitter: slurm.NewSBatch(),
		Out:       os.Stdout,
	}
	m, err := l.Launch(ctx, cfg, x.Args.Overrides, x.DryRun)
	if err != nil {
		return err
	}
	return m.Err()
}

// launcher renders every job of a config and feeds them to the admission
// loop.
type launcher struct {
	Now       time.Time
	User      string
	Source    admission.QueueSource
	Submitter admission.Submitter
	Sleep     func(ctx context.Context, d time.Duration) error
	Out       io.Writer
}

// Manifest records one launch. It is written next to the day's job
// directories so a sweep can be traced back to its submissions.
type Manifest struct {
	ID         string        `yaml:"id"`
	Config     string        `yaml:"config,omitempty"`
	User       string        `yaml:"user"`
	LaunchedAt string        `yaml:"launched_at"`
	DryRun     bool          `yaml:"dry_run,omitempty"`
	Jobs       []ManifestJob `yaml:"jobs"`

	Path string `yaml:"-"`
}

type ManifestJob struct {
	Name      string   `yaml:"name"`
	Overrides []string `yaml:"overrides,omitempty"`
	Batch     string   `yaml:"batch"`
	Script    string   `yaml:"script"`
	JobID     string   `yaml:"job_id,omitempty"`
	Error     string   `yaml:"error,omitempty"`
}

// Err summarizes failed jobs.
func (m *Manifest) Err() error {
	failed := 0
	for _, j := range m.Jobs {
		if len(j.Error) > 0 {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("launch: %d of %d jobs failed, see %s", failed, len(m.Jobs), m.Path)
	}
	return nil
}

// Launch renders and submits the jobs of cfg. Jobs are submitted in sweep
// order; a failed job does not stop the ones after it.
func (l *launcher) Launch(ctx context.Context, cfg *core.Config, overrides []string, dryRun bool) (*Manifest, error) {
	jobs, err := cfg.Jobs(overrides)
	if err != nil {
		return nil, err
	}
	if err := checkNames(jobs); err != nil {
		return nil, err
	}
	logger.InfoPrintf("Launching %d jobs on slurm", len(jobs))

	renderer := &slurm.Renderer{Now: l.Now, User: l.User}
	batch := make([]admission.Job, 0, len(jobs))
	for i, job := range jobs {
		logger.InfoPrintf("\t#%d : %s", i, strings.Join(job.Overrides, " "))
		logger.InfoPrintf("\tJob name : %s", job.Name)
		artifact, err := renderer.Render(job)
		if err != nil {
			return nil, err
		}
		batch = append(batch, admission.Job{Name: job.Name, Artifact: artifact})
	}

	var outcomes []admission.Outcome
	if dryRun {
		for _, j := range batch {
			outcomes = append(outcomes, admission.Outcome{Name: j.Name, Artifact: j.Artifact})
		}
	} else {
		start := 0
		for _, end := range admissionGroups(jobs) {
			if start > 0 && jobs[start-1].Wait {
				// RunBatch pauses only between its own jobs
				_ = l.sleep(ctx, submitPause)
			}
			loop := l.loop(jobs[start])
			loop.First = start
			outcomes = append(outcomes, loop.RunBatch(ctx, batch[start:end])...)
			start = end
		}
	}

	m := &Manifest{
		ID:         uuid.NewString(),
		Config:     cfg.Path,
		User:       l.User,
		LaunchedAt: l.Now.Format(time.RFC3339),
		DryRun:     dryRun,
	}
	for i, out := range outcomes {
		mj := ManifestJob{
			Name:      out.Name,
			Overrides: jobs[i].Overrides,
			Batch:     out.Artifact.BatchPath,
			Script:    out.Artifact.ScriptPath,
			JobID:     out.JobID,
		}
		if out.Err != nil {
			mj.Error = out.Err.Error()
		}
		m.Jobs = append(m.Jobs, mj)
	}
	dir := jobs[0].Layout().LaunchesDir(l.Now, l.User)
	if err := m.write(dir); err != nil {
		return nil, err
	}
	l.printOutcomes(m)
	return m, nil
}

func (l *launcher) loop(job *core.JobConfig) *admission.Loop {
	loop := &admission.Loop{
		Source:    l.Source,
		Submitter: l.Submitter,
		User:      l.User,
		Limits:    job.Limits,
		Delay:     job.PollDelay,
		Sleep:     l.Sleep,
	}
	if job.Wait {
		loop.Pause = submitPause
	}
	return loop
}

func (l *launcher) sleep(ctx context.Context, d time.Duration) error {
	if l.Sleep != nil {
		return l.Sleep(ctx, d)
	}
	return admission.Sleep(ctx, d)
}

func (l *launcher) printOutcomes(m *Manifest) {
	if l.Out == nil {
		return
	}
	table := [][]string{{"NAME", "JOBID", "STATUS", "BATCH"}}
	for _, j := range m.Jobs {
		status := "submitted"
		switch {
		case len(j.Error) > 0:
			status = "failed: " + j.Error
		case m.DryRun:
			status = "rendered"
		}
		table = append(table, []string{j.Name, j.JobID, status, j.Batch})
	}
	core.WriteTable(l.Out, table, false)
	fmt.Fprintf(l.Out, "manifest: %s\n", m.Path)
}

func (m *Manifest) write(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	m.Path = filepath.Join(dir, m.ID+".yaml")
	return os.WriteFile(m.Path, data, 0644)
}

// admissionGroups splits jobs into runs sharing the same admission settings
// and returns the end index of each run.
func admissionGroups(jobs []*core.JobConfig) []int {
	var ends []int
	for i := 1; i <= len(jobs); i++ {
		if i == len(jobs) || !sameAdmission(jobs[i-1], jobs[i]) {
			ends = append(ends, i)
		}
	}
	return ends
}

func sameAdmission(a, b *core.JobConfig) bool {
	return a.Limits == b.Limits && a.PollDelay == b.PollDelay && a.Wait == b.Wait
}

// checkNames rejects sweeps in which two jobs would share a job directory.
func checkNames(jobs []*core.JobConfig) error {
	seen := make(map[string]int, len(jobs))
	for i, job := range jobs {
		key := job.Root + "\x00" + job.Name
		if j, ok := seen[key]; ok {
			return fmt.Errorf("launch: jobs #%d and #%d are both named %q", j, i, job.Name)
		}
		seen[key] = i
	}
	return nil
}

func init() {
	parser.AddCommand("launch",
		"Launch a sweep",
		"Render every job of the configuration and submit them with sbatch, holding each one back while the queue is over its limits.",
		&launchCommand)
}
