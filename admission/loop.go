package admission

import (
	"context"
	"errors"
	"os"
	"time"

	logger "jarvice.io/slurm-launcher/logger"
)

// Loop holds a job back until the queue has room for it and then submits it.
type Loop struct {
	Source    QueueSource
	Submitter Submitter
	User      string
	Limits    Limits
	// Delay between polls; DefaultPollDelay when zero.
	Delay time.Duration
	// Pause between consecutive jobs of a batch.
	Pause time.Duration
	// First is the position of the batch's first job in the whole launch,
	// used to number log lines.
	First int
	// OnPoll, if set, sees every snapshot and the decision taken on it.
	OnPoll func(Snapshot, Decision)
	// Sleep defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Job is one entry of a batch.
type Job struct {
	Name     string
	Artifact Artifact
}

// Outcome records what happened to one job of a batch.
type Outcome struct {
	Name     string
	Artifact Artifact
	JobID    string
	Err      error
}

// Run polls until the limits admit the job, then submits it exactly once.
// Query failures end the loop without submitting.
func (l *Loop) Run(ctx context.Context, artifact Artifact) (string, error) {
	if !l.Limits.Unbounded() {
		if err := l.waitForRoom(ctx); err != nil {
			return "", err
		}
	}
	return l.submit(ctx, artifact)
}

func (l *Loop) waitForRoom(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap, err := l.Source.Poll(ctx, l.User)
		if err != nil {
			return asQueryError(l.User, err)
		}
		decision := DecideWithDelay(snap, l.Limits, l.Delay)
		if l.OnPoll != nil {
			l.OnPoll(snap, decision)
		}
		if decision.Allow {
			logger.DebugPrintf("%d jobs running and %d jobs pending, submitting",
				snap.Running, snap.Pending)
			return nil
		}
		logger.InfoPrintf("%d jobs running and %d jobs pending, waiting %v...",
			snap.Running, snap.Pending, decision.Delay)
		if err := l.sleep(ctx, decision.Delay); err != nil {
			return err
		}
	}
}

func (l *Loop) submit(ctx context.Context, artifact Artifact) (string, error) {
	if _, err := os.Stat(artifact.BatchPath); err != nil {
		return "", &ArtifactMissingError{Path: artifact.BatchPath, Err: err}
	}
	jobID, err := l.Submitter.Submit(ctx, artifact)
	if err != nil {
		logger.ErrorPrintf("submission of %s failed: %v", artifact.BatchPath, err)
		return "", err
	}
	logger.InfoPrintf("submitted %s (job %s)", artifact.BatchPath, jobID)
	return jobID, nil
}

// RunBatch submits jobs one after another in order. A failed job does not
// stop the batch; only cancellation does, and the jobs not yet attempted
// then carry the context error.
func (l *Loop) RunBatch(ctx context.Context, jobs []Job) []Outcome {
	outcomes := make([]Outcome, 0, len(jobs))
	for i, job := range jobs {
		out := Outcome{Name: job.Name, Artifact: job.Artifact}
		if err := ctx.Err(); err != nil {
			out.Err = err
			outcomes = append(outcomes, out)
			continue
		}
		logger.InfoPrintf("#%d : %s", l.First+i, job.Name)
		out.JobID, out.Err = l.Run(ctx, job.Artifact)
		outcomes = append(outcomes, out)
		if l.Pause > 0 && i < len(jobs)-1 {
			// cancellation surfaces on the next iteration
			_ = l.sleep(ctx, l.Pause)
		}
	}
	return outcomes
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) error {
	if l.Sleep != nil {
		return l.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func asQueryError(user string, err error) error {
	var qerr *QueryError
	if errors.As(err, &qerr) {
		return err
	}
	return &QueryError{User: user, Err: err}
}
