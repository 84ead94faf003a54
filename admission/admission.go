// Package admission throttles batch submissions against the user's current
// queue occupancy. It knows nothing about SLURM itself: queue queries and
// submissions are supplied by the caller.
package admission

import (
	"context"
	"fmt"
	"time"
)

// Unbounded is the sentinel limit value meaning "no limit".
const Unbounded = -1

// DefaultPollDelay is the pause between queue polls while a job is held back.
const DefaultPollDelay = 10 * time.Second

// Limits caps the number of the user's jobs in each queue state.
type Limits struct {
	MaxRunning int `json:"max_running" yaml:"max_running"`
	MaxPending int `json:"max_pending" yaml:"max_pending"`
}

// NoLimits returns limits that admit every job without polling.
func NoLimits() Limits {
	return Limits{MaxRunning: Unbounded, MaxPending: Unbounded}
}

// Unbounded reports whether neither state is limited.
func (l Limits) Unbounded() bool {
	return l.MaxRunning == Unbounded && l.MaxPending == Unbounded
}

// Validate rejects negative limits other than the sentinel.
func (l Limits) Validate() error {
	if l.MaxRunning < Unbounded {
		return fmt.Errorf("max_running must be -1 or >= 0, got %d", l.MaxRunning)
	}
	if l.MaxPending < Unbounded {
		return fmt.Errorf("max_pending must be -1 or >= 0, got %d", l.MaxPending)
	}
	return nil
}

// Snapshot is a point-in-time count of the user's jobs.
type Snapshot struct {
	Running int `json:"running"`
	Pending int `json:"pending"`
}

// Decision is either Allow or Wait(Delay).
type Decision struct {
	Allow bool
	Delay time.Duration
}

// Allow admits the job now.
func Allow() Decision {
	return Decision{Allow: true}
}

// Wait holds the job back for delay before the next poll.
func Wait(delay time.Duration) Decision {
	return Decision{Delay: delay}
}

func (d Decision) String() string {
	if d.Allow {
		return "allow"
	}
	return "wait(" + d.Delay.String() + ")"
}

// Decide applies the admission rule with the default poll delay.
func Decide(s Snapshot, l Limits) Decision {
	return DecideWithDelay(s, l, DefaultPollDelay)
}

// DecideWithDelay admits the job iff every bounded state is below its limit.
// A non-positive delay falls back to DefaultPollDelay.
func DecideWithDelay(s Snapshot, l Limits, delay time.Duration) Decision {
	runningOK := l.MaxRunning == Unbounded || s.Running < l.MaxRunning
	pendingOK := l.MaxPending == Unbounded || s.Pending < l.MaxPending
	if runningOK && pendingOK {
		return Allow()
	}
	if delay <= 0 {
		delay = DefaultPollDelay
	}
	return Wait(delay)
}

// Artifact locates the rendered files of one job.
type Artifact struct {
	BatchPath  string `json:"batch_path" yaml:"batch_path"`
	ScriptPath string `json:"script_path" yaml:"script_path"`
}

// QueueSource reports the user's current queue occupancy.
type QueueSource interface {
	Poll(ctx context.Context, user string) (Snapshot, error)
}

// Submitter hands a batch file to the scheduler and returns its job ID,
// which may be empty when the scheduler does not report one.
type Submitter interface {
	Submit(ctx context.Context, artifact Artifact) (string, error)
}

// QueueSourceFunc adapts a function to QueueSource.
type QueueSourceFunc func(ctx context.Context, user string) (Snapshot, error)

func (f QueueSourceFunc) Poll(ctx context.Context, user string) (Snapshot, error) {
	return f(ctx, user)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, artifact Artifact) (string, error)

func (f SubmitterFunc) Submit(ctx context.Context, artifact Artifact) (string, error) {
	return f(ctx, artifact)
}
