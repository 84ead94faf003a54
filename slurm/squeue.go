package slurm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"jarvice.io/slurm-launcher/admission"
	logger "jarvice.io/slurm-launcher/logger"
)

// Default squeue pacing
const (
	DefaultQueryTimeout = 30 * time.Second
	DefaultQueryRate    = rate.Limit(1)
)

// Compact job state codes as printed by squeue --format=%t
const (
	StateRunning = "R"
	StatePending = "PD"

	// OOM is the longest compact code
	maxStateCodeLen = 3
)

// Runner executes an external command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command on the local host. Stderr is folded into the
// returned error so callers can report why the command failed.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); len(msg) > 0 {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

// SQueue counts a user's running and pending jobs with squeue.
type SQueue struct {
	Command string
	Timeout time.Duration
	Run     Runner
	limiter *rate.Limiter
}

// NewSQueue returns a queue source issuing at most qps queries per second.
func NewSQueue(qps rate.Limit) *SQueue {
	return &SQueue{
		Command: SQueueName,
		Timeout: DefaultQueryTimeout,
		Run:     ExecRunner,
		limiter: rate.NewLimiter(qps, 1),
	}
}

// Args returns the squeue arguments used to query user.
func (q *SQueue) Args(user string) []string {
	return []string{"--noheader", "--user=" + user, "--format=%t"}
}

// Poll implements admission.QueueSource. A timed out or failed squeue is an
// error, never an empty queue.
func (q *SQueue) Poll(ctx context.Context, user string) (admission.Snapshot, error) {
	if len(user) == 0 {
		return admission.Snapshot{}, &admission.QueryError{User: user, Err: errors.New("squeue: empty user")}
	}
	if q.limiter != nil {
		if err := q.limiter.Wait(ctx); err != nil {
			return admission.Snapshot{}, &admission.QueryError{User: user, Err: err}
		}
	}
	timeout := q.Timeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	run := q.Run
	if run == nil {
		run = ExecRunner
	}
	command := q.Command
	if len(command) == 0 {
		command = SQueueName
	}
	out, err := run(qctx, command, q.Args(user)...)
	if err == nil && qctx.Err() != nil {
		err = qctx.Err()
	}
	if err != nil {
		if errors.Is(qctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("squeue: timed out after %v: %w", timeout, err)
		} else {
			err = fmt.Errorf("squeue: %w", err)
		}
		return admission.Snapshot{}, &admission.QueryError{User: user, Err: err}
	}
	snap, err := ParseStates(out)
	if err != nil {
		return admission.Snapshot{}, &admission.QueryError{User: user, Err: err}
	}
	logger.DebugObj("squeue snapshot", snap)
	return snap, nil
}

// ParseStates counts compact state codes, one per line. Blank lines are
// skipped; anything that is not a state code is an error.
func ParseStates(out []byte) (admission.Snapshot, error) {
	var snap admission.Snapshot
	scanner := bufio.NewScanner(bytes.NewReader(out))
	line := 0
	for scanner.Scan() {
		line++
		state := strings.TrimSpace(scanner.Text())
		if len(state) == 0 {
			continue
		}
		if !isStateCode(state) {
			return admission.Snapshot{}, fmt.Errorf("squeue: line %d: unexpected output %q", line, state)
		}
		switch state {
		case StateRunning:
			snap.Running++
		case StatePending:
			snap.Pending++
		}
	}
	if err := scanner.Err(); err != nil {
		return admission.Snapshot{}, fmt.Errorf("squeue: %w", err)
	}
	return snap, nil
}

func isStateCode(s string) bool {
	if len(s) < 1 || len(s) > maxStateCodeLen {
		return false
	}
	for _, c := range s {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}
