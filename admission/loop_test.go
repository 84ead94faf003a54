package admission

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeQueue replays snapshots in order and counts polls.
type fakeQueue struct {
	snaps []Snapshot
	err   error
	polls int
}

func (q *fakeQueue) Poll(ctx context.Context, user string) (Snapshot, error) {
	q.polls++
	if q.err != nil {
		return Snapshot{}, q.err
	}
	if len(q.snaps) == 0 {
		return Snapshot{}, errors.New("no more snapshots")
	}
	s := q.snaps[0]
	q.snaps = q.snaps[1:]
	return s, nil
}

type fakeSubmitter struct {
	submitted []string
	fail      map[string]error
}

func (s *fakeSubmitter) Submit(ctx context.Context, a Artifact) (string, error) {
	if err := s.fail[a.BatchPath]; err != nil {
		return "", err
	}
	s.submitted = append(s.submitted, a.BatchPath)
	return "42", nil
}

func writeArtifact(t *testing.T, dir, name string) Artifact {
	t.Helper()
	a := Artifact{
		BatchPath:  filepath.Join(dir, name+".slrm"),
		ScriptPath: filepath.Join(dir, name+".sh"),
	}
	for _, p := range []string{a.BatchPath, a.ScriptPath} {
		if err := os.WriteFile(p, []byte("#!/bin/bash\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return a
}

func noSleep(slept *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return ctx.Err()
	}
}

func TestRunWaitsUntilQueueDrains(t *testing.T) {
	a := writeArtifact(t, t.TempDir(), "job")
	q := &fakeQueue{snaps: []Snapshot{{2, 0}, {2, 0}, {1, 0}}}
	sub := &fakeSubmitter{}
	var decisions []Decision
	var slept []time.Duration
	l := &Loop{
		Source:    q,
		Submitter: sub,
		User:      "alice",
		Limits:    Limits{MaxRunning: 2, MaxPending: Unbounded},
		OnPoll:    func(_ Snapshot, d Decision) { decisions = append(decisions, d) },
		Sleep:     noSleep(&slept),
	}
	id, err := l.Run(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	if id != "42" {
		t.Fatalf("job id %q, want 42", id)
	}
	want := []Decision{Wait(DefaultPollDelay), Wait(DefaultPollDelay), Allow()}
	if len(decisions) != len(want) {
		t.Fatalf("decisions %v, want %v", decisions, want)
	}
	for i := range want {
		if decisions[i] != want[i] {
			t.Fatalf("decision %d = %v, want %v", i, decisions[i], want[i])
		}
	}
	if q.polls != 3 {
		t.Fatalf("polled %d times, want 3", q.polls)
	}
	if len(slept) != 2 || slept[0] != DefaultPollDelay {
		t.Fatalf("slept %v", slept)
	}
	if len(sub.submitted) != 1 {
		t.Fatalf("submitted %d times, want 1", len(sub.submitted))
	}
}

func TestRunUnboundedSkipsPolling(t *testing.T) {
	a := writeArtifact(t, t.TempDir(), "job")
	q := &fakeQueue{}
	sub := &fakeSubmitter{}
	l := &Loop{Source: q, Submitter: sub, Limits: NoLimits()}
	if _, err := l.Run(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if q.polls != 0 {
		t.Fatalf("polled %d times, want 0", q.polls)
	}
	if len(sub.submitted) != 1 {
		t.Fatalf("submitted %d times, want 1", len(sub.submitted))
	}
}

func TestRunSurfacesQueryError(t *testing.T) {
	a := writeArtifact(t, t.TempDir(), "job")
	cause := errors.New("squeue: command not found")
	q := &fakeQueue{err: cause}
	sub := &fakeSubmitter{}
	l := &Loop{Source: q, Submitter: sub, User: "alice", Limits: Limits{1, 1}}
	_, err := l.Run(context.Background(), a)
	var qerr *QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("got %v, want QueryError", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("QueryError does not wrap cause: %v", err)
	}
	if q.polls != 1 {
		t.Fatalf("polled %d times, want 1", q.polls)
	}
	if len(sub.submitted) != 0 {
		t.Fatal("submitted despite query failure")
	}
}

func TestRunMissingArtifact(t *testing.T) {
	l := &Loop{Source: &fakeQueue{}, Submitter: &fakeSubmitter{}, Limits: NoLimits()}
	_, err := l.Run(context.Background(), Artifact{BatchPath: filepath.Join(t.TempDir(), "nope.slrm")})
	var missing *ArtifactMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("got %v, want ArtifactMissingError", err)
	}
}

func TestRunCancelledWhileWaiting(t *testing.T) {
	a := writeArtifact(t, t.TempDir(), "job")
	ctx, cancel := context.WithCancel(context.Background())
	q := &fakeQueue{snaps: []Snapshot{{5, 0}, {5, 0}}}
	sub := &fakeSubmitter{}
	l := &Loop{
		Source:    q,
		Submitter: sub,
		Limits:    Limits{MaxRunning: 1, MaxPending: Unbounded},
		Delay:     time.Hour,
		OnPoll:    func(Snapshot, Decision) { cancel() },
	}
	_, err := l.Run(ctx, a)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if q.polls != 1 || len(sub.submitted) != 0 {
		t.Fatalf("polls=%d submitted=%d", q.polls, len(sub.submitted))
	}
}

func TestRunBatchContinuesAfterSubmitError(t *testing.T) {
	dir := t.TempDir()
	jobs := []Job{
		{Name: "one", Artifact: writeArtifact(t, dir, "one")},
		{Name: "two", Artifact: writeArtifact(t, dir, "two")},
		{Name: "three", Artifact: writeArtifact(t, dir, "three")},
	}
	submitErr := &SubmitError{Path: jobs[1].Artifact.BatchPath, Err: errors.New("exit status 1")}
	sub := &fakeSubmitter{fail: map[string]error{jobs[1].Artifact.BatchPath: submitErr}}
	var slept []time.Duration
	l := &Loop{
		Source:    &fakeQueue{snaps: []Snapshot{{0, 0}, {1, 0}, {1, 0}}},
		Submitter: sub,
		Limits:    Limits{MaxRunning: 10, MaxPending: 10},
		Pause:     time.Second,
		Sleep:     noSleep(&slept),
	}
	out := l.RunBatch(context.Background(), jobs)
	if len(out) != 3 {
		t.Fatalf("got %d outcomes", len(out))
	}
	if out[0].Err != nil || out[0].JobID != "42" {
		t.Fatalf("job one: %+v", out[0])
	}
	var serr *SubmitError
	if !errors.As(out[1].Err, &serr) {
		t.Fatalf("job two: got %v, want SubmitError", out[1].Err)
	}
	if out[2].Err != nil {
		t.Fatalf("job three: %v", out[2].Err)
	}
	want := []string{jobs[0].Artifact.BatchPath, jobs[2].Artifact.BatchPath}
	if len(sub.submitted) != 2 || sub.submitted[0] != want[0] || sub.submitted[1] != want[1] {
		t.Fatalf("submitted %v, want %v", sub.submitted, want)
	}
	if len(slept) != 2 {
		t.Fatalf("paused %d times, want 2", len(slept))
	}
}

func TestRunBatchStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	sub := SubmitterFunc(func(context.Context, Artifact) (string, error) {
		cancel()
		return "1", nil
	})
	l := &Loop{Submitter: sub, Limits: NoLimits()}
	out := l.RunBatch(ctx, []Job{
		{Name: "a", Artifact: writeArtifact(t, dir, "a")},
		{Name: "b", Artifact: writeArtifact(t, dir, "b")},
	})
	if out[0].Err != nil {
		t.Fatalf("first job: %v", out[0].Err)
	}
	if !errors.Is(out[1].Err, context.Canceled) {
		t.Fatalf("second job: got %v, want context.Canceled", out[1].Err)
	}
}
