package core

import (
	"path/filepath"
	"testing"
	"time"
)

func intPtr(i int) *int { return &i }

func TestEffectiveDate(t *testing.T) {
	early := time.Date(2024, 3, 1, 4, 30, 0, 0, time.UTC)
	late := time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		now    time.Time
		cutoff *int
		want   string
	}{
		{"no cutoff", early, nil, "2024-03-01"},
		{"before cutoff", early, intPtr(6), "2024-02-29"},
		{"after cutoff", late, intPtr(6), "2024-03-01"},
		{"at cutoff", time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC), intPtr(6), "2024-03-01"},
		{"zero cutoff", early, intPtr(0), "2024-03-01"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := EffectiveDate(c.now, c.cutoff).Format(DateLayout); got != c.want {
				t.Fatalf("got %s, want %s", got, c.want)
			}
		})
	}
}

func TestLayoutPaths(t *testing.T) {
	now := time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)
	l := Layout{Root: "/scratch/ssd001/home/$USER"}
	jobDir := l.JobDir(now, "alice", "exp_lr_0.1")
	if want := "/scratch/ssd001/home/alice/slurm/2024-03-01/exp_lr_0.1"; jobDir != want {
		t.Fatalf("JobDir = %s, want %s", jobDir, want)
	}
	if got, want := l.BatchPath(now, "alice", "exp_lr_0.1"), filepath.Join(jobDir, "scripts", "exp_lr_0.1.slrm"); got != want {
		t.Fatalf("BatchPath = %s, want %s", got, want)
	}
	if got, want := l.ScriptPath(now, "alice", "exp_lr_0.1"), filepath.Join(jobDir, "scripts", "exp_lr_0.1.sh"); got != want {
		t.Fatalf("ScriptPath = %s, want %s", got, want)
	}
	if got, want := l.LogDir(now, "alice", "exp_lr_0.1"), filepath.Join(jobDir, "log"); got != want {
		t.Fatalf("LogDir = %s, want %s", got, want)
	}
	if got, want := l.ConfDir(now, "alice", "exp_lr_0.1"), filepath.Join(jobDir, "conf"); got != want {
		t.Fatalf("ConfDir = %s, want %s", got, want)
	}
}

func TestLayoutIsDeterministic(t *testing.T) {
	now := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)
	l := Layout{Root: "/data/${USER}", NextDay: intPtr(5)}
	first := l.BatchPath(now, "bob", "job")
	for i := 0; i < 3; i++ {
		if again := l.BatchPath(now, "bob", "job"); again != first {
			t.Fatalf("BatchPath changed: %s then %s", first, again)
		}
	}
	if want := "/data/bob/slurm/2024-02-29/job/scripts/job.slrm"; first != want {
		t.Fatalf("got %s, want %s", first, want)
	}
}
