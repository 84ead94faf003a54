package slurm

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"jarvice.io/slurm-launcher/core"
)

func TestLinkRunDir(t *testing.T) {
	root := t.TempDir()
	runDir := t.TempDir()
	job := &core.JobConfig{Name: "exp", Root: root}
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	link, created, err := LinkRunDir(job, now, "alice", "4242", runDir)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected a new link")
	}
	if want := filepath.Join(root, "slurm", "2024-03-01", "exp", "conf", "4242"); link != want {
		t.Fatalf("link %q, want %q", link, want)
	}
	if target, err := os.Readlink(link); err != nil || target != runDir {
		t.Fatalf("readlink %q, %v", target, err)
	}

	again, created, err := LinkRunDir(job, now, "alice", "4242", runDir)
	if err != nil || created || again != link {
		t.Fatalf("second call: %q, %v, %v", again, created, err)
	}
}

func TestLinkRunDirRequiresJobID(t *testing.T) {
	job := &core.JobConfig{Name: "exp", Root: t.TempDir()}
	if _, _, err := LinkRunDir(job, time.Now(), "alice", "", "/tmp"); err == nil {
		t.Fatal("expected error")
	}
}
