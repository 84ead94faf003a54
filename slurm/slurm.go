package slurm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"jarvice.io/slurm-launcher/core"
	logger "jarvice.io/slurm-launcher/logger"
)

// Slurm CLI commands
const (
	SBatchName = "sbatch"
	SQueueName = "squeue"
)

// JobIDEnv is set by SLURM inside a running batch job.
const JobIDEnv = "SLURM_JOB_ID"

// LinkRunDir records a run of the job inside its tree: it links
// <job dir>/conf/<slurmJobID> to runDir unless that link already exists.
// It returns the link path and whether a new link was created.
func LinkRunDir(job *core.JobConfig, now time.Time, user, slurmJobID, runDir string) (string, bool, error) {
	if len(slurmJobID) == 0 {
		return "", false, errors.New("symlink: " + JobIDEnv + " is not set")
	}
	confDir := job.Layout().ConfDir(now, user, job.Name)
	link := filepath.Join(confDir, slurmJobID)
	if _, err := os.Lstat(link); err == nil {
		return link, false, nil
	} else if !os.IsNotExist(err) {
		return "", false, err
	}
	logger.InfoPrintf("Symlinking %s : %s", runDir, confDir)
	if err := os.MkdirAll(confDir, 0755); err != nil {
		return "", false, err
	}
	if err := os.Symlink(runDir, link); err != nil {
		return "", false, fmt.Errorf("symlink: %w", err)
	}
	return link, true, nil
}
