package core

import (
	"os"
	"path/filepath"
	"time"
)

// Job tree layout:
//
//	<root>/slurm/<YYYY-MM-DD>/<job name>/
//	├── scripts/  <- <job name>.slrm and <job name>.sh
//	├── log/      <- %j.out / %j.err unless overridden
//	└── conf/     <- <SLURM_JOB_ID> symlinks to the run directories
const (
	SlurmDirName    = "slurm"
	ScriptsDirName  = "scripts"
	LogDirName      = "log"
	ConfDirName     = "conf"
	LaunchesDirName = "launches"

	BatchFileExt  = ".slrm"
	ScriptFileExt = ".sh"

	DateLayout = "2006-01-02"
)

// EffectiveDate returns the date a launch is filed under. Launches before
// cutoffHour count towards the previous day so that a sweep started shortly
// after midnight lands next to the one started the evening before.
func EffectiveDate(now time.Time, cutoffHour *int) time.Time {
	if cutoffHour != nil && now.Hour() < *cutoffHour {
		return now.AddDate(0, 0, -1)
	}
	return now
}

// Layout computes where a job's files live.
type Layout struct {
	// Root may reference $USER, which expands to the user passed in.
	Root    string
	NextDay *int
}

// RootDir expands Root for user. Other variables come from the environment.
func (l Layout) RootDir(user string) string {
	return os.Expand(l.Root, func(key string) string {
		if key == "USER" {
			return user
		}
		return os.Getenv(key)
	})
}

// DateDir is the per-day directory holding every job launched that day.
func (l Layout) DateDir(now time.Time, user string) string {
	date := EffectiveDate(now, l.NextDay).Format(DateLayout)
	return filepath.Join(l.RootDir(user), SlurmDirName, date)
}

// JobDir is the directory of one job.
func (l Layout) JobDir(now time.Time, user, jobName string) string {
	return filepath.Join(l.DateDir(now, user), jobName)
}

// ScriptsDir holds the rendered batch file and run script.
func (l Layout) ScriptsDir(now time.Time, user, jobName string) string {
	return filepath.Join(l.JobDir(now, user, jobName), ScriptsDirName)
}

// BatchPath is <job dir>/scripts/<job name>.slrm.
func (l Layout) BatchPath(now time.Time, user, jobName string) string {
	return filepath.Join(l.ScriptsDir(now, user, jobName), jobName+BatchFileExt)
}

// ScriptPath is <job dir>/scripts/<job name>.sh.
func (l Layout) ScriptPath(now time.Time, user, jobName string) string {
	return filepath.Join(l.ScriptsDir(now, user, jobName), jobName+ScriptFileExt)
}

// LogDir is the default destination of the job's stdout and stderr.
func (l Layout) LogDir(now time.Time, user, jobName string) string {
	return filepath.Join(l.JobDir(now, user, jobName), LogDirName)
}

// ConfDir collects links to the run directories of the job's executions.
func (l Layout) ConfDir(now time.Time, user, jobName string) string {
	return filepath.Join(l.JobDir(now, user, jobName), ConfDirName)
}

// LaunchesDir holds the manifests of the day's launches.
func (l Layout) LaunchesDir(now time.Time, user string) string {
	return filepath.Join(l.DateDir(now, user), LaunchesDirName)
}
