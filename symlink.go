package main

import (
	"fmt"
	"os"
	"time"

	"jarvice.io/slurm-launcher/core"
	"jarvice.io/slurm-launcher/slurm"
)

type SymlinkCommand struct {
	Config LauncherConfigFlags `group:"Configuration Options"`
	Cwd    string              `long:"cwd" description:"run directory to link (default current directory)"`
	Date   string              `long:"date" description:"launch date YYYY-MM-DD of the job tree (default today)"`
	Args   OverrideArgs        `positional-args:"true"`
}

var symlinkCommand SymlinkCommand

// launchTime turns a --date value into a time on that day. The last second
// of the day is never before a next_day cutoff, so the date is used as is.
func launchTime(date string) (time.Time, error) {
	if len(date) == 0 {
		return time.Now(), nil
	}
	day, err := time.ParseInLocation(core.DateLayout, date, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("symlink: --date: %w", err)
	}
	return day.Add(24*time.Hour - time.Second), nil
}

func (x *SymlinkCommand) Execute(args []string) error {
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
	job, err := cfg.Job(x.Args.Overrides)
	if err != nil {
		return err
	}
	now, err := launchTime(x.Date)
	if err != nil {
		return err
	}
	cwd := x.Cwd
	if len(cwd) == 0 {
		if cwd, err = os.Getwd(); err != nil {
			return err
		}
	}
	link, created, err := slurm.LinkRunDir(job, now, user, os.Getenv(slurm.JobIDEnv), cwd)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("%s -> %s\n", link, cwd)
	}
	return nil
}

func init() {
	parser.AddCommand("symlink",
		"Link a run into its job tree",
		"Inside a running batch job, link <job dir>/conf/$SLURM_JOB_ID to the run directory unless the link exists.",
		&symlinkCommand)
}
