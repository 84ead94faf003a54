package main

import (
	"fmt"
	"time"

	"jarvice.io/slurm-launcher/slurm"
)

type RenderCommand struct {
	Config LauncherConfigFlags `group:"Configuration Options"`
	Args   OverrideArgs        `positional-args:"true"`
}

var renderCommand RenderCommand

func (x *RenderCommand) Execute(args []string) error {
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
	artifact, err := (&slurm.Renderer{Now: time.Now(), User: user}).Render(job)
	if err != nil {
		return err
	}
	fmt.Println(artifact.BatchPath)
	fmt.Println(artifact.ScriptPath)
	return nil
}

func init() {
	parser.AddCommand("render",
		"Render one job",
		"Write the batch file and run script of a single job without submitting it. The sweep is ignored; overrides select the job.",
		&renderCommand)
}
