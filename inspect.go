package main

import (
	"fmt"
	"strings"

	"jarvice.io/slurm-launcher/core"
	logger "jarvice.io/slurm-launcher/logger"
	"jarvice.io/slurm-launcher/slurm"
)

type InspectCommand struct {
	Help bool `short:"h" long:"help" description:"Show this help message"`
	Args struct {
		BatchFile string `positional-arg-name:"batch file" description:"rendered .slrm file"`
	} `positional-args:"true" required:"1"`
}

var inspectCommand InspectCommand

func printDirectives(script slurm.BatchScript) {
	table := [][]string{{"OPTION", "VALUE"}}
	for _, d := range script.Directives {
		table = append(table, []string{d.Option, d.Value})
	}
	core.PrintTable(table, false)
}

func (x *InspectCommand) Execute(args []string) error {
	if x.Help {
		return createHelpErr()
	}
	script, err := slurm.ReadBatchFile(x.Args.BatchFile)
	if err != nil {
		return err
	}
	if len(script.Directives) == 0 {
		return fmt.Errorf("%s: %w", x.Args.BatchFile, slurm.ErrNoDirectives)
	}
	if len(script.Unsupported) > 0 {
		logger.WarningPrintf("unsupported options: %s", strings.Join(script.Unsupported, " "))
	}
	logger.DebugObj("batch script", script)
	printDirectives(script)
	return nil
}

func init() {
	parser.AddCommand("inspect",
		"Show batch directives",
		"Read back the #SBATCH header of a batch file.",
		&inspectCommand)
}
