package main

import (
	"context"
	"strconv"

	"jarvice.io/slurm-launcher/admission"
	"jarvice.io/slurm-launcher/core"
	"jarvice.io/slurm-launcher/slurm"
)

type QueueCommand struct {
	Help       bool   `short:"h" long:"help" description:"Show this help message"`
	User       string `short:"u" long:"user" description:"user whose jobs are counted (default $USER)"`
	MaxRunning int    `long:"max-running" description:"show the decision for this running limit" default:"-1"`
	MaxPending int    `long:"max-pending" description:"show the decision for this pending limit" default:"-1"`
}

var queueCommand QueueCommand

func printSnapshot(user string, snap admission.Snapshot, decision admission.Decision) {
	table := [][]string{
		{"USER", "RUNNING", "PENDING", "DECISION"},
		{user, strconv.Itoa(snap.Running), strconv.Itoa(snap.Pending), decision.String()},
	}
	core.PrintTable(table, false)
}

func (x *QueueCommand) Execute(args []string) error {
	if x.Help {
		return createHelpErr()
	}
	user, err := resolveUser(x.User)
	if err != nil {
		return err
	}
	limits := admission.Limits{MaxRunning: x.MaxRunning, MaxPending: x.MaxPending}
	if err := limits.Validate(); err != nil {
		return err
	}
	snap, err := slurm.NewSQueue(slurm.DefaultQueryRate).Poll(context.Background(), user)
	if err != nil {
		return err
	}
	printSnapshot(user, snap, admission.Decide(snap, limits))
	return nil
}

func init() {
	parser.AddCommand("queue",
		"Show queue occupancy",
		"Count the user's running and pending jobs the way the launcher does before each submission.",
		&queueCommand)
}
