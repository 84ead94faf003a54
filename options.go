package main

import (
	"errors"
	"os"

	"jarvice.io/slurm-launcher/core"
)

type LauncherConfigFlags struct {
	Help   bool   `short:"h" long:"help" description:"Show this help message"`
	Config string `short:"c" long:"config" description:"job configuration file" default:"slurm.yaml"`
	User   string `short:"u" long:"user" description:"user whose queue and job tree are used (default $USER)"`
}

type OverrideArgs struct {
	Overrides []string `positional-arg-name:"key=value" description:"configuration overrides"`
}

func (x *LauncherConfigFlags) user() (string, error) {
	return resolveUser(x.User)
}

func (x *LauncherConfigFlags) load() (*core.Config, error) {
	return core.LoadConfig(x.Config)
}

func resolveUser(explicit string) (string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	if env := os.Getenv("USER"); len(env) > 0 {
		return env, nil
	}
	return "", errors.New("cannot determine user: set $USER or pass --user")
}
