// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"os"

	"github.com/hashicorp/cli"
	"github.com/hashicorp/muster/command/agent"
	"github.com/hashicorp/muster/version"
	colorable "github.com/mattn/go-colorable"
)

const (
	// EnvMusterCLINoColor is an env var that toggles colored UI output.
	EnvMusterCLINoColor = `MUSTER_CLI_NO_COLOR`

	// EnvMusterCLIForceColor is an env var that forces colored UI output.
	EnvMusterCLIForceColor = `MUSTER_CLI_FORCE_COLOR`
)

// NamedCommand is a interface to denote a commmand's name.
type NamedCommand interface {
	Name() string
}

// Commands returns the mapping of CLI commands for Muster. The meta
// parameter lets you set meta options for all commands.
func Commands(metaPtr *Meta, agentUi cli.Ui) map[string]cli.CommandFactory {
	if metaPtr == nil {
		metaPtr = new(Meta)
	}

	meta := *metaPtr
	if meta.Ui == nil {
		meta.Ui = &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      colorable.NewColorableStdout(),
			ErrorWriter: colorable.NewColorableStderr(),
		}
	}

	all := map[string]cli.CommandFactory{
		"agent": func() (cli.Command, error) {
			return &agent.Command{
				Version:    version.GetVersion(),
				Ui:         agentUi,
				ShutdownCh: make(chan struct{}),
			}, nil
		},
		"agent-info": func() (cli.Command, error) {
			return &AgentInfoCommand{
				Meta: meta,
			}, nil
		},
		"captcha": func() (cli.Command, error) {
			return &CaptchaCommand{
				Meta: meta,
			}, nil
		},
		"captcha stats": func() (cli.Command, error) {
			return &CaptchaStatsCommand{
				Meta: meta,
			}, nil
		},
		"gate": func() (cli.Command, error) {
			return &GateCommand{
				Meta: meta,
			}, nil
		},
		"gate status": func() (cli.Command, error) {
			return &GateStatusCommand{
				Meta: meta,
			}, nil
		},
		"session": func() (cli.Command, error) {
			return &SessionCommand{
				Meta: meta,
			}, nil
		},
		"session end": func() (cli.Command, error) {
			return &SessionEndCommand{
				Meta: meta,
			}, nil
		},
		"session list": func() (cli.Command, error) {
			return &SessionListCommand{
				Meta: meta,
			}, nil
		},
		"session status": func() (cli.Command, error) {
			return &SessionStatusCommand{
				Meta: meta,
			}, nil
		},
		"version": func() (cli.Command, error) {
			return &VersionCommand{
				Version: version.GetVersion(),
				Ui:      meta.Ui,
			}, nil
		},
	}

	return all
}
