// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import "github.com/hashicorp/cli"

type GateCommand struct {
	Meta
}

func (f *GateCommand) Help() string {
	return "This command is accessed by using one of the subcommands below."
}

func (f *GateCommand) Synopsis() string {
	return "Inspect a session's rendezvous gate"
}

func (f *GateCommand) Name() string { return "gate" }

func (f *GateCommand) Run(args []string) int {
	return cli.RunResultHelp
}
