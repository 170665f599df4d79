// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import "github.com/hashicorp/cli"

type SessionCommand struct {
	Meta
}

func (f *SessionCommand) Help() string {
	return "This command is accessed by using one of the subcommands below."
}

func (f *SessionCommand) Synopsis() string {
	return "Interact with scrape sessions"
}

func (f *SessionCommand) Name() string { return "session" }

func (f *SessionCommand) Run(args []string) int {
	return cli.RunResultHelp
}
