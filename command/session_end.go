// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"fmt"
	"strings"

	"github.com/posener/complete"
)

type SessionEndCommand struct {
	Meta
}

func (c *SessionEndCommand) Help() string {
	helpText := `
Usage: muster session end [options] <session>

  End is used to stop a session. Ending a session forces its gate open so
  that no worker is left waiting, releases its resource pools, and stops
  its ban watcher.

General Options:

  ` + generalOptionsUsage()
	return strings.TrimSpace(helpText)
}

func (c *SessionEndCommand) AutocompleteFlags() complete.Flags {
	return c.Meta.AutocompleteFlags(FlagSetClient)
}

func (c *SessionEndCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *SessionEndCommand) Synopsis() string {
	return "End a session and release its workers"
}

func (c *SessionEndCommand) Name() string { return "session end" }

func (c *SessionEndCommand) Run(args []string) int {
	flags := c.Meta.FlagSet(c.Name(), FlagSetClient)
	flags.Usage = func() { c.Ui.Output(c.Help()) }

	if err := flags.Parse(args); err != nil {
		return 1
	}

	// Check that we got exactly one argument
	args = flags.Args()
	if l := len(args); l != 1 {
		c.Ui.Error("This command takes one argument: <session>")
		c.Ui.Error(commandErrorText(c))
		return 1
	}

	// Get the HTTP client
	client, err := c.Meta.Client()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error initializing client: %s", err))
		return 1
	}

	session, err := client.Sessions().End(args[0], nil)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error ending session: %s", err))
		return 1
	}

	c.Ui.Output(fmt.Sprintf("Successfully ended session %q!", session.ID))
	return 0
}
