// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"fmt"
	"strings"

	"github.com/hashicorp/muster/api"
	"github.com/posener/complete"
)

type SessionListCommand struct {
	Meta
}

func (c *SessionListCommand) Help() string {
	helpText := `
Usage: muster session list [options]

  List is used to list the sessions tracked by the agent.

General Options:

  ` + generalOptionsUsage() + `

List Options:

  -verbose
    Show full session IDs.

  -json
    Output the sessions in a JSON format.

  -t
    Format and display the sessions using a Go template.
`
	return strings.TrimSpace(helpText)
}

func (c *SessionListCommand) AutocompleteFlags() complete.Flags {
	return mergeAutocompleteFlags(c.Meta.AutocompleteFlags(FlagSetClient),
		complete.Flags{
			"-verbose": complete.PredictNothing,
			"-json":    complete.PredictNothing,
			"-t":       complete.PredictAnything,
		})
}

func (c *SessionListCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *SessionListCommand) Synopsis() string {
	return "List sessions"
}

func (c *SessionListCommand) Name() string { return "session list" }

func (c *SessionListCommand) Run(args []string) int {
	var verbose, json bool
	var tmpl string

	flags := c.Meta.FlagSet(c.Name(), FlagSetClient)
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.BoolVar(&verbose, "verbose", false, "")
	flags.BoolVar(&json, "json", false, "")
	flags.StringVar(&tmpl, "t", "", "")

	if err := flags.Parse(args); err != nil {
		return 1
	}

	// Check that we got no arguments
	args = flags.Args()
	if l := len(args); l != 0 {
		c.Ui.Error("This command takes no arguments")
		c.Ui.Error(commandErrorText(c))
		return 1
	}

	// Get the HTTP client
	client, err := c.Meta.Client()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error initializing client: %s", err))
		return 1
	}

	sessions, err := client.Sessions().List(nil)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error retrieving sessions: %s", err))
		return 1
	}

	if json || len(tmpl) > 0 {
		out, err := Format(json, tmpl, sessions)
		if err != nil {
			c.Ui.Error(err.Error())
			return 1
		}

		c.Ui.Output(out)
		return 0
	}

	c.Ui.Output(formatSessionList(sessions, verbose))
	return 0
}

func formatSessionList(sessions []*api.SessionListStub, verbose bool) string {
	if len(sessions) == 0 {
		return "No sessions found"
	}

	// Truncate IDs unless full length is requested
	length := shortId
	if verbose {
		length = fullId
	}

	rows := make([]string, len(sessions)+1)
	rows[0] = "ID|Name|Target|Status|Workers Ready|Gate"
	for i, s := range sessions {
		rows[i+1] = fmt.Sprintf("%s|%s|%s|%s|%d/%d|%s",
			limit(s.ID, length),
			s.Name,
			s.Target,
			s.Status,
			s.ReadyWorkers,
			s.ExpectedWorkers,
			gateStateString(s.GateOpen))
	}
	return formatList(rows)
}

func gateStateString(open bool) string {
	if open {
		return "open"
	}
	return "closed"
}
