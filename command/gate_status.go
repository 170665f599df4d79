// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"fmt"
	"strings"

	"github.com/posener/complete"
)

type GateStatusCommand struct {
	Meta
}

func (c *GateStatusCommand) Help() string {
	helpText := `
Usage: muster gate status [options]

  Status is used to view a session's rendezvous gate: whether it is open,
  how many workers have reported ready, and how many are required before
  the gate releases.

General Options:

  ` + generalOptionsUsage() + `

Gate Status Options:

  -session=<id>
    The ID of the session whose gate to inspect. Required.

  -json
    Output the gate status in its JSON format.

  -t
    Format and display the gate status using a Go template.
`
	return strings.TrimSpace(helpText)
}

func (c *GateStatusCommand) AutocompleteFlags() complete.Flags {
	return mergeAutocompleteFlags(c.Meta.AutocompleteFlags(FlagSetClient),
		complete.Flags{
			"-session": complete.PredictAnything,
			"-json":    complete.PredictNothing,
			"-t":       complete.PredictAnything,
		})
}

func (c *GateStatusCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *GateStatusCommand) Synopsis() string {
	return "Display the status of a session's gate"
}

func (c *GateStatusCommand) Name() string { return "gate status" }

func (c *GateStatusCommand) Run(args []string) int {
	var sessionID, tmpl string
	var json bool

	flags := c.Meta.FlagSet(c.Name(), FlagSetClient)
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.StringVar(&sessionID, "session", "", "")
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

	if sessionID == "" {
		c.Ui.Error("The -session flag is required")
		c.Ui.Error(commandErrorText(c))
		return 1
	}

	// Get the HTTP client
	client, err := c.Meta.Client()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error initializing client: %s", err))
		return 1
	}

	gate, err := client.Sessions().Gate(sessionID, nil)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error retrieving gate status: %s", err))
		return 1
	}

	if json || len(tmpl) > 0 {
		out, err := Format(json, tmpl, gate)
		if err != nil {
			c.Ui.Error(err.Error())
			return 1
		}

		c.Ui.Output(out)
		return 0
	}

	c.Ui.Output(formatGateStatus(gate))

	if !gate.Enabled {
		c.Ui.Output("")
		c.Ui.Output(wrapAtLength("The gate is disabled for this session. Workers are " +
			"never held back and every wait returns immediately."))
	}

	return 0
}
