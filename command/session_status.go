// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"fmt"
	"strings"

	"github.com/hashicorp/muster/api"
	"github.com/posener/complete"
)

type SessionStatusCommand struct {
	Meta
}

func (c *SessionStatusCommand) Help() string {
	helpText := `
Usage: muster session status [options] <session>

  Status is used to view the details of a single session, including its
  rendezvous gate and resource pools.

General Options:

  ` + generalOptionsUsage() + `

Status Options:

  -json
    Output the session in its JSON format.

  -t
    Format and display the session using a Go template.
`
	return strings.TrimSpace(helpText)
}

func (c *SessionStatusCommand) AutocompleteFlags() complete.Flags {
	return mergeAutocompleteFlags(c.Meta.AutocompleteFlags(FlagSetClient),
		complete.Flags{
			"-json": complete.PredictNothing,
			"-t":    complete.PredictAnything,
		})
}

func (c *SessionStatusCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *SessionStatusCommand) Synopsis() string {
	return "Display a session's status and gate progress"
}

func (c *SessionStatusCommand) Name() string { return "session status" }

func (c *SessionStatusCommand) Run(args []string) int {
	var json bool
	var tmpl string

	flags := c.Meta.FlagSet(c.Name(), FlagSetClient)
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.BoolVar(&json, "json", false, "")
	flags.StringVar(&tmpl, "t", "", "")

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

	session, err := client.Sessions().Info(args[0], nil)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error retrieving session: %s", err))
		return 1
	}

	if json || len(tmpl) > 0 {
		out, err := Format(json, tmpl, session)
		if err != nil {
			c.Ui.Error(err.Error())
			return 1
		}

		c.Ui.Output(out)
		return 0
	}

	c.Ui.Output(formatSessionBasics(session))

	if session.Gate != nil {
		c.Ui.Output(c.Colorize().Color("\n[bold]Gate[reset]"))
		c.Ui.Output(formatGateStatus(session.Gate))
	}

	if session.Pools != nil {
		c.Ui.Output(c.Colorize().Color("\n[bold]Pools[reset]"))
		c.Ui.Output(formatKV([]string{
			fmt.Sprintf("Accounts Active|%d", session.Pools.AccountsActive),
			fmt.Sprintf("Accounts Reserve|%d", session.Pools.AccountsReserve),
			fmt.Sprintf("Accounts Banned|%d", session.Pools.AccountsBanned),
			fmt.Sprintf("Proxies Available|%d", session.Pools.ProxiesAvailable),
			fmt.Sprintf("Proxies Quarantined|%d", session.Pools.ProxiesQuarantined),
		}))
	}

	return 0
}

func formatSessionBasics(session *api.Session) string {
	return formatKV([]string{
		fmt.Sprintf("ID|%s", session.ID),
		fmt.Sprintf("Name|%s", session.Name),
		fmt.Sprintf("Target|%s", session.Target),
		fmt.Sprintf("Status|%s", session.Status),
		fmt.Sprintf("Expected Workers|%d", session.ExpectedWorkers),
		fmt.Sprintf("Banned Accounts|%d", session.BannedAccounts),
		fmt.Sprintf("Banned Addresses|%d", session.BannedAddresses),
		fmt.Sprintf("Created|%s", formatUnixNanoTime(session.CreateTime)),
		fmt.Sprintf("Modified|%s", formatUnixNanoTime(session.ModifyTime)),
	})
}

func formatGateStatus(gate *api.GateStatus) string {
	out := []string{
		fmt.Sprintf("Enabled|%v", gate.Enabled),
		fmt.Sprintf("Open|%v", gate.Open),
		fmt.Sprintf("Workers Ready|%d", gate.ReadyCount),
		fmt.Sprintf("Required|%d", gate.Required),
		fmt.Sprintf("Expected|%d", gate.Expected),
	}
	if gate.OpenedAt > 0 {
		out = append(out, fmt.Sprintf("Opened At|%s", formatUnixNanoTime(gate.OpenedAt)))
	}
	return formatKV(out)
}
