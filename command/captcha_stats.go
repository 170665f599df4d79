// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"fmt"
	"strings"

	"github.com/hashicorp/muster/api"
	"github.com/posener/complete"
)

type CaptchaStatsCommand struct {
	Meta
}

func (c *CaptchaStatsCommand) Help() string {
	helpText := `
Usage: muster captcha stats [options]

  Stats is used to view hit and miss counters for the agent's captcha
  answer cache, either aggregated or for a single target.

General Options:

  ` + generalOptionsUsage() + `

Stats Options:

  -target=<target>
    Only show statistics for the given target.

  -json
    Output the statistics in a JSON format.

  -t
    Format and display the statistics using a Go template.
`
	return strings.TrimSpace(helpText)
}

func (c *CaptchaStatsCommand) AutocompleteFlags() complete.Flags {
	return mergeAutocompleteFlags(c.Meta.AutocompleteFlags(FlagSetClient),
		complete.Flags{
			"-target": complete.PredictAnything,
			"-json":   complete.PredictNothing,
			"-t":      complete.PredictAnything,
		})
}

func (c *CaptchaStatsCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *CaptchaStatsCommand) Synopsis() string {
	return "Display captcha cache statistics"
}

func (c *CaptchaStatsCommand) Name() string { return "captcha stats" }

func (c *CaptchaStatsCommand) Run(args []string) int {
	var target, tmpl string
	var json bool

	flags := c.Meta.FlagSet(c.Name(), FlagSetClient)
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.StringVar(&target, "target", "", "")
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

	if target != "" {
		stats, err := client.Captcha().TargetStats(target, nil)
		if err != nil {
			c.Ui.Error(fmt.Sprintf("Error retrieving captcha stats: %s", err))
			return 1
		}

		if json || len(tmpl) > 0 {
			out, err := Format(json, tmpl, stats)
			if err != nil {
				c.Ui.Error(err.Error())
				return 1
			}

			c.Ui.Output(out)
			return 0
		}

		c.Ui.Output(formatCaptchaStats(stats))
		return 0
	}

	resp, err := client.Captcha().Stats(nil)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error retrieving captcha stats: %s", err))
		return 1
	}

	if json || len(tmpl) > 0 {
		out, err := Format(json, tmpl, resp)
		if err != nil {
			c.Ui.Error(err.Error())
			return 1
		}

		c.Ui.Output(out)
		return 0
	}

	c.Ui.Output(formatCaptchaStats(resp.Total))

	if len(resp.Targets) > 0 {
		c.Ui.Output(c.Colorize().Color("\n[bold]Targets[reset]"))
		c.Ui.Output(formatCaptchaTargets(resp.Targets))
	}

	return 0
}

func formatCaptchaStats(stats *api.CaptchaStats) string {
	return formatKV([]string{
		fmt.Sprintf("Entries|%d", stats.Size),
		fmt.Sprintf("Hits|%d", stats.Hits),
		fmt.Sprintf("Misses|%d", stats.Misses),
		fmt.Sprintf("Hit Rate|%.1f%%", stats.HitRate*100),
	})
}

func formatCaptchaTargets(targets []*api.CaptchaStats) string {
	rows := make([]string, len(targets)+1)
	rows[0] = "Target|Entries|Hits|Misses|Hit Rate"
	for i, s := range targets {
		rows[i+1] = fmt.Sprintf("%s|%d|%d|%d|%.1f%%",
			s.Target,
			s.Size,
			s.Hits,
			s.Misses,
			s.HitRate*100)
	}
	return formatList(rows)
}
