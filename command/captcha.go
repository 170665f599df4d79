// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import "github.com/hashicorp/cli"

type CaptchaCommand struct {
	Meta
}

func (f *CaptchaCommand) Help() string {
	return "This command is accessed by using one of the subcommands below."
}

func (f *CaptchaCommand) Synopsis() string {
	return "Interact with the captcha answer cache"
}

func (f *CaptchaCommand) Name() string { return "captcha" }

func (f *CaptchaCommand) Run(args []string) int {
	return cli.RunResultHelp
}
