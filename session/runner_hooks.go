// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package session

import (
	"fmt"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/hashicorp/muster/session/interfaces"
)

// initRunnerHooks initializes the runner's lifecycle hooks. Hooks for
// features the merged session config disables are not installed at all, so
// the rest of the runner never needs to re-check the config.
func (r *Runner) initRunnerHooks(cfg *runnerConfig) {
	hooks := make([]interfaces.RunnerHook, 0, 3)

	if *cfg.GateConfig.Enabled {
		timeout, _ := time.ParseDuration(*cfg.GateConfig.GateTimeout)
		hooks = append(hooks, newGateHook(r.logger, r.gates, r.events, r.id,
			cfg.Spec.ExpectedWorkers, *cfg.GateConfig.ReadyThresholdPercent, timeout))
	}

	hooks = append(hooks, newPoolHook(r.logger, r.accounts, r.proxies))

	if r.watcher != nil {
		hooks = append(hooks, newBanwatchHook(r.logger, r.watcher))
	}

	r.runnerHooks = hooks
}

// prerun is used to run the runner's prerun hooks.
func (r *Runner) prerun() error {
	for _, hook := range r.runnerHooks {
		pre, ok := hook.(interfaces.RunnerPrerunHook)
		if !ok {
			continue
		}

		name := pre.Name()
		start := time.Now()
		r.logger.Trace("running prerun hook", "name", name, "start", start)

		if err := pre.Prerun(); err != nil {
			return fmt.Errorf("prerun hook %q failed: %w", name, err)
		}

		r.logger.Trace("finished prerun hook", "name", name, "duration", time.Since(start))
	}

	return nil
}

// postrun is used to run the runner's postrun hooks. Every hook runs even
// when one fails, so one broken hook does not keep the others from cleaning
// up, and the errors are aggregated.
func (r *Runner) postrun() error {
	var mErr multierror.Error

	for _, hook := range r.runnerHooks {
		post, ok := hook.(interfaces.RunnerPostrunHook)
		if !ok {
			continue
		}

		name := post.Name()
		start := time.Now()
		r.logger.Trace("running postrun hook", "name", name, "start", start)

		if err := post.Postrun(); err != nil {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("postrun hook %q failed: %w", name, err))
		}

		r.logger.Trace("finished postrun hook", "name", name, "duration", time.Since(start))
	}

	return mErr.ErrorOrNil()
}

// shutdownHooks runs the shutdown method of every hook that has one.
func (r *Runner) shutdownHooks() {
	for _, hook := range r.runnerHooks {
		sh, ok := hook.(interfaces.ShutdownHook)
		if !ok {
			continue
		}

		name := sh.Name()
		r.logger.Trace("running shutdown hook", "name", name)
		sh.Shutdown()
	}
}
