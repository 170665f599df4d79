// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hashicorp/muster/ci"
	"github.com/hashicorp/muster/gate"
	"github.com/hashicorp/muster/helper/pointer"
	"github.com/hashicorp/muster/helper/testlog"
	"github.com/hashicorp/muster/helper/uuid"
	"github.com/hashicorp/muster/session/interfaces"
	"github.com/hashicorp/muster/stream"
	"github.com/hashicorp/muster/structs"
	"github.com/hashicorp/muster/structs/config"
	"github.com/hashicorp/muster/testutil"
	"github.com/stretchr/testify/require"
)

// testSessionSpec returns a canonical session spec with a small fleet of
// accounts and proxies.
func testSessionSpec() *structs.SessionSpec {
	spec := &structs.SessionSpec{
		ID:              uuid.Generate(),
		Target:          "game.example.com:25565",
		ExpectedWorkers: 3,
		Accounts:        []string{"alpha", "bravo", "charlie"},
		ReserveAccounts: []string{"reserve1", "reserve2"},
		Proxies:         []string{"10.0.0.1:1080", "10.0.0.2:1080"},
	}
	spec.Canonicalize()
	return spec
}

// testRunnerConfig merges the spec's overrides over the defaults the way the
// manager does.
func testRunnerConfig(t *testing.T, spec *structs.SessionSpec) *runnerConfig {
	logger := testlog.HCLogger(t)

	gateCfg := config.DefaultGateConfig().Merge(spec.Gate)
	require.NoError(t, gateCfg.Validate())

	banCfg := config.DefaultBanConfig().Merge(spec.Ban)
	require.NoError(t, banCfg.Validate())

	return &runnerConfig{
		Logger:     logger,
		Spec:       spec,
		GateConfig: gateCfg,
		BanConfig:  banCfg,
		Gates:      gate.NewRegistry(logger),
		Events:     stream.NewPublisher(nil),
	}
}

func TestRunner_Lifecycle(t *testing.T) {
	ci.Parallel(t)

	spec := testSessionSpec()
	spec.Gate = &config.GateConfig{Enabled: pointer.Of(true)}
	spec.Ban = &config.BanConfig{Enabled: pointer.Of(true)}

	cfg := testRunnerConfig(t, spec)
	r := newRunner(cfg)
	require.Equal(t, structs.SessionStatusPending, r.Status())

	go r.Run()

	testutil.WaitForResult(func() (bool, error) {
		if s := r.Status(); s != structs.SessionStatusRunning {
			return false, fmt.Errorf("expected running session but found %q", s)
		}
		return true, nil
	}, func(err error) {
		t.Fatal(err)
	})

	// The gate hook registered a gate for the session.
	require.True(t, cfg.Gates.IsEnabled(spec.ID))

	r.Stop()
	<-r.WaitCh()

	require.Equal(t, structs.SessionStatusComplete, r.Status())

	// The gate was deregistered, so the worker API is permissive again.
	require.False(t, cfg.Gates.IsEnabled(spec.ID))
	require.True(t, cfg.Gates.IsOpen(spec.ID))
}

func TestRunner_GateDisabled(t *testing.T) {
	ci.Parallel(t)

	spec := testSessionSpec()
	cfg := testRunnerConfig(t, spec)
	r := newRunner(cfg)

	go r.Run()
	defer func() {
		r.Stop()
		<-r.WaitCh()
	}()

	testutil.WaitForResult(func() (bool, error) {
		return r.Status() == structs.SessionStatusRunning, nil
	}, func(err error) {
		t.Fatal("session never started running")
	})

	// No gate was registered, so workers fall through the permissive API.
	require.False(t, cfg.Gates.IsEnabled(spec.ID))

	resp := r.MarkWorkerReady("w1")
	require.True(t, resp.Ready)
	require.True(t, resp.GateOpen)
	require.False(t, resp.Transitioned)
	require.Zero(t, resp.ReadyCount)

	wait := r.WaitGate(context.Background(), 0)
	require.True(t, wait.Released)
	require.True(t, wait.Open)
}

func TestRunner_GateOpensAtThreshold(t *testing.T) {
	ci.Parallel(t)

	spec := testSessionSpec()
	spec.ExpectedWorkers = 3
	spec.Gate = &config.GateConfig{
		Enabled:     pointer.Of(true),
		GateTimeout: pointer.Of("30s"),
	}

	cfg := testRunnerConfig(t, spec)
	r := newRunner(cfg)

	go r.Run()
	defer func() {
		r.Stop()
		<-r.WaitCh()
	}()

	testutil.WaitForResult(func() (bool, error) {
		return cfg.Gates.IsEnabled(spec.ID), nil
	}, func(err error) {
		t.Fatal("gate never registered")
	})

	// Threshold for 3 workers at the default 60% is 2.
	resp := r.MarkWorkerReady("w1")
	require.True(t, resp.Ready)
	require.False(t, resp.GateOpen)
	require.False(t, resp.Transitioned)
	require.Equal(t, 1, resp.ReadyCount)
	require.Equal(t, 2, resp.Required)

	resp = r.MarkWorkerReady("w2")
	require.True(t, resp.GateOpen)
	require.True(t, resp.Transitioned)
	require.Equal(t, 2, resp.ReadyCount)

	wait := r.WaitGate(context.Background(), 0)
	require.True(t, wait.Released)
	require.True(t, wait.Open)

	require.True(t, r.IsWorkerReady("w1"))
	require.False(t, r.IsWorkerReady("w3"))
}

func TestRunner_WaitGateTimeout(t *testing.T) {
	ci.Parallel(t)

	spec := testSessionSpec()
	spec.Gate = &config.GateConfig{Enabled: pointer.Of(true)}

	cfg := testRunnerConfig(t, spec)
	r := newRunner(cfg)

	go r.Run()
	defer func() {
		r.Stop()
		<-r.WaitCh()
	}()

	testutil.WaitForResult(func() (bool, error) {
		return cfg.Gates.IsEnabled(spec.ID), nil
	}, func(err error) {
		t.Fatal("gate never registered")
	})

	// Nobody reports ready, so a bounded wait gives up with the gate still
	// closed.
	wait := r.WaitGate(context.Background(), 50*time.Millisecond)
	require.False(t, wait.Released)
	require.False(t, wait.Open)
	require.Zero(t, wait.ReadyCount)
}

func TestRunner_WorkerDisconnected_AccountBan(t *testing.T) {
	ci.Parallel(t)

	spec := testSessionSpec()
	spec.Ban = &config.BanConfig{
		Enabled:             pointer.Of(true),
		ReplacementDelayMin: pointer.Of("1ms"),
		ReplacementDelayMax: pointer.Of("5ms"),
	}

	cfg := testRunnerConfig(t, spec)
	r := newRunner(cfg)

	go r.Run()
	defer func() {
		r.Stop()
		<-r.WaitCh()
	}()

	testutil.WaitForResult(func() (bool, error) {
		return r.Status() == structs.SessionStatusRunning, nil
	}, func(err error) {
		t.Fatal("session never started running")
	})

	require.True(t, r.WorkerDisconnected("w1", "alpha", "", "You have been banned from this server!"))

	testutil.WaitForResult(func() (bool, error) {
		if !r.Accounts().IsBanned("alpha") {
			return false, fmt.Errorf("alpha not banned yet")
		}
		if r.Accounts().Contains("alpha") {
			return false, fmt.Errorf("alpha still active")
		}
		if !r.Accounts().Contains("reserve1") {
			return false, fmt.Errorf("replacement not activated yet")
		}
		return true, nil
	}, func(err error) {
		t.Fatal(err)
	})

	session := r.Session()
	require.Equal(t, 1, session.BannedAccounts)
	require.Zero(t, session.BannedAddresses)
	require.Equal(t, 3, session.Pools.AccountsActive)
	require.Equal(t, 1, session.Pools.AccountsReserve)
}

func TestRunner_WorkerDisconnected_BanDisabled(t *testing.T) {
	ci.Parallel(t)

	spec := testSessionSpec()
	cfg := testRunnerConfig(t, spec)
	r := newRunner(cfg)

	go r.Run()
	defer func() {
		r.Stop()
		<-r.WaitCh()
	}()

	// Classification is disabled by default so reports are dropped.
	require.False(t, r.WorkerDisconnected("w1", "alpha", "", "You have been banned!"))
	require.False(t, r.Accounts().IsBanned("alpha"))
}

func TestRunner_PrerunError(t *testing.T) {
	ci.Parallel(t)

	spec := testSessionSpec()
	spec.Gate = &config.GateConfig{Enabled: pointer.Of(true)}

	cfg := testRunnerConfig(t, spec)
	r := newRunner(cfg)

	// A failing hook ahead of the others fails the session before the gate
	// hook runs.
	r.runnerHooks = append([]interfaces.RunnerHook{failingHook{}}, r.runnerHooks...)

	go r.Run()
	<-r.WaitCh()

	require.Equal(t, structs.SessionStatusFailed, r.Status())
	require.False(t, cfg.Gates.IsEnabled(spec.ID))
}

type failingHook struct{}

func (failingHook) Name() string { return "failing" }

func (failingHook) Prerun() error { return fmt.Errorf("hook exploded") }

func TestRunner_Shutdown(t *testing.T) {
	ci.Parallel(t)

	spec := testSessionSpec()
	spec.Gate = &config.GateConfig{Enabled: pointer.Of(true)}
	spec.Ban = &config.BanConfig{Enabled: pointer.Of(true)}

	cfg := testRunnerConfig(t, spec)
	r := newRunner(cfg)

	go r.Run()

	testutil.WaitForResult(func() (bool, error) {
		return r.Status() == structs.SessionStatusRunning, nil
	}, func(err error) {
		t.Fatal("session never started running")
	})

	g, ok := cfg.Gates.Get(spec.ID)
	require.True(t, ok)

	r.Shutdown()
	<-r.WaitCh()

	require.Equal(t, structs.SessionStatusComplete, r.Status())
	require.True(t, g.IsOpen())
}

func TestRunner_EventsPublished(t *testing.T) {
	ci.Parallel(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := stream.NewEventBroker(ctx, stream.EventBrokerCfg{EventBufferSize: 100})
	sub, err := broker.Subscribe(&stream.SubscribeRequest{
		Topics: map[structs.Topic][]string{structs.TopicAll: {"*"}},
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	spec := testSessionSpec()
	spec.ExpectedWorkers = 1
	spec.Gate = &config.GateConfig{
		Enabled:               pointer.Of(true),
		ReadyThresholdPercent: pointer.Of(100),
	}

	cfg := testRunnerConfig(t, spec)
	cfg.Events = stream.NewPublisher(broker)
	r := newRunner(cfg)

	go r.Run()

	testutil.WaitForResult(func() (bool, error) {
		return r.Status() == structs.SessionStatusRunning, nil
	}, func(err error) {
		t.Fatal("session never started running")
	})

	r.MarkWorkerReady("w1")
	r.Stop()
	<-r.WaitCh()

	want := []string{
		structs.TypeSessionRegistered,
		structs.TypeWorkerReady,
		structs.TypeGateOpened,
		structs.TypeSessionDeregistered,
	}

	seen := map[string]bool{}
	allSeen := func() bool {
		for _, etype := range want {
			if !seen[etype] {
				return false
			}
		}
		return true
	}

	deadline, cancelNext := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelNext()
	for !allSeen() {
		events, err := sub.Next(deadline)
		require.NoError(t, err)
		for _, e := range events.Events {
			seen[e.Type] = true
		}
	}
}
