// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"testing"

	"github.com/hashicorp/muster/ci"
	"github.com/hashicorp/muster/helper/pointer"
	"github.com/hashicorp/muster/structs/config"
	"github.com/shoenig/test/must"
)

func TestSessionSpec_Canonicalize(t *testing.T) {
	ci.Parallel(t)

	spec := &SessionSpec{Target: "mc.example.com:25565"}
	spec.Canonicalize()

	must.NotEq(t, "", spec.ID)
	must.Eq(t, spec.ID[:8], spec.Name)

	// An explicit ID and name survive.
	spec2 := &SessionSpec{
		ID:     "c674f2a9-0b34-41f8-a722-c53b6c551bfe",
		Name:   "wave-one",
		Target: "mc.example.com:25565",
	}
	spec2.Canonicalize()
	must.Eq(t, "c674f2a9-0b34-41f8-a722-c53b6c551bfe", spec2.ID)
	must.Eq(t, "wave-one", spec2.Name)
}

func TestSessionSpec_Validate(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		name   string
		modify func(*SessionSpec)
		expErr string
	}{
		{
			name:   "canonical spec is valid",
			modify: nil,
			expErr: "",
		},
		{
			name: "missing ID",
			modify: func(s *SessionSpec) {
				s.ID = ""
			},
			expErr: "session ID must be set",
		},
		{
			name: "malformed ID",
			modify: func(s *SessionSpec) {
				s.ID = "not-a-uuid"
			},
			expErr: "session ID must be a valid UUID",
		},
		{
			name: "missing target",
			modify: func(s *SessionSpec) {
				s.Target = ""
			},
			expErr: "session target must be set",
		},
		{
			name: "target without port",
			modify: func(s *SessionSpec) {
				s.Target = "mc.example.com"
			},
			expErr: "session target must be host:port",
		},
		{
			name: "negative workers",
			modify: func(s *SessionSpec) {
				s.ExpectedWorkers = -1
			},
			expErr: "expected workers must be >= 0",
		},
		{
			name: "partial gate override is allowed",
			modify: func(s *SessionSpec) {
				s.Gate = &config.GateConfig{Enabled: pointer.Of(true)}
			},
			expErr: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := &SessionSpec{
				Target:          "mc.example.com:25565",
				ExpectedWorkers: 10,
			}
			spec.Canonicalize()
			if tc.modify != nil {
				tc.modify(spec)
			}

			err := spec.Validate()
			if tc.expErr == "" {
				must.NoError(t, err)
			} else {
				must.ErrorContains(t, err, tc.expErr)
			}
		})
	}
}

func TestSessionSpec_Copy(t *testing.T) {
	ci.Parallel(t)

	spec := &SessionSpec{
		ID:              "c674f2a9-0b34-41f8-a722-c53b6c551bfe",
		Name:            "wave-one",
		Target:          "mc.example.com:25565",
		ExpectedWorkers: 10,
		Gate:            &config.GateConfig{Enabled: pointer.Of(true)},
	}

	cp := spec.Copy()
	must.Eq(t, spec, cp)

	cp.Gate.Enabled = pointer.Of(false)
	must.True(t, *spec.Gate.Enabled)
}

func TestSession_Stub(t *testing.T) {
	ci.Parallel(t)

	sess := &Session{
		ID:              "c674f2a9-0b34-41f8-a722-c53b6c551bfe",
		Name:            "wave-one",
		Target:          "mc.example.com:25565",
		Status:          SessionStatusRunning,
		ExpectedWorkers: 10,
		Gate: &GateStatus{
			Enabled:    true,
			Open:       true,
			Expected:   10,
			Required:   6,
			ReadyCount: 7,
		},
		CreateTime: 1,
		ModifyTime: 2,
	}

	stub := sess.Stub()
	must.Eq(t, sess.ID, stub.ID)
	must.Eq(t, sess.Status, stub.Status)
	must.True(t, stub.GateOpen)
	must.Eq(t, 7, stub.ReadyWorkers)
}
