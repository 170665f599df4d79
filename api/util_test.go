// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package api

// conversion utils only used for testing
// added here to avoid linter warning

// boolToPtr returns the pointer to a bool
func boolToPtr(b bool) *bool {
	return &b
}

// intToPtr returns the pointer to an int
func intToPtr(i int) *int {
	return &i
}

// stringToPtr returns the pointer to a string
func stringToPtr(str string) *string {
	return &str
}

// mockSession returns a session the way the agent reports one mid-flight.
func mockSession(id string) *Session {
	return &Session{
		ID:              id,
		Name:            "mock",
		Target:          "login.example.com:443",
		Status:          SessionStatusRunning,
		ExpectedWorkers: 10,
		Gate: &GateStatus{
			Enabled:    true,
			Open:       false,
			Expected:   10,
			Required:   6,
			ReadyCount: 3,
		},
		Pools: &PoolStatus{
			AccountsActive:   10,
			AccountsReserve:  2,
			ProxiesAvailable: 4,
		},
		CreateTime: 100,
		ModifyTime: 200,
	}
}
