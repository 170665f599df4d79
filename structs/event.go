// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

// Topic is an event Topic.
type Topic string

const (
	TopicSession Topic = "Session"
	TopicGate    Topic = "Gate"
	TopicWorker  Topic = "Worker"
	TopicCaptcha Topic = "Captcha"
	TopicAll     Topic = "*"

	TypeSessionRegistered   = "SessionRegistered"
	TypeSessionDeregistered = "SessionDeregistered"
	TypeGateOpened          = "GateOpened"
	TypeGateForcedOpen      = "GateForcedOpen"
	TypeWorkerReady         = "WorkerReady"
	TypeWorkerBanned        = "WorkerBanned"
	TypeAddressBanned       = "AddressBanned"
	TypeCaptchaStored       = "CaptchaStored"
)

// Event represents a change in the agent's state.
type Event struct {
	Topic      Topic
	Type       string
	Key        string
	FilterKeys []string
	Index      uint64
	Payload    interface{}
}

// Events is a set of events for a corresponding index. Events returned for
// the index depend on which topics are subscribed to when a request is made.
type Events struct {
	Index  uint64
	Events []Event
}

// EventJson is a wrapper for a JSON object.
type EventJson struct {
	Data []byte
}

func (j *EventJson) Copy() *EventJson {
	n := new(EventJson)
	*n = *j
	n.Data = make([]byte, len(j.Data))
	copy(n.Data, j.Data)
	return n
}

// SessionEvent holds a session payload.
type SessionEvent struct {
	Session *Session
}

// GateEvent holds a gate payload.
type GateEvent struct {
	SessionID string
	Gate      *GateStatus
}

// WorkerEvent holds a worker payload.
type WorkerEvent struct {
	SessionID  string
	WorkerID   string
	ReadyCount int
	Required   int
}

// BanEvent holds a classification payload.
type BanEvent struct {
	SessionID string
	Account   string
	Address   string
	Message   string
}

// CaptchaEvent holds a challenge cache payload.
type CaptchaEvent struct {
	Target      string
	Fingerprint string
}
