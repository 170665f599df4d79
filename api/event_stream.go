// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

const (
	TopicSession Topic = "Session"
	TopicGate    Topic = "Gate"
	TopicWorker  Topic = "Worker"
	TopicCaptcha Topic = "Captcha"
	TopicAll     Topic = "*"
)

// Topic is an event Topic
type Topic string

// Events is a set of events for a corresponding index. Events returned for
// the index depend on which topics are subscribed to when a request is made.
type Events struct {
	Index  uint64
	Events []Event
	Err    error
}

// Event holds information related to an event that occurred in the agent.
// The Payload is a hydrated object related to the Topic
type Event struct {
	Topic      Topic
	Type       string
	Key        string
	FilterKeys []string
	Index      uint64
	Payload    map[string]interface{}
}

// IsHeartbeat specifies if the event is an empty heartbeat used to
// keep a connection alive.
func (e *Events) IsHeartbeat() bool {
	return e.Index == 0 && len(e.Events) == 0
}

// Session returns a Session struct from a given event payload. If the
// Event Topic is Session this will return a valid Session
func (e *Event) Session() (*Session, error) {
	var out struct {
		Session *Session `mapstructure:"Session"`
	}
	if err := e.decodePayload(&out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

// Gate returns a GateStatus struct from a given event payload. If the
// Event Topic is Gate this will return a valid GateStatus
func (e *Event) Gate() (*GateStatus, error) {
	var out struct {
		Gate *GateStatus `mapstructure:"Gate"`
	}
	if err := e.decodePayload(&out); err != nil {
		return nil, err
	}
	return out.Gate, nil
}

// Worker returns a WorkerEvent struct from a given event payload. If the
// Event Topic is Worker this will return a valid WorkerEvent
func (e *Event) Worker() (*WorkerEvent, error) {
	var out WorkerEvent
	if err := e.decodePayload(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ban returns a BanEvent struct from a given event payload. Ban verdicts
// are published on the Worker topic
func (e *Event) Ban() (*BanEvent, error) {
	var out BanEvent
	if err := e.decodePayload(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Captcha returns a CaptchaEvent struct from a given event payload. If the
// Event Topic is Captcha this will return a valid CaptchaEvent
func (e *Event) Captcha() (*CaptchaEvent, error) {
	var out CaptchaEvent
	if err := e.decodePayload(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (e *Event) decodePayload(out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result: out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(e.Payload)
}

// WorkerEvent is the payload of worker ready events.
type WorkerEvent struct {
	SessionID  string
	WorkerID   string
	ReadyCount int
	Required   int
}

// BanEvent is the payload of ban classification events.
type BanEvent struct {
	SessionID string
	Account   string
	Address   string
	Message   string
}

// CaptchaEvent is the payload of challenge cache events.
type CaptchaEvent struct {
	Target      string
	Fingerprint string
}

// EventStream is used to stream events from the agent
type EventStream struct {
	client *Client
}

// EventStream returns a handle to the Events endpoint
func (c *Client) EventStream() *EventStream {
	return &EventStream{client: c}
}

// Stream establishes a new subscription to the agent's event stream and
// streams results back to the returned channel.
func (e *EventStream) Stream(ctx context.Context, topics map[Topic][]string, q *QueryOptions) (<-chan *Events, error) {
	r, err := e.client.newRequest("GET", "/v1/events")
	if err != nil {
		return nil, err
	}
	q = q.WithContext(ctx)
	r.setQueryOptions(q)

	// Build topic query params
	for topic, keys := range topics {
		for _, k := range keys {
			r.params.Add("topic", fmt.Sprintf("%s:%s", topic, k))
		}
	}

	resp, err := requireOK(e.client.doRequest(r))
	if err != nil {
		return nil, err
	}

	eventsCh := make(chan *Events, 10)
	go func() {
		defer resp.Body.Close()
		defer close(eventsCh)

		dec := json.NewDecoder(resp.Body)

		for ctx.Err() == nil {
			// Decode next newline delimited json of events
			var events Events
			if err := dec.Decode(&events); err != nil {
				// set error and fallthrough to
				// select eventsCh
				events = Events{Err: err}
			}
			if events.Err == nil && events.IsHeartbeat() {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case eventsCh <- &events:
			}
		}
	}()

	return eventsCh, nil
}
