// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package stream

import (
	"sync/atomic"

	"github.com/hashicorp/muster/structs"
)

// Publisher stamps events with a monotonically increasing index and hands
// them to an event broker. The agent shares one publisher across every
// subsystem so subscribers observe a single index sequence. A nil publisher
// or one without a broker swallows events, which keeps library consumers and
// tests free of stream plumbing.
type Publisher struct {
	broker *EventBroker
	index  atomic.Uint64
}

// NewPublisher returns a publisher bound to broker, which may be nil.
func NewPublisher(broker *EventBroker) *Publisher {
	return &Publisher{broker: broker}
}

// Publish wraps a single event payload with the next index and sends it.
func (p *Publisher) Publish(topic structs.Topic, etype, key string, filterKeys []string, payload interface{}) {
	if p == nil || p.broker == nil {
		return
	}

	index := p.index.Add(1)
	p.broker.Publish(&structs.Events{
		Index: index,
		Events: []structs.Event{{
			Topic:      topic,
			Type:       etype,
			Key:        key,
			FilterKeys: filterKeys,
			Index:      index,
			Payload:    payload,
		}},
	})
}
