// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package stream fans agent state changes out to event subscribers, such as
// the HTTP event stream endpoint.
package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/muster/structs"
)

const (
	// subscriptionStateOpen is the default state of a subscription. An open
	// subscription may receive new events.
	subscriptionStateOpen uint32 = 0

	// subscriptionStateClosed indicates that the subscription was closed and
	// will not receive new events. The subscriber must issue a new Subscribe
	// request.
	subscriptionStateClosed uint32 = 1
)

// ErrSubscriptionClosed is an error signalling the subscription has been
// closed. The client should Unsubscribe, then re-Subscribe.
var ErrSubscriptionClosed = errors.New("subscription closed by server, client should resubscribe")

// EventBrokerCfg configures an EventBroker.
type EventBrokerCfg struct {
	// EventBufferSize is the per subscription buffer depth. A subscriber
	// that falls this far behind is closed rather than slowing everyone
	// else down.
	EventBufferSize int

	Logger hclog.Logger
}

// EventBroker delivers published events to subscriptions live. Events are
// not retained, a subscriber only sees what is published while it is
// subscribed.
type EventBroker struct {
	logger     hclog.Logger
	bufferSize int

	mu            sync.Mutex
	subscriptions map[*Subscription]struct{}
	closed        bool
}

// NewEventBroker returns an EventBroker that shuts down, closing all its
// subscriptions, when ctx is canceled.
func NewEventBroker(ctx context.Context, cfg EventBrokerCfg) *EventBroker {
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.EventBufferSize == 0 {
		cfg.EventBufferSize = 100
	}

	b := &EventBroker{
		logger:        cfg.Logger.Named("event_broker"),
		bufferSize:    cfg.EventBufferSize,
		subscriptions: make(map[*Subscription]struct{}),
	}

	go func() {
		<-ctx.Done()
		b.closeAll()
	}()

	return b
}

// Publish sends the events to every subscription whose request matches.
// Publish never blocks on a subscriber: one that cannot keep up is closed.
func (b *EventBroker) Publish(events *structs.Events) {
	if len(events.Events) == 0 {
		return
	}

	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subscriptions))
	for sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		filtered := filter(sub.req, events.Events)
		if len(filtered) == 0 {
			continue
		}

		select {
		case sub.eventCh <- structs.Events{Index: events.Index, Events: filtered}:
		default:
			b.logger.Warn("closing subscription that cannot keep up with the event stream")
			sub.forceClose()
		}
	}
}

// Subscribe returns a new live subscription for the requested topics.
func (b *EventBroker) Subscribe(req *SubscribeRequest) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrSubscriptionClosed
	}

	var sub *Subscription
	sub = newSubscription(req, b.bufferSize, func() {
		b.mu.Lock()
		delete(b.subscriptions, sub)
		b.mu.Unlock()
	})
	b.subscriptions[sub] = struct{}{}
	return sub, nil
}

func (b *EventBroker) closeAll() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subscriptions))
	for sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.subscriptions = make(map[*Subscription]struct{})
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.forceClose()
	}
}

// SubscribeRequest selects which events a subscription receives. The Topics
// map topic names to the event keys of interest, "*" matching any.
type SubscribeRequest struct {
	Topics map[structs.Topic][]string
}

// Subscription is one subscriber's live event feed.
type Subscription struct {
	// state must be accessed atomically, 0 means open, 1 means closed.
	state uint32

	req     *SubscribeRequest
	eventCh chan structs.Events

	// forceClosed is closed when forceClose is called. It is used by
	// EventBroker to cancel Next().
	forceClosed chan struct{}

	// unsub is set by EventBroker and is called to free resources when the
	// subscription is no longer needed. It is idempotent and safe to call
	// from multiple goroutines.
	unsub func()
}

func newSubscription(req *SubscribeRequest, bufferSize int, unsub func()) *Subscription {
	return &Subscription{
		req:         req,
		eventCh:     make(chan structs.Events, bufferSize),
		forceClosed: make(chan struct{}),
		unsub:       unsub,
	}
}

// Next blocks until the next matching events arrive, ctx is done or the
// subscription is closed.
func (s *Subscription) Next(ctx context.Context) (structs.Events, error) {
	if atomic.LoadUint32(&s.state) == subscriptionStateClosed {
		return structs.Events{}, ErrSubscriptionClosed
	}

	select {
	case <-ctx.Done():
		return structs.Events{}, ctx.Err()
	case <-s.forceClosed:
		return structs.Events{}, ErrSubscriptionClosed
	case events := <-s.eventCh:
		return events, nil
	}
}

// Unsubscribe frees the subscription's resources. Pending Next calls return
// ErrSubscriptionClosed.
func (s *Subscription) Unsubscribe() {
	s.unsub()
	s.forceClose()
}

func (s *Subscription) forceClose() {
	if atomic.CompareAndSwapUint32(&s.state, subscriptionStateOpen, subscriptionStateClosed) {
		close(s.forceClosed)
	}
}

// filter events to only those that match the subscription's topics and keys.
func filter(req *SubscribeRequest, events []structs.Event) []structs.Event {
	if len(events) == 0 {
		return nil
	}

	allTopicKeys := req.Topics[structs.TopicAll]

	// *[*] always matches everything.
	if len(allTopicKeys) == 1 && allTopicKeys[0] == string(structs.TopicAll) {
		return events
	}

	var result []structs.Event

	for _, event := range events {
		var keys []string
		keys = append(keys, allTopicKeys...)
		if topicKeys, ok := req.Topics[event.Topic]; ok {
			keys = append(keys, topicKeys...)
		}

		for _, key := range keys {
			if key == string(structs.TopicAll) || eventMatchesKey(event, key) {
				result = append(result, event)
				break
			}
		}
	}

	return result
}

func eventMatchesKey(event structs.Event, key string) bool {
	if event.Key == key {
		return true
	}

	for _, fk := range event.FilterKeys {
		if fk == key {
			return true
		}
	}

	return false
}
