// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package broker

import (
	"fmt"
	"time"

	"github.com/hashicorp/muster/helper"
)

// GenericNotifier allows a process to wait for and monitor potential updates
// to an object in a generic manner.
type GenericNotifier struct {

	// publishCh is the channel used to send the update msg.
	publishCh chan interface{}

	// subscribeCh and unsubscribeCh are the channels used to modify the
	// subscription membership mapping.
	subscribeCh   chan chan interface{}
	unsubscribeCh chan chan interface{}
}

// NewGenericNotifier returns a generic notifier which can be used by a
// process to notify many subscribers when a specific update is triggered.
func NewGenericNotifier() *GenericNotifier {
	return &GenericNotifier{
		publishCh:     make(chan interface{}, 1),
		subscribeCh:   make(chan chan interface{}, 1),
		unsubscribeCh: make(chan chan interface{}, 1),
	}
}

// Notify allows the implementer to notify all subscribers with a specific
// update. There is no guarantee of the order in which subscribers receive
// the message.
func (g *GenericNotifier) Notify(msg interface{}) {
	select {
	case g.publishCh <- msg:
	default:
	}
}

// Run is a long-lived process which handles updating subscribers as well as
// ensuring any update is sent to them. The passed stopCh is used to
// coordinate shutdown.
func (g *GenericNotifier) Run(stopCh <-chan struct{}) {

	// Store all registered subscribers.
	subscribers := map[chan interface{}]struct{}{}

	// Run the main loop which handles all notify and subscription tasks.
	for {
		select {
		case <-stopCh:
			return
		case msgCh := <-g.subscribeCh:
			subscribers[msgCh] = struct{}{}
		case msgCh := <-g.unsubscribeCh:
			delete(subscribers, msgCh)
		case msg := <-g.publishCh:
			for subscriberCh := range subscribers {

				// The subscriber may have gone away, so do not block on
				// sending the update.
				select {
				case subscriberCh <- msg:
				default:
				}
			}
		}
	}
}

// WaitForChange allows a subscriber to wait until there is a notification
// change, or the timeout is reached. The function will block until one of
// the two happens.
func (g *GenericNotifier) WaitForChange(timeout time.Duration) interface{} {

	// Create a channel and subscribe to any update. This channel is buffered
	// to ensure we do not block the main broker process.
	updateCh := make(chan interface{}, 1)
	g.subscribeCh <- updateCh

	// Create a timeout timer and use the helper to ensure this routine is
	// cleaned up properly.
	timeoutTimer, timeoutStop := helper.NewSafeTimer(timeout)

	// Defer a function which performs all the required cleanup of the
	// subscriber.
	defer func() {
		g.unsubscribeCh <- updateCh
		close(updateCh)
		timeoutStop()
	}()

	// Enter the main loop which listens for an update or timeout and returns
	// this information to the subscriber.
	select {
	case <-timeoutTimer.C:
		return fmt.Sprintf("wait timed out after %s", timeout)
	case update := <-updateCh:
		return update
	}
}
