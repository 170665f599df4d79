// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/muster/stream"
	"github.com/hashicorp/muster/structs"
	"golang.org/x/sync/errgroup"
)

func (s *HTTPServer) EventStream(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}

	query := req.URL.Query()

	topics, err := parseEventTopics(query)
	if err != nil {
		return nil, CodedError(400, fmt.Sprintf("Invalid topic query: %v", err))
	}

	flusher, ok := resp.(http.Flusher)
	if !ok {
		return nil, CodedError(500, "streaming not supported")
	}

	subscription, err := s.agent.EventBroker().Subscribe(&stream.SubscribeRequest{
		Topics: topics,
	})
	if err != nil {
		return nil, CodedError(500, err.Error())
	}
	defer subscription.Unsubscribe()

	resp.Header().Set("Content-Type", "application/json")
	resp.Header().Set("Cache-Control", "no-cache")

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	jsonStream := stream.NewJsonStream(ctx, 30*time.Second)

	// Forward matching events into the json stream until the subscription
	// or the request ends.
	errs, errCtx := errgroup.WithContext(ctx)
	errs.Go(func() error {
		defer cancel()

		for {
			events, err := subscription.Next(errCtx)
			if err != nil {
				select {
				case <-errCtx.Done():
					return nil
				default:
				}
				return err
			}

			if len(events.Events) == 0 {
				continue
			}

			if err := jsonStream.Send(events); err != nil {
				return err
			}
		}
	})

	// Flush each entry on its own line as it arrives.
LOOP:
	for {
		select {
		case <-ctx.Done():
			break LOOP
		case eventJSON := <-jsonStream.OutCh():
			if _, err := resp.Write(eventJSON.Data); err != nil {
				cancel()
				break LOOP
			}
			// Each entry is its own new line according to ndjson.org
			if _, err := io.WriteString(resp, "\n"); err != nil {
				cancel()
				break LOOP
			}
			flusher.Flush()
		}
	}

	codedErr := errs.Wait()
	if codedErr != nil && errors.Is(codedErr, stream.ErrSubscriptionClosed) {
		codedErr = nil
	}
	return nil, codedErr
}

func parseEventTopics(query url.Values) (map[structs.Topic][]string, error) {
	raw, ok := query["topic"]
	if !ok {
		return allTopics(), nil
	}
	topics := make(map[structs.Topic][]string)

	for _, topic := range raw {
		k, v, err := parseTopic(topic)
		if err != nil {
			return nil, fmt.Errorf("error parsing topics: %w", err)
		}

		topics[structs.Topic(k)] = append(topics[structs.Topic(k)], v)
	}
	return topics, nil
}

func parseTopic(topic string) (string, string, error) {
	parts := strings.Split(topic, ":")
	// infer wildcard if only given a topic
	if len(parts) == 1 {
		return topic, "*", nil
	} else if len(parts) != 2 {
		return "", "", fmt.Errorf("Invalid key value pair for topic, topic: %s", topic)
	}
	return parts[0], parts[1], nil
}

func allTopics() map[structs.Topic][]string {
	return map[structs.Topic][]string{"*": {"*"}}
}
