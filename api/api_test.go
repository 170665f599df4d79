// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shoenig/test/must"
	"github.com/stretchr/testify/require"
)

type configCallback func(c *Config)

// makeTestClient returns a client pointed at a mock agent handler. The
// mock server is torn down with the test.
func makeTestClient(t *testing.T, cb configCallback, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	if handler == nil {
		handler = http.NotFoundHandler()
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conf := DefaultConfig()
	conf.Address = srv.URL
	if cb != nil {
		cb(conf)
	}

	client, err := NewClient(conf)
	must.NoError(t, err)
	return client, srv
}

func TestDefaultConfig_env(t *testing.T) {
	url := "http://1.2.3.4:5678"
	t.Setenv("MUSTER_ADDR", url)

	config := DefaultConfig()
	if config.Address != url {
		t.Errorf("expected %q to be %q", config.Address, url)
	}
}

func TestSetQueryOptions(t *testing.T) {
	t.Parallel()
	c, _ := makeTestClient(t, nil, nil)

	r, _ := c.newRequest("GET", "/v1/sessions")
	q := &QueryOptions{
		Params: map[string]string{"timeout": "30s"},
	}
	r.setQueryOptions(q)

	must.Eq(t, "30s", r.params.Get("timeout"))
	must.NotNil(t, r.ctx)
}

func TestQueryOptionsContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, _ := makeTestClient(t, nil, nil)
	q := (&QueryOptions{}).WithContext(ctx)

	if q.ctx != ctx {
		t.Fatalf("expected context to be set")
	}

	_, err := c.Sessions().List(q)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected session list to fail with canceled, got %s", err)
	}
}

func TestWriteOptionsContext(t *testing.T) {
	// No blocking write to test a real cancel of a pending request so just
	// test that a pre-canceled context fails the write quickly.
	t.Parallel()

	c, err := NewClient(DefaultConfig())
	if err != nil {
		t.Fatalf("failed to initialize client: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := (&WriteOptions{}).WithContext(ctx)

	if w.ctx != ctx {
		t.Fatalf("expected context to be set")
	}

	cancel()

	_, err = c.Sessions().End("8a9e2923-8a2e-0a0c-5e52-239c0e47f10c", w)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected session end to fail with canceled, got %s", err)
	}
}

func TestRequestToHTTP(t *testing.T) {
	t.Parallel()
	c, _ := makeTestClient(t, nil, nil)

	r, _ := c.newRequest("GET", "/v1/session/abc123/gate/wait")
	q := &QueryOptions{
		Params: map[string]string{"timeout": "1m", "worker": "w1"},
	}
	r.setQueryOptions(q)
	req, err := r.toHTTP()
	must.NoError(t, err)

	must.Eq(t, "GET", req.Method)
	must.Eq(t, "/v1/session/abc123/gate/wait?timeout=1m&worker=w1", req.URL.RequestURI())
}

func TestClientHeader(t *testing.T) {
	t.Parallel()
	c, _ := makeTestClient(t, func(c *Config) {
		c.Headers = http.Header{
			"Hello": []string{"World"},
		}
	}, nil)

	r, _ := c.newRequest("GET", "/v1/sessions")
	must.Eq(t, "World", r.header.Get("Hello"))
}

func TestQueryString(t *testing.T) {
	t.Parallel()
	c, _ := makeTestClient(t, nil, nil)

	r, _ := c.newRequest("PUT", "/v1/captcha?target=alpha&kind=image")
	req, err := r.toHTTP()
	must.NoError(t, err)

	must.Eq(t, "/v1/captcha?kind=image&target=alpha", req.URL.RequestURI())
}

func TestClient_HeaderRaceCondition(t *testing.T) {
	require := require.New(t)

	conf := DefaultConfig()
	conf.Headers = map[string][]string{
		"test-header": {"a"},
	}
	client, err := NewClient(conf)
	require.NoError(err)

	c := make(chan int)

	go func() {
		req, _ := client.newRequest("GET", "/any/path/will/do")
		r, _ := req.toHTTP()
		c <- len(r.Header)
	}()
	req, _ := client.newRequest("GET", "/any/path/will/do")
	r, _ := req.toHTTP()

	require.Len(r.Header, 2, "local request should have two headers")
	require.Equal(2, <-c, "goroutine request should have two headers")
	require.Len(conf.Headers, 1, "config headers should not mutate")
}

func TestClient_autoUnzip(t *testing.T) {
	var client *Client = nil

	try := func(resp *http.Response, exp error) {
		err := client.autoUnzip(resp)
		require.Equal(t, exp, err)
	}

	// response object is nil
	try(nil, nil)

	// response.Body is nil
	try(new(http.Response), nil)

	// content-encoding is not gzip
	try(&http.Response{
		Header: http.Header{"Content-Encoding": []string{"text"}},
	}, nil)

	// content-encoding is gzip but body is empty
	try(&http.Response{
		Header: http.Header{"Content-Encoding": []string{"gzip"}},
		Body:   io.NopCloser(bytes.NewBuffer([]byte{})),
	}, nil)

	// content-encoding is gzip but body is invalid gzip
	try(&http.Response{
		Header: http.Header{"Content-Encoding": []string{"gzip"}},
		Body:   io.NopCloser(bytes.NewBuffer([]byte("not a zip"))),
	}, errors.New("unexpected EOF"))

	// sample gzip payload
	var b bytes.Buffer
	w := gzip.NewWriter(&b)
	_, err := w.Write([]byte("hello world"))
	require.NoError(t, err)
	err = w.Close()
	require.NoError(t, err)

	// content-encoding is gzip and body is gzip data
	try(&http.Response{
		Header: http.Header{"Content-Encoding": []string{"gzip"}},
		Body:   io.NopCloser(&b),
	}, nil)
}
