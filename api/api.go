// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package api exposes a client for the muster agent HTTP API.
package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
)

// Config is used to configure the creation of a client.
type Config struct {
	// Address is the address of the muster agent.
	Address string

	// HttpClient is the client to use. Default will be used if not
	// provided. The api package never mutates a caller supplied client,
	// so it may be shared.
	HttpClient *http.Client

	// Headers contains extra headers to set on every request to the
	// agent.
	Headers http.Header
}

// defaultHttpClient returns a pooled client sharing its transport across
// the many short requests a worker fleet makes against one agent.
func defaultHttpClient() *http.Client {
	httpClient := cleanhttp.DefaultPooledClient()
	transport := httpClient.Transport.(*http.Transport)
	transport.TLSHandshakeTimeout = 10 * time.Second
	transport.TLSClientConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	return httpClient
}

// DefaultConfig returns a default configuration for the client, checking
// the MUSTER_ADDR environment variable before settling on the agent's
// default bind address.
func DefaultConfig() *Config {
	config := &Config{
		Address: "http://127.0.0.1:4650",
	}
	if addr := os.Getenv("MUSTER_ADDR"); addr != "" {
		config.Address = addr
	}
	return config
}

// Client provides a client to the muster agent API.
type Client struct {
	httpClient *http.Client
	config     Config
}

// NewClient returns a new client.
func NewClient(config *Config) (*Client, error) {
	// bootstrap the config
	defConfig := DefaultConfig()

	if config.Address == "" {
		config.Address = defConfig.Address
	} else if _, err := url.Parse(config.Address); err != nil {
		return nil, fmt.Errorf("invalid address '%s': %v", config.Address, err)
	}

	httpClient := config.HttpClient
	if httpClient == nil {
		httpClient = defaultHttpClient()
	}

	client := &Client{
		config:     *config,
		httpClient: httpClient,
	}
	return client, nil
}

// Address returns the address of the muster agent which is used by the
// client.
func (c *Client) Address() string {
	return c.config.Address
}

// QueryOptions are used to parametrize a query.
type QueryOptions struct {
	// Params are HTTP parameters to use on every query URL.
	Params map[string]string

	// ctx is an optional context pass through to the underlying HTTP
	// request layer. Use Context() and WithContext() to manage this.
	ctx context.Context
}

// WriteOptions are used to parametrize a write.
type WriteOptions struct {
	// ctx is an optional context pass through to the underlying HTTP
	// request layer. Use Context() and WithContext() to manage this.
	ctx context.Context
}

// Context returns the context used for canceling HTTP requests related to
// this query.
func (o *QueryOptions) Context() context.Context {
	if o != nil && o.ctx != nil {
		return o.ctx
	}
	return context.Background()
}

// WithContext creates a copy of the query options using the provided
// context to cancel related HTTP requests.
func (o *QueryOptions) WithContext(ctx context.Context) *QueryOptions {
	o2 := new(QueryOptions)
	if o != nil {
		*o2 = *o
	}
	o2.ctx = ctx
	return o2
}

// Context returns the context used for canceling HTTP requests related to
// this write.
func (o *WriteOptions) Context() context.Context {
	if o != nil && o.ctx != nil {
		return o.ctx
	}
	return context.Background()
}

// WithContext creates a copy of the write options using the provided
// context to cancel related HTTP requests.
func (o *WriteOptions) WithContext(ctx context.Context) *WriteOptions {
	o2 := new(WriteOptions)
	if o != nil {
		*o2 = *o
	}
	o2.ctx = ctx
	return o2
}

// request is used to help build up a request
type request struct {
	config *Config
	method string
	url    *url.URL
	params url.Values
	body   io.Reader
	obj    interface{}
	ctx    context.Context
	header http.Header
}

// setQueryOptions is used to annotate the request with additional query
// options
func (r *request) setQueryOptions(q *QueryOptions) {
	if q == nil {
		return
	}
	for k, v := range q.Params {
		r.params.Set(k, v)
	}
	r.ctx = q.Context()
}

// setWriteOptions is used to annotate the request with additional write
// options
func (r *request) setWriteOptions(q *WriteOptions) {
	if q == nil {
		return
	}
	r.ctx = q.Context()
}

// toHTTP converts the request to an HTTP request
func (r *request) toHTTP() (*http.Request, error) {
	// Encode the query parameters
	r.url.RawQuery = r.params.Encode()

	// Check if we should encode the body
	if r.body == nil && r.obj != nil {
		if b, err := encodeBody(r.obj); err != nil {
			return nil, err
		} else {
			r.body = b
		}
	}

	ctx := func() context.Context {
		if r.ctx != nil {
			return r.ctx
		}
		return context.Background()
	}()

	// Create the HTTP request
	req, err := http.NewRequestWithContext(ctx, r.method, r.url.RequestURI(), r.body)
	if err != nil {
		return nil, err
	}

	req.Header = r.header

	// Ask for compressed responses. Setting the header by hand disables
	// the transport's transparent decompression, so doRequest unzips.
	req.Header.Add("Accept-Encoding", "gzip")

	req.URL.Host = r.url.Host
	req.URL.Scheme = r.url.Scheme
	req.Host = r.url.Host
	return req, nil
}

// newRequest is used to create a new request
func (c *Client) newRequest(method, path string) (*request, error) {
	base, _ := url.Parse(c.config.Address)
	u, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	r := &request{
		config: &c.config,
		method: method,
		url: &url.URL{
			Scheme:  base.Scheme,
			User:    base.User,
			Host:    base.Host,
			Path:    u.Path,
			RawPath: u.RawPath,
		},
		header: make(http.Header),
		params: make(map[string][]string),
	}

	// Add in the query parameters, if any
	for key, values := range u.Query() {
		for _, value := range values {
			r.params.Add(key, value)
		}
	}

	// Copy the configured headers so a request may add its own without
	// mutating the shared config.
	for key, values := range c.config.Headers {
		r.header[key] = values
	}

	return r, nil
}

// multiCloser is to wrap a ReadCloser such that when close is called,
// multiple Closes occur.
type multiCloser struct {
	reader       io.Reader
	inorderClose []io.Closer
}

func (m *multiCloser) Close() error {
	for _, c := range m.inorderClose {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiCloser) Read(p []byte) (int, error) {
	return m.reader.Read(p)
}

// doRequest runs a request with our client
func (c *Client) doRequest(r *request) (*http.Response, error) {
	req, err := r.toHTTP()
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)

	// unzip the response if possible
	if zErr := c.autoUnzip(resp); zErr != nil {
		return nil, zErr
	}

	return resp, err
}

// autoUnzip modifies resp in-place, wrapping the response body with a gzip
// reader if the Content-Encoding of the response is "gzip". The agent only
// compresses when asked, but a caller supplied http client may disable the
// transport's transparent decompression.
func (c *Client) autoUnzip(resp *http.Response) error {
	if resp == nil || resp.Header == nil {
		return nil
	}

	if resp.Header.Get("Content-Encoding") == "gzip" {
		zReader, err := gzip.NewReader(resp.Body)
		if err == io.EOF {
			// zero length response, do not wrap
			return nil
		} else if err != nil {
			// some other error (e.g. corrupt)
			return err
		}

		// The gzip reader does not close an underlying reader, so use a
		// multiCloser to make sure response body does get closed.
		resp.Body = &multiCloser{
			reader:       zReader,
			inorderClose: []io.Closer{zReader, resp.Body},
		}
	}

	return nil
}

// query is used to do a GET request against an endpoint and deserialize
// the response into an interface using standard decoding.
func (c *Client) query(endpoint string, out interface{}, q *QueryOptions) error {
	r, err := c.newRequest(http.MethodGet, endpoint)
	if err != nil {
		return err
	}
	r.setQueryOptions(q)
	resp, err := requireOK(c.doRequest(r))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeBody(resp, out)
}

// write is used to do a PUT request against an endpoint and serialize and
// deserialize using the standard codec.
func (c *Client) write(endpoint string, in, out interface{}, q *WriteOptions) error {
	r, err := c.newRequest(http.MethodPut, endpoint)
	if err != nil {
		return err
	}
	r.setWriteOptions(q)
	r.obj = in
	resp, err := requireOK(c.doRequest(r))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out != nil {
		return decodeBody(resp, out)
	}
	return nil
}

// delete is used to do a DELETE request against an endpoint and
// deserialize the response into an interface using standard decoding.
func (c *Client) delete(endpoint string, out interface{}, q *WriteOptions) error {
	r, err := c.newRequest(http.MethodDelete, endpoint)
	if err != nil {
		return err
	}
	r.setWriteOptions(q)
	resp, err := requireOK(c.doRequest(r))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out != nil {
		return decodeBody(resp, out)
	}
	return nil
}

// decodeBody is used to JSON decode a body
func decodeBody(resp *http.Response, out interface{}) error {
	switch resp.ContentLength {
	case 0:
		if out == nil {
			return nil
		}
		return errors.New("Got 0 byte response with non-nil decode object")
	default:
		dec := json.NewDecoder(resp.Body)
		return dec.Decode(out)
	}
}

// encodeBody prepares the reader to serve as the request body.
//
// Returns the `obj` input if it is a raw io.Reader object; otherwise
// returns a reader of the JSON format body.
func encodeBody(obj interface{}) (io.Reader, error) {
	if reader, ok := obj.(io.Reader); ok {
		return reader, nil
	}

	buf := bytes.NewBuffer(nil)
	enc := json.NewEncoder(buf)
	if err := enc.Encode(obj); err != nil {
		return nil, err
	}
	return buf, nil
}
