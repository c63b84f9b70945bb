// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package remote contains typed clients for the external services an
// ingestion run depends on: format conversion, segmentation and trimming,
// per-clip analysis endpoints, the streaming host and the embedding providers.
//
// Every call either returns its decoded payload or a *Error describing why it
// failed (network, non-2xx status, undecodable body or an empty result). The
// orchestrator never sees raw JSON.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// ErrorKind classifies a failed remote call.
type ErrorKind string

const (
	KindNetwork ErrorKind = "network" // The request never produced a response.
	KindStatus  ErrorKind = "status"  // The service answered with a non-2xx status.
	KindDecode  ErrorKind = "decode"  // The body did not have the expected shape.
	KindEmpty   ErrorKind = "empty"   // The body decoded but carried no usable value.
	KindFailed  ErrorKind = "failed"  // The service reported that the job failed.
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4096

// Error is the failure half of every remote call.
type Error struct {
	Call       string    // Logical name of the call, e.g. "talent-age".
	Kind       ErrorKind // What went wrong.
	StatusCode int       // HTTP status for KindStatus, zero otherwise.
	Message    string    // Response body excerpt or cause description.
	Err        error     // Underlying error, if any.
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("%s: HTTP %d: %s", e.Call, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("%s: %s error: %s", e.Call, e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Temporary reports gateway-timeout class responses that are worth retrying.
func (e *Error) Temporary() bool {
	if e.Kind != KindStatus {
		return false
	}
	switch e.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsTemporary reports whether err wraps a temporary *Error.
func IsTemporary(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Temporary()
}

// Client posts JSON to remote services. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every request made through the client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithRateLimit limits the client to requestsPerSecond with an equal burst.
// Zero or negative disables limiting.
func WithRateLimit(requestsPerSecond float64) Option {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			c.limiter = nil
			return
		}
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithHTTPClient replaces the underlying HTTP client. Its transport is used as is.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient builds a client whose transport is traced with otelhttp.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   2 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HTTPClient exposes the underlying client, e.g. for SDKs that take one.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *Client) wait(ctx context.Context, call string) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Call: call, Kind: KindNetwork, Message: "rate limiter: " + err.Error(), Err: err}
	}
	return nil
}

// do sends a JSON POST and returns the response when the status is 2xx. The
// caller owns the response body.
func (c *Client) do(ctx context.Context, call, endpoint string, in interface{}, decorate ...func(*http.Request)) (*http.Response, error) {
	if err := c.wait(ctx, call); err != nil {
		return nil, err
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, &Error{Call: call, Kind: KindDecode, Message: "encode request: " + err.Error(), Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Call: call, Kind: KindNetwork, Message: "build request: " + err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for _, d := range decorate {
		d(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Call: call, Kind: KindNetwork, Message: err.Error(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &Error{Call: call, Kind: KindStatus, StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(excerpt))}
	}
	return resp, nil
}

// PostJSON sends in as JSON and decodes a 2xx response into out.
func (c *Client) PostJSON(ctx context.Context, call, endpoint string, in, out interface{}, decorate ...func(*http.Request)) error {
	resp, err := c.do(ctx, call, endpoint, in, decorate...)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Call: call, Kind: KindDecode, Message: err.Error(), Err: err}
	}
	return nil
}

// Download opens a GET stream on url. The caller must close the body.
func (c *Client) Download(ctx context.Context, call, url string) (io.ReadCloser, string, error) {
	if err := c.wait(ctx, call); err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", &Error{Call: call, Kind: KindNetwork, Message: "build request: " + err.Error(), Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", &Error{Call: call, Kind: KindNetwork, Message: err.Error(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, "", &Error{Call: call, Kind: KindStatus, StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(excerpt))}
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

func empty(call, what string) error {
	return &Error{Call: call, Kind: KindEmpty, Message: what + " missing from response"}
}
