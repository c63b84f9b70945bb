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

package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// ConversionState is the position of a conversion job in its state machine:
// Pending -> InProgress -> Complete | Failed.
type ConversionState int

const (
	ConversionPending ConversionState = iota
	ConversionInProgress
	ConversionComplete
	ConversionFailed
)

func (s ConversionState) String() string {
	switch s {
	case ConversionPending:
		return "Pending"
	case ConversionInProgress:
		return "InProgress"
	case ConversionComplete:
		return "Complete"
	case ConversionFailed:
		return "Failed"
	}
	return fmt.Sprintf("ConversionState(%d)", int(s))
}

// Terminal reports whether the job can no longer change state.
func (s ConversionState) Terminal() bool {
	return s == ConversionComplete || s == ConversionFailed
}

// ConversionStatus is the last known state of a conversion job.
type ConversionStatus struct {
	State    ConversionState
	Progress float64 // Percent, meaningful while InProgress.
	URL      string  // Destination MP4, set when Complete.
	Reason   string  // Failure description, set when Failed.
}

// conversionMessage is one progress message. Progress and error are kept raw
// because services disagree on their types ("progress": 42 or "42%", "error":
// a string or an object); an odd value there must not hide status and url.
type conversionMessage struct {
	Status   string          `json:"status"`
	Progress json.RawMessage `json:"progress"`
	URL      string          `json:"url"`
	Error    json.RawMessage `json:"error"`
	Message  string          `json:"message"`
}

// progress returns the percentage carried by the message, if any.
func (m conversionMessage) progress() (float64, bool) {
	raw := bytes.TrimSpace(m.Progress)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		text = string(raw)
	}
	value, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(text), "%"), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// errorText returns the failure reported by the message, or "".
func (m conversionMessage) errorText() string {
	raw := bytes.TrimSpace(m.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false")) {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}

// next computes the state that follows current after msg.
func (m conversionMessage) next(current ConversionStatus) ConversionStatus {
	if reason := m.errorText(); reason != "" {
		return ConversionStatus{State: ConversionFailed, Reason: reason}
	}
	switch strings.ToLower(strings.TrimSpace(m.Status)) {
	case "complete", "completed", "done":
		if m.URL == "" {
			return ConversionStatus{State: ConversionFailed, Reason: "completion message without url"}
		}
		return ConversionStatus{State: ConversionComplete, Progress: 100, URL: m.URL}
	case "failed", "error":
		reason := m.Message
		if reason == "" {
			reason = "conversion failed"
		}
		return ConversionStatus{State: ConversionFailed, Reason: reason}
	case "pending", "queued":
		if current.State == ConversionInProgress {
			return current
		}
		return ConversionStatus{State: ConversionPending}
	}
	next := ConversionStatus{State: ConversionInProgress, Progress: current.Progress}
	if progress, ok := m.progress(); ok {
		next.Progress = progress
	}
	return next
}

// parseConversionLine extracts a message from one line of the progress
// stream. Server-sent-event framing ("data:" prefixes, comments, event names)
// is tolerated, as are bare JSON lines.
func parseConversionLine(line string) (conversionMessage, bool) {
	var msg conversionMessage
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, ":") {
		return msg, false
	}
	if strings.HasPrefix(line, "data:") {
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	} else if !strings.HasPrefix(line, "{") {
		// event:, id:, retry: and anything else that is not a payload.
		return msg, false
	}
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return msg, false
	}
	return msg, true
}

// ConversionStream iterates over the progress messages of one conversion
// job. A background reader feeds lines to Next, which applies a bounded wait
// per message.
type ConversionStream struct {
	body           io.ReadCloser
	lines          chan string
	done           chan struct{}
	closeOnce      sync.Once
	messageTimeout time.Duration

	mu      sync.Mutex
	readErr error
	status  ConversionStatus
}

func newConversionStream(body io.ReadCloser, messageTimeout time.Duration) *ConversionStream {
	s := &ConversionStream{
		body:           body,
		lines:          make(chan string),
		done:           make(chan struct{}),
		messageTimeout: messageTimeout,
	}
	go s.read()
	return s
}

func (s *ConversionStream) read() {
	defer close(s.lines)
	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case s.lines <- scanner.Text():
		case <-s.done:
			return
		}
	}
	s.mu.Lock()
	s.readErr = scanner.Err()
	s.mu.Unlock()
}

// Status returns the last state reached.
func (s *ConversionStream) Status() ConversionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Next blocks until the job changes state. It returns an error when no
// message arrives within the per-message timeout or ctx ends. A stream that
// closes before a terminal message is reported as Failed.
func (s *ConversionStream) Next(ctx context.Context) (ConversionStatus, error) {
	current := s.Status()
	if current.State.Terminal() {
		return current, nil
	}

	var timeout <-chan time.Time
	if s.messageTimeout > 0 {
		timer := time.NewTimer(s.messageTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return current, &Error{Call: CallConversion, Kind: KindNetwork, Message: "conversion abandoned: " + ctx.Err().Error(), Err: ctx.Err()}
		case <-timeout:
			return current, &Error{Call: CallConversion, Kind: KindNetwork, Message: fmt.Sprintf("no progress message within %s", s.messageTimeout), Err: context.DeadlineExceeded}
		case line, ok := <-s.lines:
			if !ok {
				s.mu.Lock()
				reason := "progress stream closed before completion"
				if s.readErr != nil {
					reason = fmt.Sprintf("%s: %v", reason, s.readErr)
				}
				s.status = ConversionStatus{State: ConversionFailed, Reason: reason}
				status := s.status
				s.mu.Unlock()
				return status, nil
			}
			msg, parsed := parseConversionLine(line)
			if !parsed {
				continue
			}
			s.mu.Lock()
			s.status = msg.next(s.status)
			status := s.status
			s.mu.Unlock()
			return status, nil
		}
	}
}

// Close stops the reader and releases the response body.
func (s *ConversionStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.body.Close()
	})
	return err
}

// ConverterConfig bounds a Converter.
type ConverterConfig struct {
	Endpoint       string
	MaxAttempts    int           // Attempts on gateway-timeout class responses, at least 1.
	MessageTimeout time.Duration // Longest wait for a single progress message.
	OverallTimeout time.Duration // Longest wait for a whole conversion, retries included.
	Backoff        gax.Backoff   // Pause between attempts.
}

// Converter drives the remote MP4 conversion service.
type Converter struct {
	client       *Client
	config       ConverterConfig
	retryCounter metric.Int64Counter
}

// NewConverter creates a converter. The client should not carry a request
// timeout since the progress stream outlives any single request budget; the
// converter applies its own timeouts.
func NewConverter(client *Client, config ConverterConfig) *Converter {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Backoff.Initial == 0 {
		config.Backoff = gax.Backoff{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2}
	}
	counter, err := otel.Meter("github.com/jaycherian/gcp-go-clip-catalog").Int64Counter("format-normalizer.conversion.retry")
	if err != nil {
		slog.Warn("error creating conversion retry counter", "error", err)
	}
	return &Converter{client: client, config: config, retryCounter: counter}
}

// Open starts a conversion job and returns its progress stream.
func (c *Converter) Open(ctx context.Context, videoURL string) (*ConversionStream, error) {
	accept := func(req *http.Request) {
		req.Header.Set("Accept", "text/event-stream")
	}
	resp, err := c.client.do(ctx, CallConversion, c.config.Endpoint, map[string]string{"videoUrl": strings.TrimSpace(videoURL)}, accept)
	if err != nil {
		return nil, err
	}
	return newConversionStream(resp.Body, c.config.MessageTimeout), nil
}

// Convert runs the conversion of videoURL to completion and returns the URL
// of the MP4. Only gateway-timeout class responses are retried.
func (c *Converter) Convert(ctx context.Context, videoURL string) (string, error) {
	if c.config.OverallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.OverallTimeout)
		defer cancel()
	}

	backoff := c.config.Backoff
	var lastErr error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		url, err := c.attempt(ctx, videoURL)
		if err == nil {
			return url, nil
		}
		lastErr = err
		if !IsTemporary(err) || attempt == c.config.MaxAttempts {
			break
		}
		if c.retryCounter != nil {
			c.retryCounter.Add(ctx, 1)
		}
		pause := backoff.Pause()
		slog.WarnContext(ctx, "conversion service temporarily unavailable, retrying",
			"video_url", videoURL, "attempt", attempt, "pause", pause.String(), "error", err)
		if sleepErr := gax.Sleep(ctx, pause); sleepErr != nil {
			return "", &Error{Call: CallConversion, Kind: KindNetwork, Message: "retry abandoned: " + sleepErr.Error(), Err: sleepErr}
		}
	}
	return "", lastErr
}

func (c *Converter) attempt(ctx context.Context, videoURL string) (string, error) {
	stream, err := c.Open(ctx, videoURL)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	for {
		status, err := stream.Next(ctx)
		if err != nil {
			return "", err
		}
		switch status.State {
		case ConversionComplete:
			return status.URL, nil
		case ConversionFailed:
			return "", &Error{Call: CallConversion, Kind: KindFailed, Message: status.Reason}
		case ConversionInProgress:
			slog.DebugContext(ctx, "conversion progress", "video_url", videoURL, "progress", status.Progress)
		}
	}
}
