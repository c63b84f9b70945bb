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

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Special payload fields of Cloud Logging structured logs.
// See https://cloud.google.com/logging/docs/structured-logging#special-payload-fields
const (
	fieldSeverity     = "severity"
	fieldTimestamp    = "timestamp"
	fieldMessage      = "message"
	fieldTrace        = "logging.googleapis.com/trace"
	fieldSpanID       = "logging.googleapis.com/spanId"
	fieldTraceSampled = "logging.googleapis.com/trace_sampled"
)

// traceHandler adds the span context of the record's context, when there is
// one, so that Cloud Logging can link the entry to its trace.
type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String(fieldTrace, sc.TraceID().String()),
			slog.String(fieldSpanID, sc.SpanID().String()),
			slog.Bool(fieldTraceSampled, sc.IsSampled()),
		)
	}
	return h.Handler.Handle(ctx, record)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{h.Handler.WithGroup(name)}
}

// cloudLoggingAttr renames the built-in keys. Cloud Logging spells the warning
// severity WARNING.
func cloudLoggingAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.LevelKey:
		a.Key = fieldSeverity
		if level, ok := a.Value.Any().(slog.Level); ok && level == slog.LevelWarn {
			a.Value = slog.StringValue("WARNING")
		}
	case slog.TimeKey:
		a.Key = fieldTimestamp
	case slog.MessageKey:
		a.Key = fieldMessage
	}
	return a
}

// ParseLevel maps a configured level name to a slog.Level. Unknown names
// fall back to Info.
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NewLogger builds the Cloud Logging compatible JSON logger writing to w.
func NewLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(traceHandler{slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: cloudLoggingAttr,
	})})
}

// SetupLogging makes the JSON logger the default. slog.SetDefault also routes
// the standard log package through it. Output goes to stdout, which Cloud Run
// and GKE forward to Cloud Logging. The returned LevelVar changes the level at
// runtime.
func SetupLogging(levelName string) *slog.LevelVar {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(levelName))

	slog.SetDefault(NewLogger(os.Stdout, level))
	return level
}
