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

package cor

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// MeterName is the instrumentation scope of every workflow metric.
const MeterName = "github.com/jaycherian/gcp-go-clip-catalog"

// BaseCommand carries the name, the parameter keys and the instruments every
// step shares. Steps embed it and implement Execute.
type BaseCommand struct {
	Name            string
	InputParamName  string // Defaults to CtxIn.
	OutputParamName string // Defaults to CtxOut.
	Tracer          trace.Tracer
	SuccessCounter  metric.Int64Counter // <name>.counter.success
	ErrorCounter    metric.Int64Counter // <name>.counter.error
}

// NewBaseCommand creates a command with a tracer and counters named after it.
func NewBaseCommand(name string) *BaseCommand {
	return &BaseCommand{
		Name:           name,
		Tracer:         otel.Tracer(name),
		SuccessCounter: newCounter(name + ".counter.success"),
		ErrorCounter:   newCounter(name + ".counter.error"),
	}
}

// newCounter falls back to a no-op counter when the instrument cannot be
// created, so callers never check for nil.
func newCounter(name string) metric.Int64Counter {
	counter, err := otel.Meter(MeterName).Int64Counter(name)
	if err != nil {
		slog.Warn("unable to create counter", "counter", name, "error", err)
		return noop.Int64Counter{}
	}
	return counter
}

// GetName returns the name of the command.
func (c *BaseCommand) GetName() string {
	return c.Name
}

// IsExecutable requires a Go context and a value under the input key.
func (c *BaseCommand) IsExecutable(context Context) bool {
	return context != nil && context.GetContext() != nil && context.Get(c.GetInputParam()) != nil
}

// GetInputParam returns the key of the command's input, CtxIn by default.
func (c *BaseCommand) GetInputParam() string {
	if c.InputParamName == "" {
		return CtxIn
	}
	return c.InputParamName
}

// GetOutputParam returns the key the command writes its result under,
// CtxOut by default.
func (c *BaseCommand) GetOutputParam() string {
	if c.OutputParamName == "" {
		return CtxOut
	}
	return c.OutputParamName
}

func (c *BaseCommand) GetTracer() trace.Tracer {
	return c.Tracer
}

func (c *BaseCommand) GetSuccessCounter() metric.Int64Counter {
	return c.SuccessCounter
}

func (c *BaseCommand) GetErrorCounter() metric.Int64Counter {
	return c.ErrorCounter
}
