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

// Package cor implements the chain of responsibility the ingestion workflow is
// assembled from. A run is a Context passed through an ordered Chain of
// Commands; each command reads its input key, writes its output key, and
// records failures in the context instead of returning them. Steps that
// should survive a redelivery of the same run are wrapped in a DurableCommand
// backed by a StepJournal.
package cor

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Well-known context keys.
const (
	CtxIn    = "__IN__"     // Input of the next command; the chain moves CtxOut here.
	CtxOut   = "__OUT__"    // Output of the command that just ran.
	CtxRunID = "__RUN_ID__" // Identifier of the run; journal entries are keyed by it.
)

// Context is the state of one run. Implementations must be safe for
// concurrent use, as per-clip work reports into the same context.
type Context interface {
	// SetContext replaces the Go context carrying the deadline and the
	// current span.
	SetContext(context context.Context)
	GetContext() context.Context

	Add(key string, value interface{}) Context
	Get(key string) interface{}
	Remove(key string)

	// AddError records err under key, usually the name of the failing
	// command. A recorded error stops the chain.
	AddError(key string, err error)
	GetErrors() map[string]error
	HasErrors() bool
}

// Executable is anything that runs against a Context.
type Executable interface {
	Execute(context Context)
}

// Command is one step of a run.
type Command interface {
	Executable

	GetName() string
	GetInputParam() string
	GetOutputParam() string

	// IsExecutable reports whether the context holds what Execute needs.
	// The chain skips commands that are not executable.
	IsExecutable(context Context) bool

	GetTracer() trace.Tracer
	GetSuccessCounter() metric.Int64Counter
	GetErrorCounter() metric.Int64Counter
}

// Chain runs commands in order. A Chain is itself a Command, so chains nest.
type Chain interface {
	Command

	// ContinueOnFailure keeps the chain going after a command records an error.
	ContinueOnFailure(bool) Chain
	AddCommand(command Command) Chain
}

// ErrStepNotFound is returned by a StepJournal for a step without checkpoint.
var ErrStepNotFound = errors.New("step not found")

// StepJournal stores the output of completed steps per run.
type StepJournal interface {
	// LoadStep decodes the checkpoint of step into out, or returns
	// ErrStepNotFound.
	LoadStep(ctx context.Context, runID string, step string, out interface{}) error
	SaveStep(ctx context.Context, runID string, step string, value interface{}) error
}
