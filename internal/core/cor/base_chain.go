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
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/codes"
)

// BaseChain runs its commands one after the other under a span named
// "<name>_execute". Each command gets a child span. After every command the
// value it left under CtxOut becomes CtxIn of the next one.
//
// The chain stops at the first recorded error, unless ContinueOnFailure is
// set, and always stops when the Go context is done. In the latter case the
// context's cause is recorded against the chain, so an expired run deadline
// fails the run.
type BaseChain struct {
	BaseCommand
	continueOnFailure bool
	commands          []Command
}

// NewBaseChain creates an empty chain. The name is used for the chain span
// and its counters.
func NewBaseChain(name string) *BaseChain {
	return &BaseChain{BaseCommand: *NewBaseCommand(name)}
}

// ContinueOnFailure makes the chain run its remaining commands after one
// has recorded an error. It returns the chain for fluent construction.
func (c *BaseChain) ContinueOnFailure(continueOnFailure bool) Chain {
	c.continueOnFailure = continueOnFailure
	return c
}

// AddCommand appends command to the chain and returns the chain, e.g.
// `NewBaseChain("ingest").AddCommand(a).AddCommand(b)`.
func (c *BaseChain) AddCommand(command Command) Chain {
	c.commands = append(c.commands, command)
	return c
}

// IsExecutable only needs a Go context; the first command checks the input.
func (c *BaseChain) IsExecutable(context Context) bool {
	return context.GetContext() != nil
}

// Execute runs the commands in order against chCtx.
func (c *BaseChain) Execute(chCtx Context) {
	parent := chCtx.GetContext()
	ctx, span := c.Tracer.Start(parent, c.GetName()+"_execute")
	defer span.End()
	// The caller keeps its own Go context once the chain is done.
	defer chCtx.SetContext(parent)

	for _, command := range c.commands {
		if chCtx.HasErrors() && !c.continueOnFailure {
			break
		}
		if ctx.Err() != nil {
			chCtx.AddError(c.GetName(), fmt.Errorf("chain %s stopped before %s: %w", c.GetName(), command.GetName(), context.Cause(ctx)))
			break
		}
		c.run(ctx, chCtx, command)
		chCtx.Remove(CtxIn)
		if out := chCtx.Get(CtxOut); out != nil {
			chCtx.Add(CtxIn, out)
		}
		chCtx.Remove(CtxOut)
	}

	if chCtx.HasErrors() {
		c.GetErrorCounter().Add(parent, 1)
		span.SetStatus(codes.Error, "chain failed")
		return
	}
	c.GetSuccessCounter().Add(parent, 1)
	span.SetStatus(codes.Ok, "")
}

func (c *BaseChain) run(ctx context.Context, chCtx Context, command Command) {
	commandCtx, span := c.Tracer.Start(ctx, command.GetName())
	defer span.End()

	if !command.IsExecutable(chCtx) {
		slog.DebugContext(commandCtx, "skipping command without input", "chain", c.GetName(), "command", command.GetName())
		span.SetStatus(codes.Error, "command not executable")
		return
	}

	chCtx.SetContext(commandCtx)
	command.Execute(chCtx)
	chCtx.SetContext(ctx)

	if errs := chCtx.GetErrors(); errs[command.GetName()] != nil {
		span.RecordError(errs[command.GetName()])
		span.SetStatus(codes.Error, "command failed")
		return
	}
	span.SetStatus(codes.Ok, "")
}
