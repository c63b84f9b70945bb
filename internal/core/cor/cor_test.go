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

package cor_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/cor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// appendCommand appends its suffix to the string input and counts executions.
type appendCommand struct {
	cor.BaseCommand
	suffix string
	fail   bool
	calls  int
}

func newAppendCommand(name, suffix string) *appendCommand {
	return &appendCommand{BaseCommand: *cor.NewBaseCommand(name), suffix: suffix}
}

func (c *appendCommand) Execute(context cor.Context) {
	c.calls++
	if c.fail {
		context.AddError(c.GetName(), errors.New("boom"))
		return
	}
	in := context.Get(c.GetInputParam()).(string)
	context.Add(c.GetOutputParam(), in+c.suffix)
}

type memoryJournal struct {
	mu    sync.Mutex
	steps map[string][]byte
}

func (j *memoryJournal) LoadStep(_ context.Context, runID, step string, out interface{}) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	raw, ok := j.steps[runID+"/"+step]
	if !ok {
		return cor.ErrStepNotFound
	}
	return json.Unmarshal(raw, out)
}

func (j *memoryJournal) SaveStep(_ context.Context, runID, step string, value interface{}) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	j.steps[runID+"/"+step] = raw
	return nil
}

func newContext(ctx context.Context, in string) cor.Context {
	chainCtx := cor.NewBaseContext()
	chainCtx.SetContext(ctx)
	chainCtx.Add(cor.CtxIn, in)
	return chainCtx
}

func TestChainPipesOutputToInput(t *testing.T) {
	chain := cor.NewBaseChain("pipe")
	chain.AddCommand(newAppendCommand("a", "-a")).AddCommand(newAppendCommand("b", "-b"))

	chainCtx := newContext(context.Background(), "in")
	chain.Execute(chainCtx)

	assert.False(t, chainCtx.HasErrors())
	assert.Equal(t, "in-a-b", chainCtx.Get(cor.CtxIn))
}

func TestChainStopsOnError(t *testing.T) {
	failing := newAppendCommand("a", "-a")
	failing.fail = true
	after := newAppendCommand("b", "-b")

	chain := cor.NewBaseChain("stop")
	chain.AddCommand(failing).AddCommand(after)

	chainCtx := newContext(context.Background(), "in")
	chain.Execute(chainCtx)

	assert.True(t, chainCtx.HasErrors())
	assert.Equal(t, 0, after.calls)
}

func TestChainContinueOnFailure(t *testing.T) {
	failing := newAppendCommand("a", "-a")
	failing.fail = true
	after := newAppendCommand("b", "-b")

	chain := cor.NewBaseChain("continue")
	chain.ContinueOnFailure(true)
	chain.AddCommand(failing).AddCommand(after)

	chainCtx := newContext(context.Background(), "in")
	chain.Execute(chainCtx)

	// The failing command produced no output, so the second one has no input.
	assert.Equal(t, 0, after.calls)
	assert.Len(t, chainCtx.GetErrors(), 1)
}

func TestChainStopsWhenDeadlineExpired(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	first := newAppendCommand("a", "-a")
	chain := cor.NewBaseChain("deadline")
	chain.AddCommand(first)

	chainCtx := newContext(ctx, "in")
	chain.Execute(chainCtx)

	assert.Equal(t, 0, first.calls)
	err := chainCtx.GetErrors()["deadline"]
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDurableCommandReplaysCheckpoint(t *testing.T) {
	journal := &memoryJournal{steps: map[string][]byte{}}
	inner := newAppendCommand("a", "-a")
	durable := cor.NewDurableCommand[string](inner, journal)

	for i := 0; i < 2; i++ {
		chainCtx := newContext(context.Background(), "in")
		chainCtx.Add(cor.CtxRunID, "run-1")
		durable.Execute(chainCtx)
		assert.Equal(t, "in-a", chainCtx.Get(cor.CtxOut))
	}
	assert.Equal(t, 1, inner.calls)

	// A different run does not see the checkpoint.
	chainCtx := newContext(context.Background(), "x")
	chainCtx.Add(cor.CtxRunID, "run-2")
	durable.Execute(chainCtx)
	assert.Equal(t, "x-a", chainCtx.Get(cor.CtxOut))
	assert.Equal(t, 2, inner.calls)
}

func TestDurableCommandDoesNotCheckpointFailures(t *testing.T) {
	journal := &memoryJournal{steps: map[string][]byte{}}
	inner := newAppendCommand("a", "-a")
	inner.fail = true
	durable := cor.NewDurableCommand[string](inner, journal)

	chainCtx := newContext(context.Background(), "in")
	chainCtx.Add(cor.CtxRunID, "run-1")
	durable.Execute(chainCtx)

	assert.True(t, chainCtx.HasErrors())
	assert.Empty(t, journal.steps)
}

func TestBaseContextConcurrentAccess(t *testing.T) {
	chainCtx := cor.NewBaseContext()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i)
			chainCtx.Add(key, i)
			_ = chainCtx.Get(key)
			if i%10 == 0 {
				chainCtx.AddError(key, errors.New("x"))
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, chainCtx.GetErrors(), 5)
	assert.Equal(t, 7, chainCtx.Get("k7"))
}
