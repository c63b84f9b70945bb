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
	"maps"
	"sync"
)

// BaseContext is a Context backed by two maps under one RWMutex.
type BaseContext struct {
	mu     sync.RWMutex
	ctx    context.Context
	values map[string]interface{}
	errs   map[string]error
}

func NewBaseContext() Context {
	return &BaseContext{
		values: make(map[string]interface{}),
		errs:   make(map[string]error),
	}
}

func (c *BaseContext) SetContext(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
}

func (c *BaseContext) GetContext() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ctx
}

func (c *BaseContext) Add(key string, value interface{}) Context {
	c.mu.Lock()
	c.values[key] = value
	c.mu.Unlock()
	return c
}

// Get returns the value stored under key, or nil.
func (c *BaseContext) Get(key string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

func (c *BaseContext) Remove(key string) {
	c.mu.Lock()
	delete(c.values, key)
	c.mu.Unlock()
}

// AddError records err under key. A later error under the same key replaces
// the earlier one.
func (c *BaseContext) AddError(key string, err error) {
	c.mu.Lock()
	c.errs[key] = err
	c.mu.Unlock()
}

// GetErrors returns a snapshot of the recorded errors.
func (c *BaseContext) GetErrors() map[string]error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.errs)
}

func (c *BaseContext) HasErrors() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.errs) > 0
}
