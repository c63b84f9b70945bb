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

package cloud

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenDoneWaitsForReceive(t *testing.T) {
	handled := make(chan []byte, 1)
	var receiveReturned atomic.Bool
	listener := &PubSubListener{
		subscriptionID: "clip-uploads-sub",
		handler: MessageHandlerFunc(func(_ context.Context, data []byte) error {
			handled <- data
			return nil
		}),
		receive: func(ctx context.Context, f func(context.Context, *pubsub.Message)) error {
			f(ctx, &pubsub.Message{ID: "m1", Data: []byte(`{"name":"a.mp4"}`)})
			<-ctx.Done()
			// Receive returns only after in-flight callbacks finish.
			time.Sleep(20 * time.Millisecond)
			receiveReturned.Store(true)
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := listener.Listen(ctx)

	select {
	case data := <-handled:
		assert.Equal(t, `{"name":"a.mp4"}`, string(data))
	case <-time.After(time.Second):
		t.Fatal("message was not handled")
	}
	select {
	case <-done:
		t.Fatal("done closed while still receiving")
	default:
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("done was not closed after cancel")
	}
	assert.True(t, receiveReturned.Load())
}

func TestListenDoneClosesOnReceiveError(t *testing.T) {
	listener := &PubSubListener{
		subscriptionID: "clip-uploads-sub",
		handler:        MessageHandlerFunc(func(context.Context, []byte) error { return nil }),
		receive: func(context.Context, func(context.Context, *pubsub.Message)) error {
			return errors.New("subscription not found")
		},
	}

	done := listener.Listen(context.Background())
	select {
	case <-done:
	case <-time.After(time.Second):
		require.FailNow(t, "done was not closed after a receive error")
	}
}
