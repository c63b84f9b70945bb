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
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
)

// PubSubPublisher hands accepted UploadEvents to the durable ingestion queue.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

func NewPubSubPublisher(client *pubsub.Client, topicID string) *PubSubPublisher {
	return &PubSubPublisher{topic: client.Topic(topicID)}
}

// Dispatch publishes event and waits for the server to accept it. The run ID
// and brand travel as attributes so that subscriptions can filter on them.
func (p *PubSubPublisher) Dispatch(ctx context.Context, event *model.UploadEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode upload event: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id": event.RunID(),
			"brand":  event.Brand,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish upload event to %s: %w", p.topic.ID(), err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	p.topic.Stop()
}
