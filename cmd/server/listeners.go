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

// Package main contains the logic for starting the Pub/Sub listener that
// feeds the ingestion workflow. Every message on the ingestion subscription
// is one UploadEvent published by the trigger.
package main

import (
	"context"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/cloud"
	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/workflow"
)

// SetupListeners attaches the ingestion workflow to the configured
// subscription and starts receiving. Receiving stops when ctx is canceled;
// the returned channel is closed once the listener has drained.
func SetupListeners(ctx context.Context, config *cloud.Config, cloudClients *cloud.ServiceClients, ingestion *workflow.IngestionWorkflow) <-chan struct{} {
	listener := cloudClients.PubSubListeners[config.Ingestion.Subscription]
	listener.SetHandler(cloud.MessageHandlerFunc(func(msgCtx context.Context, data []byte) error {
		_, err := ingestion.Run(msgCtx, data)
		return err
	}))
	return listener.Listen(ctx)
}
