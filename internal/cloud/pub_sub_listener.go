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

// This file defines the Pub/Sub message listener that feeds the ingestion
// workflow. The listener abstracts receiving messages from a subscription and
// delegates processing to a MessageHandler.
//
// Logic Flow:
//  1. An instance of PubSubListener is created with a client and a subscription ID.
//  2. A MessageHandler (the ingestion workflow) is attached to this listener.
//  3. The `Listen` method starts a goroutine that receives messages, at most
//     MaxOutstandingMessages at a time, and returns a channel that is closed
//     once receiving has stopped and every in-flight handler has returned.
//  4. Each message is passed to the handler and settled according to the outcome:
//     - success: Ack.
//     - malformed input: Ack, the message would never succeed on redelivery.
//     - any other failure: Nack, so the subscription's retry and dead-letter
//     policy decides when and whether the event is retried.
//  5. The entire process is instrumented with OpenTelemetry for tracing.
package cloud

import (
	"context"
	"errors"
	"log/slog"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/core/model"
)

// DefaultMaxOutstandingMessages matches the system-wide cap on concurrent runs.
const DefaultMaxOutstandingMessages = 3

// MessageHandler processes the data of one message.
type MessageHandler interface {
	HandleMessage(ctx context.Context, data []byte) error
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, data []byte) error

func (f MessageHandlerFunc) HandleMessage(ctx context.Context, data []byte) error {
	return f(ctx, data)
}

// Settlement is how a processed message is settled with Pub/Sub.
type Settlement int

const (
	Ack Settlement = iota
	Nack
)

func (s Settlement) String() string {
	if s == Ack {
		return "ack"
	}
	return "nack"
}

// Settle maps the outcome of a handler to the settlement of its message.
func Settle(err error) Settlement {
	if err == nil || errors.Is(err, model.ErrMalformedInput) {
		return Ack
	}
	return Nack
}

// receiveFunc is the signature of pubsub.Subscription.Receive.
type receiveFunc func(ctx context.Context, f func(context.Context, *pubsub.Message)) error

// PubSubListener connects a subscription to a MessageHandler.
type PubSubListener struct {
	client         *pubsub.Client // The client for interacting with the Pub/Sub service.
	subscriptionID string         // The subscription this listener pulls messages from.
	receive        receiveFunc    // Receive of the subscription.
	handler        MessageHandler // Processes each message received.
}

// NewPubSubListener is the constructor for creating a PubSubListener.
//
// Inputs:
//   - pubsubClient: An authenticated *pubsub.Client for connecting to the service.
//   - subscriptionID: The string ID of the subscription (e.g., "clip-uploads-sub").
//   - maxOutstanding: Messages processed at once; defaults to DefaultMaxOutstandingMessages.
//   - handler: Processes the messages; may be attached later with SetHandler.
func NewPubSubListener(
	pubsubClient *pubsub.Client,
	subscriptionID string,
	maxOutstanding int,
	handler MessageHandler,
) (*PubSubListener, error) {
	if maxOutstanding <= 0 {
		maxOutstanding = DefaultMaxOutstandingMessages
	}
	sub := pubsubClient.Subscription(subscriptionID)
	sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	return &PubSubListener{
		client:         pubsubClient,
		subscriptionID: subscriptionID,
		receive:        sub.Receive,
		handler:        handler,
	}, nil
}

// SetHandler attaches a handler to the listener, unless one is already set.
// Listeners are created with the service clients, before the workflow exists.
func (m *PubSubListener) SetHandler(handler MessageHandler) {
	if m.handler == nil {
		m.handler = handler
	}
}

// Listen starts receiving in a goroutine. Receiving stops when ctx is
// canceled; the returned channel is closed after Receive has returned, which
// it does only once all in-flight messages were handled and settled.
func (m *PubSubListener) Listen(ctx context.Context) <-chan struct{} {
	slog.InfoContext(ctx, "listening", "subscription", m.subscriptionID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := m.receive(ctx, m.handle); err != nil {
			slog.ErrorContext(ctx, "error receiving messages", "subscription", m.subscriptionID, "error", err)
		}
		slog.InfoContext(ctx, "stopped listening", "subscription", m.subscriptionID)
	}()
	return done
}

func (m *PubSubListener) handle(msgCtx context.Context, msg *pubsub.Message) {
	spanCtx, span := otel.Tracer("message-listener").Start(msgCtx, "receive-message")
	defer span.End()
	span.SetAttributes(attribute.String("message_id", msg.ID), attribute.Int("delivery_attempt", deliveryAttempt(msg)))

	err := m.handler.HandleMessage(spanCtx, msg.Data)
	settlement := Settle(err)
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "success")
	case settlement == Ack:
		span.SetStatus(codes.Error, "dropped")
		slog.WarnContext(spanCtx, "dropping malformed message", "message_id", msg.ID, "error", err)
	default:
		span.SetStatus(codes.Error, "failed")
	}
	span.SetAttributes(attribute.String("settlement", settlement.String()))

	if settlement == Ack {
		msg.Ack()
	} else {
		msg.Nack()
	}
}

func deliveryAttempt(msg *pubsub.Message) int {
	if msg.DeliveryAttempt == nil {
		return 0
	}
	return *msg.DeliveryAttempt
}
