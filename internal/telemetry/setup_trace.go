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

// Package telemetry sets up the observability of the service: structured
// logging in the Cloud Logging format, and OpenTelemetry traces and metrics
// exported to Cloud Trace and Cloud Monitoring.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mexporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/metric"
	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/contrib/detectors/gcp"
	"go.opentelemetry.io/contrib/propagators/autoprop"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"

	"github.com/jaycherian/gcp-go-clip-catalog/internal/cloud"
)

// ShutdownFunc flushes and stops the exporters installed by
// SetupOpenTelemetry.
type ShutdownFunc func(context.Context) error

// SetupOpenTelemetry installs the global propagator, tracer provider and meter
// provider. Trace context is always propagated so that remote services can
// correlate requests. With application.enable_telemetry unset nothing is
// exported and the global no-op providers stay in place.
//
// The returned function must be called before the process exits.
func SetupOpenTelemetry(ctx context.Context, config *cloud.Config) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(autoprop.NewTextMapPropagator())

	var stops []ShutdownFunc
	shutdown := func(ctx context.Context) error {
		var err error
		for i := len(stops) - 1; i >= 0; i-- {
			err = errors.Join(err, stops[i](ctx))
		}
		stops = nil
		return err
	}

	if !config.Application.EnableTelemetry {
		slog.DebugContext(ctx, "telemetry export disabled")
		return shutdown, nil
	}

	res, err := newResource(ctx, config.Application.Name)
	if err != nil {
		return nil, err
	}

	tp, err := newTracerProvider(config, res)
	if err != nil {
		return nil, err
	}
	stops = append(stops, tp.Shutdown)
	otel.SetTracerProvider(tp)

	mp, err := newMeterProvider(config, res)
	if err != nil {
		return nil, errors.Join(err, shutdown(ctx))
	}
	stops = append(stops, mp.Shutdown)
	otel.SetMeterProvider(mp)

	slog.InfoContext(ctx, "telemetry export enabled",
		"project", config.Application.GoogleProjectId,
		"trace_sample_ratio", config.Telemetry.TraceSampleRatio)
	return shutdown, nil
}

// newResource describes this service. Partial GCP detection, as happens off
// Google Cloud, is not an error.
func newResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithDetectors(gcp.NewDetector()),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
	)
	switch {
	case errors.Is(err, resource.ErrPartialResource), errors.Is(err, resource.ErrSchemaURLConflict):
		slog.Warn("partial resource detection", "error", err)
	case err != nil:
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}
	return res, nil
}

func newTracerProvider(config *cloud.Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exporter, err := texporter.New(texporter.WithProjectID(config.Application.GoogleProjectId))
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	ratio := config.Telemetry.TraceSampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	), nil
}

func newMeterProvider(config *cloud.Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exporter, err := mexporter.New(mexporter.WithProjectID(config.Application.GoogleProjectId))
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}
	interval := time.Duration(config.Telemetry.MetricIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	), nil
}
