// SPDX-License-Identifier: MIT

package telemetry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func TestNewProviderDisabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{
		Enabled:      false,
		ServiceName:  "unit",
		ExporterType: "grpc",
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if provider.tp != nil {
		t.Error("disabled provider should not hold a real tracer provider")
	}
	// Globally installed tracer must be a noop one.
	_, span := otel.Tracer("unit").Start(context.Background(), "sanity")
	if span.IsRecording() {
		t.Error("span from disabled provider is recording")
	}
	span.End()

	// Shutdown on a disabled provider is a no-op even with a dead context.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := provider.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown on disabled provider: %v", err)
	}
}

func TestNewProviderUnknownExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{
		Enabled:      true,
		ServiceName:  "unit",
		ExporterType: "udp",
	})
	if err == nil {
		t.Fatal("want error for unknown exporter type")
	}
	want := `exporter type "udp" not supported (want grpc or http)`
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestSamplerSelection(t *testing.T) {
	cases := []struct {
		rate float64
		want string
	}{
		{1.0, "AlwaysOnSampler"},
		{2.5, "AlwaysOnSampler"},
		{0.0, "AlwaysOffSampler"},
		{-1.0, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("rate=%g", tc.rate), func(t *testing.T) {
			if got := sampler(tc.rate).Description(); got != tc.want {
				t.Errorf("sampler(%g) = %s, want %s", tc.rate, got, tc.want)
			}
		})
	}
}

func TestTracerProducesSpans(t *testing.T) {
	if _, err := NewProvider(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	tracer := Tracer("telemetry-test")
	if tracer == nil {
		t.Fatal("Tracer returned nil")
	}
	ctx, span := tracer.Start(context.Background(), "probe")
	span.End()
	if trace.SpanFromContext(ctx) == nil {
		t.Error("started span missing from context")
	}
}

func TestShutdownConcurrent(t *testing.T) {
	provider := &Provider{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = provider.Shutdown(context.Background())
		}()
	}
	wg.Wait()
}
