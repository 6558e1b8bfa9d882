package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestInitTracingDisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracing("", "gnasty-live", "test")
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if shutdown == nil {
		t.Fatalf("shutdown func should never be nil")
	}
	shutdown()
	if Enabled() {
		t.Fatalf("tracing should stay disabled")
	}
}

func TestSpanHelpersWithNoopProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test", "op", attribute.String("platform", "twitch"))
	if ctx == nil || span == nil {
		t.Fatalf("expected span and context")
	}
	End(span, errors.New("boom"))

	_, span = StartSpan(context.Background(), "test", "op")
	End(span, nil)
}
