package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func TestTelemetrySetup(t *testing.T) {
	tel, err := Setup("test-service")
	if err != nil {
		t.Fatalf("Failed to setup telemetry: %v", err)
	}

	// Verify providers are set
	if otel.GetTracerProvider() == nil {
		t.Error("Tracer provider not set")
	}
	if otel.GetMeterProvider() == nil {
		t.Error("Meter provider not set")
	}

	// Test GetTracer/GetMeter
	tracer := GetTracer("test-tracer")
	if tracer == nil {
		t.Error("Failed to get tracer")
	}

	meter := GetMeter("test-meter")
	if meter == nil {
		t.Error("Failed to get meter")
	}

	// Setup must leave the pipeline instruments usable.
	holder := GetGlobalMetrics()
	if holder.SignalsReceivedTotal == nil {
		t.Error("signals counter not initialized")
	}
	if holder.JobsProcessedTotal == nil {
		t.Error("jobs counter not initialized")
	}
	if holder.JobDuration == nil {
		t.Error("job duration histogram not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := tel.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestMetricsHolderGaugeState(t *testing.T) {
	holder := GetGlobalMetrics()

	holder.SetQueueDepth("ready", 7)
	holder.SetQueueDepth("failed", 2)
	holder.SetRiskTriggered("default", true)
	holder.SetTradingEnabled(false)
	holder.SetAccountEquity("default", 10000.5)

	depth := holder.GetQueueDepth()
	if depth["ready"] != 7 || depth["failed"] != 2 {
		t.Errorf("unexpected queue depth state: %+v", depth)
	}

	triggered := holder.GetRiskTriggered()
	if triggered["default"] != 1 {
		t.Errorf("expected tripped breaker for default, got %+v", triggered)
	}

	holder.SetRiskTriggered("default", false)
	triggered = holder.GetRiskTriggered()
	if triggered["default"] != 0 {
		t.Errorf("expected cleared breaker for default, got %+v", triggered)
	}
}
