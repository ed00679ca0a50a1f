package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func TestTelemetrySetup(t *testing.T) {
	tel, err := Setup("trader-test")
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

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := tel.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestMetricsHolderState(t *testing.T) {
	holder := GetGlobalMetrics()

	holder.SetActiveOrders("ETH_USDC_PERP", 3)
	holder.SetPositionSize("ETH_USDC_PERP", -0.5)
	holder.SetPortfolioValue(10250.75)
	holder.SetGridProfit("grid-1", 12.5)

	if got := holder.GetActiveOrders()["ETH_USDC_PERP"]; got != 3 {
		t.Errorf("active orders = %d, want 3", got)
	}
	if got := holder.GetPositionSize()["ETH_USDC_PERP"]; got != -0.5 {
		t.Errorf("position size = %f, want -0.5", got)
	}

	// Returned maps are copies; mutating them must not affect holder state
	snapshot := holder.GetActiveOrders()
	snapshot["ETH_USDC_PERP"] = 99
	if got := holder.GetActiveOrders()["ETH_USDC_PERP"]; got != 3 {
		t.Errorf("holder state mutated through snapshot copy: %d", got)
	}
}
