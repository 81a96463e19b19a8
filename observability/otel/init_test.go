package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" authorization = Bearer abc ,broken, =empty,x-tenant=mavuno")
	if len(got) != 2 || got["authorization"] != "Bearer abc" || got["x-tenant"] != "mavuno" {
		t.Fatalf("unexpected headers %v", got)
	}
}

func TestInitValidatesConfig(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing service name to fail")
	}
	if _, err := Init(context.Background(), Config{ServiceName: "mavunod", Traces: true, SampleRatio: 2}); err == nil {
		t.Fatalf("expected out of range sample ratio to fail")
	}
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "mavunod"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if Tracer() == nil {
		t.Fatalf("tracer should never be nil")
	}
}

func TestLedgerRecorderToleratesNoopProvider(t *testing.T) {
	recorder, err := NewLedgerRecorder()
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	recorder.Observe("lending", "borrow", 0, nil)
	var missing *LedgerRecorder
	missing.Observe("lending", "borrow", 0, nil)
}
