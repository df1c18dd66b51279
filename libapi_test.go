package crisalidbus

import (
	"context"
	"errors"
	"testing"
)

func TestRegistryExports(t *testing.T) {
	reg := NewRegistry()

	handler := func(context.Context, string, map[string]any) error { return nil }
	if err := reg.Register(TypeDocument, EventCreated, handler); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if err := reg.Register(TypeDocument, EventCreated, handler); !errors.Is(err, ErrDuplicateHandler) {
		t.Fatalf("expected duplicate handler error, got %v", err)
	}
	if _, ok := reg.Lookup(TypeDocument, EventCreated); !ok {
		t.Fatal("expected registered handler to be found")
	}
}

func TestEnvelopeExports(t *testing.T) {
	evt, err := ValidateEnvelope([]byte(`{"type":"person","event":"created","fields":{"uid":"p-1"}}`))
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if evt.Type != TypePerson || evt.Event != EventCreated {
		t.Fatalf("unexpected envelope: %+v", evt)
	}

	var schemaErr *SchemaError
	if _, err := ValidateEnvelope([]byte(`{"type":"ghost","event":"created","fields":{}}`)); !errors.As(err, &schemaErr) {
		t.Fatalf("expected schema error, got %v", err)
	}
}

func TestTopologyExports(t *testing.T) {
	if Exchange != "graph" {
		t.Fatalf("unexpected exchange name %q", Exchange)
	}
	if got := len(RoutingKeys()); got != 12 {
		t.Fatalf("expected 12 routing keys, got %d", got)
	}
	if got := len(MessageTypes()); got != 4 {
		t.Fatalf("expected 4 message types, got %d", got)
	}
	if got := len(EventKinds()); got != 4 {
		t.Fatalf("expected 4 event kinds, got %d", got)
	}
}

func TestTenantExports(t *testing.T) {
	cfg := Tenant{
		Organization: "univ-a",
		Host:         "broker",
		Port:         5672,
		Username:     "projects",
		Password:     "secret",
		Active:       true,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	url, err := cfg.BrokerURL()
	if err != nil {
		t.Fatalf("unexpected url error: %v", err)
	}
	if url == "" {
		t.Fatal("expected a broker url")
	}
}

func TestLoggerExports(t *testing.T) {
	logger := NopLogger()
	logger.Info("boot", LogFields{"component": "test"})
	logger.With(LogFields{"tenant": "univ-a"}).Debug("consume", nil)
}
