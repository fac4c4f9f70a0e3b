package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/menudeck/webhooks/internal/delivery"
	"github.com/menudeck/webhooks/internal/endpoint"
)

type fakeResolver struct {
	endpoints []endpoint.Endpoint
	err       error
}

func (f *fakeResolver) Resolve(_ context.Context, orgID, eventType string) ([]endpoint.Endpoint, error) {
	return f.endpoints, f.err
}

type fakeLedger struct {
	mu      sync.Mutex
	created []delivery.NewDelivery
	err     error
}

func (f *fakeLedger) CreateBatch(_ context.Context, recs []delivery.NewDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, recs...)
	return nil
}

func (f *fakeLedger) rows() []delivery.NewDelivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]delivery.NewDelivery, len(f.created))
	copy(out, f.created)
	return out
}

func subscribers(n int) []endpoint.Endpoint {
	eps := make([]endpoint.Endpoint, n)
	for i := range eps {
		eps[i] = endpoint.Endpoint{
			ID:         "ep_" + string(rune('a'+i)),
			URL:        "https://example.com/hooks",
			Enabled:    true,
			EventTypes: []string{"menu.published"},
		}
	}
	return eps
}

func TestEmitNowFanOut(t *testing.T) {
	ledger := &fakeLedger{}
	em := New(&fakeResolver{endpoints: subscribers(3)}, ledger, 5)

	n, err := em.EmitNow(context.Background(), "menu.published", "org_1", map[string]any{"id": "menu_1"})
	if err != nil {
		t.Fatalf("EmitNow() error: %v", err)
	}
	if n != 3 {
		t.Errorf("EmitNow() fanout = %d, want 3", n)
	}

	rows := ledger.rows()
	if len(rows) != 3 {
		t.Fatalf("created %d rows, want 3", len(rows))
	}

	// Every row carries the same payload bytes but a distinct endpoint and id.
	seenIDs := map[string]bool{}
	seenEndpoints := map[string]bool{}
	for _, r := range rows {
		if !bytes.Equal(r.Payload, rows[0].Payload) {
			t.Error("fan-out rows carry different payload bytes")
		}
		if r.EventType != "menu.published" {
			t.Errorf("row event type = %q", r.EventType)
		}
		if r.MaxAttempts != 5 {
			t.Errorf("row max attempts = %d, want 5", r.MaxAttempts)
		}
		if seenIDs[r.ID] {
			t.Errorf("duplicate delivery id %q", r.ID)
		}
		if seenEndpoints[r.EndpointID] {
			t.Errorf("duplicate endpoint reference %q", r.EndpointID)
		}
		seenIDs[r.ID] = true
		seenEndpoints[r.EndpointID] = true
	}

	// Payload is the event envelope.
	var env struct {
		Event          string         `json:"event"`
		OrganizationID string         `json:"organizationId"`
		OccurredAt     time.Time      `json:"occurredAt"`
		Data           map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rows[0].Payload, &env); err != nil {
		t.Fatalf("payload not valid envelope JSON: %v", err)
	}
	if env.Event != "menu.published" || env.OrganizationID != "org_1" {
		t.Errorf("envelope = %+v", env)
	}
	if env.OccurredAt.IsZero() {
		t.Error("envelope occurredAt not set")
	}
	if env.Data["id"] != "menu_1" {
		t.Errorf("envelope data = %v", env.Data)
	}
}

func TestEmitNowNoSubscribers(t *testing.T) {
	ledger := &fakeLedger{}
	em := New(&fakeResolver{}, ledger, 5)

	n, err := em.EmitNow(context.Background(), "venue.deleted", "org_1", nil)
	if err != nil {
		t.Fatalf("EmitNow() error: %v", err)
	}
	if n != 0 {
		t.Errorf("EmitNow() fanout = %d, want 0", n)
	}
	if len(ledger.rows()) != 0 {
		t.Error("deliveries created despite zero subscribers")
	}
}

func TestEmitNowValidation(t *testing.T) {
	em := New(&fakeResolver{endpoints: subscribers(1)}, &fakeLedger{}, 5)

	if _, err := em.EmitNow(context.Background(), "menu.vaporized", "org_1", nil); err == nil {
		t.Error("EmitNow() accepted unknown event type")
	}
	if _, err := em.EmitNow(context.Background(), "menu.published", "", nil); err == nil {
		t.Error("EmitNow() accepted empty organization id")
	}
}

func TestEmitNowResolverError(t *testing.T) {
	em := New(&fakeResolver{err: errors.New("db down")}, &fakeLedger{}, 5)
	if _, err := em.EmitNow(context.Background(), "menu.published", "org_1", nil); err == nil {
		t.Error("EmitNow() swallowed resolver error; the async wrapper owns swallowing, not the core")
	}
}

func TestEmitDetachedSwallowsFailure(t *testing.T) {
	// Persistence failure: Emit must not panic and must not surface anything
	// to the caller, even with an already-canceled caller context.
	ledger := &fakeLedger{err: errors.New("insert failed")}
	em := New(&fakeResolver{endpoints: subscribers(1)}, ledger, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	em.Emit(ctx, "menu.published", "org_1", map[string]any{"id": "m1"})

	// Give the detached goroutine a moment; nothing to assert beyond absence
	// of a panic and zero rows.
	time.Sleep(50 * time.Millisecond)
	if len(ledger.rows()) != 0 {
		t.Error("rows created despite ledger failure")
	}
}

func TestEmitDetachedEventuallyPersists(t *testing.T) {
	ledger := &fakeLedger{}
	em := New(&fakeResolver{endpoints: subscribers(2)}, ledger, 5)

	em.Emit(context.Background(), "qr_code.scanned", "org_2", map[string]any{"code": "qr_9"})

	deadline := time.After(2 * time.Second)
	for {
		if len(ledger.rows()) == 2 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("detached emit created %d rows, want 2", len(ledger.rows()))
		case <-time.After(10 * time.Millisecond):
		}
	}
}
