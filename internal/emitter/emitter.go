// Package emitter turns domain mutations into delivery ledger rows. It is
// called synchronously from mutation code but is fully detached: the caller
// never waits on it and never sees its errors.
package emitter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/menudeck/webhooks/internal/delivery"
	"github.com/menudeck/webhooks/internal/endpoint"
	"github.com/menudeck/webhooks/internal/event"
	"github.com/menudeck/webhooks/internal/logging"
	"github.com/menudeck/webhooks/internal/metrics"
	"github.com/menudeck/webhooks/internal/tracing"
)

// Resolver lists the enabled endpoints of an organization subscribed to an
// event type.
type Resolver interface {
	Resolve(ctx context.Context, orgID, eventType string) ([]endpoint.Endpoint, error)
}

// Ledger appends pending delivery rows.
type Ledger interface {
	CreateBatch(ctx context.Context, recs []delivery.NewDelivery) error
}

type Emitter struct {
	resolver    Resolver
	ledger      Ledger
	log         *logging.Logger
	maxAttempts int
	timeout     time.Duration
}

func New(resolver Resolver, ledger Ledger, maxAttempts int) *Emitter {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Emitter{
		resolver:    resolver,
		ledger:      ledger,
		log:         logging.New("webhooks-emitter"),
		maxAttempts: maxAttempts,
		timeout:     5 * time.Second,
	}
}

// Emit resolves subscribers and persists one pending delivery per subscriber,
// detached from the caller: it returns immediately and any failure is logged
// and dropped. The triggering business operation must succeed regardless of
// what happens here.
func (e *Emitter) Emit(ctx context.Context, eventType, orgID string, snapshot any) {
	// Detach from the caller's cancellation but keep trace correlation.
	bg := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Plain().WithOrganization(orgID).WithEventType(eventType).
					WithField("panic", fmt.Sprint(r)).Error("emit panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(bg, e.timeout)
		defer cancel()
		if _, err := e.EmitNow(ctx, eventType, orgID, snapshot); err != nil {
			e.log.WithContext(ctx).WithOrganization(orgID).WithEventType(eventType).
				WithError(err).Error("emit failed, event dropped")
		}
	}()
}

// EmitNow is the synchronous core of Emit. It returns the fan-out count: the
// number of delivery rows created, one per subscribed endpoint. No network
// I/O happens here; dispatch is the workers' job.
func (e *Emitter) EmitNow(ctx context.Context, eventType, orgID string, snapshot any) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "emitter.emit",
		attribute.String("organization_id", orgID),
		attribute.String("event_type", eventType),
	)
	defer span.End()

	if !event.Valid(eventType) {
		err := fmt.Errorf("unknown event type %q", eventType)
		tracing.SetSpanError(ctx, err)
		return 0, err
	}
	if orgID == "" {
		err := fmt.Errorf("organization id is required")
		tracing.SetSpanError(ctx, err)
		return 0, err
	}

	tracing.AddSpanEvent(ctx, "resolve_subscribers")
	subs, err := e.resolver.Resolve(ctx, orgID, eventType)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return 0, fmt.Errorf("resolve subscribers: %w", err)
	}
	span.SetAttributes(attribute.Int("subscribers_count", len(subs)))
	if len(subs) == 0 {
		return 0, nil
	}

	// Serialize once. These exact bytes are persisted per delivery and sent
	// unchanged on every attempt.
	payload, err := event.NewEnvelope(eventType, orgID, snapshot).Encode()
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return 0, fmt.Errorf("encode envelope: %w", err)
	}

	recs := make([]delivery.NewDelivery, 0, len(subs))
	for _, sub := range subs {
		recs = append(recs, delivery.NewDelivery{
			ID:          uuid.NewString(),
			EndpointID:  sub.ID,
			EventType:   eventType,
			Payload:     payload,
			MaxAttempts: e.maxAttempts,
		})
	}

	tracing.AddSpanEvent(ctx, "create_deliveries_batch", attribute.Int("delivery_count", len(recs)))
	if err := e.ledger.CreateBatch(ctx, recs); err != nil {
		tracing.SetSpanError(ctx, err)
		return 0, fmt.Errorf("create deliveries: %w", err)
	}

	metrics.RecordEmitted(eventType)
	span.SetAttributes(attribute.Int("fanout_count", len(recs)))
	return len(recs), nil
}
