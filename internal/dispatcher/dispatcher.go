// Package dispatcher runs the worker pool that drains the delivery ledger:
// claim due rows, perform the signed HTTP call, classify the result, update
// the row, loop until every delivery is terminal.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"github.com/menudeck/webhooks/internal/delivery"
	"github.com/menudeck/webhooks/internal/logging"
	"github.com/menudeck/webhooks/internal/metrics"
	"github.com/menudeck/webhooks/internal/retry"
	"github.com/menudeck/webhooks/internal/signature"
	"github.com/menudeck/webhooks/internal/tracing"
)

// Ledger is the slice of the delivery store the dispatcher drives. All worker
// coordination happens through these conditional updates.
type Ledger interface {
	Claim(ctx context.Context, limit int) ([]delivery.Task, error)
	MarkSucceeded(ctx context.Context, id string, httpStatus int, responseBody string) error
	MarkRetrying(ctx context.Context, id string, nextRetryAt time.Time, httpStatus int, responseBody, lastErr string) error
	MarkFailed(ctx context.Context, id string, httpStatus int, responseBody, lastErr string) error
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, int64, error)
}

// DeadLetterPublisher pushes terminal failures to an out-of-band topic.
// *nsq.Producer satisfies it.
type DeadLetterPublisher interface {
	Publish(topic string, body []byte) error
}

type Config struct {
	Workers      int
	PollInterval time.Duration
	BatchSize    int
	HTTPTimeout  time.Duration
	StaleAfter   time.Duration

	// FailDisabledEndpoints terminally fails claimed deliveries whose
	// endpoint was disabled after the delivery was created. The default
	// (false) lets them drain naturally.
	FailDisabledEndpoints bool

	Backoff retry.Policy

	SignatureHeader string
	TimestampHeader string
	EventHeader     string
	DeliveryHeader  string
	UserAgent       string

	DLQTopic string

	BreakerThreshold int
	BreakerReset     time.Duration
}

func (c *Config) fillDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.Backoff == (retry.Policy{}) {
		c.Backoff = retry.Default()
	}
	if c.SignatureHeader == "" {
		c.SignatureHeader = "X-Menudeck-Signature"
	}
	if c.TimestampHeader == "" {
		c.TimestampHeader = "X-Menudeck-Timestamp"
	}
	if c.EventHeader == "" {
		c.EventHeader = "X-Menudeck-Event"
	}
	if c.DeliveryHeader == "" {
		c.DeliveryHeader = "X-Menudeck-Delivery"
	}
	if c.UserAgent == "" {
		c.UserAgent = "menudeck-webhooks/1.0"
	}
}

// Pool is a set of independent sweep workers over one ledger. Pools in
// different processes coexist: the claim update is the only synchronization
// point.
type Pool struct {
	ledger   Ledger
	client   *http.Client
	cfg      Config
	log      *logging.Logger
	breakers *breakerSet
	dlq      DeadLetterPublisher
}

func New(ledger Ledger, cfg Config, opts ...Option) *Pool {
	cfg.fillDefaults()
	log := logging.New("webhooks-dispatcher")
	p := &Pool{
		ledger:   ledger,
		client:   &http.Client{Timeout: cfg.HTTPTimeout},
		cfg:      cfg,
		log:      log,
		breakers: newBreakerSet(cfg.BreakerThreshold, cfg.BreakerReset, log),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type Option func(*Pool)

// WithDeadLetterPublisher enables out-of-band dead-letter publication for
// terminally failed deliveries.
func WithDeadLetterPublisher(pub DeadLetterPublisher) Option {
	return func(p *Pool) { p.dlq = pub }
}

// WithHTTPClient overrides the outbound client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pool) { p.client = c }
}

// Run sweeps until ctx is canceled, then waits for in-flight dispatches to
// record their outcomes before returning.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.staleLoop(ctx)
	}()

	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(i)
	}

	wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	// Stagger the first sweep so workers don't hammer the ledger in lockstep.
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(rand.Int63n(int64(p.cfg.PollInterval) + 1))):
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		p.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sweep claims and dispatches batches until the ledger has no more due rows.
// A claimed batch is always dispatched to completion: attempts were already
// counted at claim time, and the stale requeue would otherwise have to pick
// the rows up later.
func (p *Pool) sweep(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		tasks, err := p.ledger.Claim(ctx, p.cfg.BatchSize)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				p.log.WithContext(ctx).WithError(err).Error("claim sweep failed")
			}
			return
		}
		if len(tasks) == 0 {
			return
		}
		for _, t := range tasks {
			p.dispatch(ctx, t)
		}
		if len(tasks) < p.cfg.BatchSize {
			return
		}
	}
}

func (p *Pool) staleLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.StaleAfter / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requeued, failed, err := p.ledger.RequeueStale(ctx, p.cfg.StaleAfter)
			if err != nil {
				p.log.WithContext(ctx).WithError(err).Error("stale requeue failed")
				continue
			}
			if requeued > 0 || failed > 0 {
				p.log.Plain().WithFields(map[string]any{
					"requeued": requeued,
					"failed":   failed,
				}).Warn("recovered deliveries abandoned inflight")
			}
		}
	}
}

// dispatch performs one attempt for a claimed delivery and records the
// outcome. Outcome updates run on a detached context: once the network call
// happened, the result must land in the ledger even during shutdown.
func (p *Pool) dispatch(ctx context.Context, t delivery.Task) {
	bg := context.WithoutCancel(ctx)
	ctx, span := tracing.StartSpan(bg, "dispatcher.dispatch",
		attribute.String("delivery_id", t.DeliveryID),
		attribute.String("endpoint_id", t.EndpointID),
		attribute.String("organization_id", t.OrganizationID),
		attribute.String("event_type", t.EventType),
		attribute.Int("attempt", t.Attempt),
	)
	defer span.End()

	if !t.EndpointEnabled && p.cfg.FailDisabledEndpoints {
		tracing.AddSpanEvent(ctx, "delivery.endpoint_disabled")
		p.fail(ctx, t, 0, "", "endpoint_disabled", "endpoint disabled before dispatch")
		return
	}

	start := time.Now()
	status, respBody, doErr := p.send(ctx, t)
	latency := time.Since(start)

	span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.Int64("http.latency_ms", latency.Milliseconds()),
	)
	if doErr != nil {
		span.SetAttributes(attribute.String("http.error", doErr.Error()))
	}

	switch Classify(doErr, status) {
	case OutcomeSuccess:
		tracing.AddSpanEvent(ctx, "delivery.succeeded")
		if err := p.ledger.MarkSucceeded(ctx, t.DeliveryID, status, respBody); err != nil {
			p.log.WithContext(ctx).WithDelivery(t.DeliveryID).WithError(err).Error("record success failed")
			tracing.SetSpanError(ctx, err)
		}
		metrics.RecordDelivery("succeeded", latency)

	case OutcomePermanent:
		reason := Reason(doErr, status)
		tracing.AddSpanEvent(ctx, "delivery.permanent_failure", attribute.String("reason", reason))
		p.fail(ctx, t, status, respBody, reason, fmt.Sprintf("permanent failure: status %d", status))
		metrics.RecordDelivery("failed", latency)

	case OutcomeRetryable:
		reason := Reason(doErr, status)
		metrics.RecordRetry(reason)

		if t.Attempt >= t.MaxAttempts {
			tracing.AddSpanEvent(ctx, "delivery.attempts_exhausted", attribute.String("reason", reason))
			p.fail(ctx, t, status, respBody, errString(doErr),
				fmt.Sprintf("max attempts reached (%d), last status=%d, err=%s", t.Attempt, status, errString(doErr)))
			metrics.RecordDelivery("failed", latency)
			return
		}

		next := p.cfg.Backoff.NextRetryAt(time.Now(), t.Attempt)
		tracing.AddSpanEvent(ctx, "delivery.retry_scheduled",
			attribute.String("reason", reason),
			attribute.String("next_retry_at", next.Format(time.RFC3339)),
		)
		lastErr := errString(doErr)
		if lastErr == "" {
			lastErr = reason
		}
		if err := p.ledger.MarkRetrying(ctx, t.DeliveryID, next, status, respBody, lastErr); err != nil {
			p.log.WithContext(ctx).WithDelivery(t.DeliveryID).WithError(err).Error("record retry failed")
			tracing.SetSpanError(ctx, err)
		}
		metrics.RecordDelivery("retrying", latency)
		p.log.WithContext(ctx).WithDelivery(t.DeliveryID).WithEndpoint(t.EndpointID).WithFields(map[string]any{
			"attempt": t.Attempt,
			"reason":  reason,
			"next":    next.Format(time.RFC3339),
		}).Info("delivery scheduled for retry")
	}
}

// send performs the signed HTTP POST through the endpoint's circuit breaker.
// An open breaker fails fast without network I/O.
func (p *Pool) send(ctx context.Context, t delivery.Task) (status int, respBody string, err error) {
	cb := p.breakers.get(t.EndpointID)
	res, cbErr := cb.Execute(func() (any, error) {
		return p.post(ctx, t)
	})
	if errors.Is(cbErr, gobreaker.ErrOpenState) || errors.Is(cbErr, gobreaker.ErrTooManyRequests) {
		return 0, "", fmt.Errorf("endpoint circuit open: %w", cbErr)
	}
	if r, ok := res.(httpResult); ok {
		status, respBody = r.status, r.body
	}
	if cbErr != nil && status == 0 {
		err = cbErr
	}
	return status, respBody, err
}

type httpResult struct {
	status int
	body   string
}

// post issues the actual request. A 5xx is returned alongside a non-nil error
// so the breaker counts it as a failure; the caller classifies on the status.
func (p *Pool) post(ctx context.Context, t delivery.Task) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.EndpointURL, bytes.NewReader(t.Payload))
	if err != nil {
		return httpResult{}, err
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set(p.cfg.EventHeader, t.EventType)
	req.Header.Set(p.cfg.DeliveryHeader, t.DeliveryID)
	req.Header.Set(p.cfg.TimestampHeader, ts)
	req.Header.Set(p.cfg.SignatureHeader, signature.Sign([]byte(t.Secret), t.Payload))
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return httpResult{}, err
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, delivery.MaxResponseBytes))
	r := httpResult{status: resp.StatusCode, body: string(b)}
	if resp.StatusCode >= 500 {
		return r, fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	return r, nil
}

// fail records a terminal failure and publishes the dead letter.
func (p *Pool) fail(ctx context.Context, t delivery.Task, status int, respBody, lastErr, reason string) {
	if err := p.ledger.MarkFailed(ctx, t.DeliveryID, status, respBody, lastErr); err != nil {
		p.log.WithContext(ctx).WithDelivery(t.DeliveryID).WithError(err).Error("record failure failed")
		tracing.SetSpanError(ctx, err)
		return
	}
	metrics.RecordDeadLetter()
	p.log.WithContext(ctx).WithDelivery(t.DeliveryID).WithEndpoint(t.EndpointID).WithFields(map[string]any{
		"attempt": t.Attempt,
		"reason":  reason,
	}).Warn("delivery terminally failed")

	if p.dlq == nil || p.cfg.DLQTopic == "" {
		return
	}
	env := delivery.NewDeadLetter(t, status, lastErr, reason, tracing.InjectCarrier(ctx))
	b, err := json.Marshal(env)
	if err != nil {
		p.log.WithContext(ctx).WithDelivery(t.DeliveryID).WithError(err).Error("dead letter marshal failed")
		return
	}
	if err := p.dlq.Publish(p.cfg.DLQTopic, b); err != nil {
		p.log.WithContext(ctx).WithDelivery(t.DeliveryID).WithError(err).Error("dead letter publish failed")
		tracing.SetSpanError(ctx, err)
		return
	}
	tracing.AddSpanEvent(ctx, "dead_letter.published", attribute.String("topic", p.cfg.DLQTopic))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
