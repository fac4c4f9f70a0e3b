// Package delivery defines the durable delivery ledger: one row per event per
// endpoint, carrying the immutable payload snapshot and the full attempt
// history needed to resume retries after a restart.
package delivery

import "time"

// Status is the delivery state machine:
//
//	pending -> inflight -> succeeded
//	                    -> retrying -> inflight -> ...
//	                    -> failed
//
// succeeded and failed are terminal; inflight marks a worker's claim.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInflight  Status = "inflight"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// MaxResponseBytes bounds how much of a receiver's response body is kept on
// the row for debugging.
const MaxResponseBytes = 1024

// Delivery is one ledger row. Payload is captured once at creation and never
// recomputed; every attempt sends identical bytes.
type Delivery struct {
	ID           string     `json:"id"`
	EndpointID   string     `json:"endpoint_id"`
	EventType    string     `json:"event_type"`
	Payload      []byte     `json:"payload"`
	Status       Status     `json:"status"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	HTTPStatus   int        `json:"http_status,omitempty"`
	ResponseBody string     `json:"response_body,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewDelivery is the insert shape used by the emitter's fan-out batch.
type NewDelivery struct {
	ID          string
	EndpointID  string
	EventType   string
	Payload     []byte
	MaxAttempts int
}

// Task is one claimed delivery joined with the endpoint fields the dispatcher
// needs for the HTTP call. Attempt is the 1-based number of the attempt the
// claim granted (incremented at claim time, so a crash mid-call still counts
// against MaxAttempts).
type Task struct {
	DeliveryID      string
	EndpointID      string
	EndpointURL     string
	Secret          string
	EndpointEnabled bool
	OrganizationID  string
	EventType       string
	Payload         []byte
	Attempt         int
	MaxAttempts     int
}

// Truncate caps a response body at MaxResponseBytes.
func Truncate(s string) string {
	if len(s) <= MaxResponseBytes {
		return s
	}
	return s[:MaxResponseBytes]
}
