package delivery

import "time"

const DeadLetterType = "webhook.delivery.dead"

// DeadLetter is the envelope published to the dead-letter topic when a
// delivery reaches terminal failure, for downstream alerting/replay tooling.
type DeadLetter struct {
	Type           string            `json:"type"`    // "webhook.delivery.dead"
	Version        string            `json:"version"` // schema version
	At             string            `json:"at"`      // RFC3339 time the dead letter was emitted
	Reason         string            `json:"reason"`  // human/debug text
	DeliveryID     string            `json:"delivery_id"`
	EndpointID     string            `json:"endpoint_id"`
	OrganizationID string            `json:"organization_id"`
	EventType      string            `json:"event_type"`
	Attempt        int               `json:"attempt"` // attempt count at terminal failure
	HTTPStatus     int               `json:"http_status,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	TraceHeaders   map[string]string `json:"trace_headers,omitempty"`
}

func NewDeadLetter(t Task, httpStatus int, lastErr, reason string, traceHeaders map[string]string) DeadLetter {
	return DeadLetter{
		Type:           DeadLetterType,
		Version:        "v1",
		At:             time.Now().Format(time.RFC3339Nano),
		Reason:         reason,
		DeliveryID:     t.DeliveryID,
		EndpointID:     t.EndpointID,
		OrganizationID: t.OrganizationID,
		EventType:      t.EventType,
		Attempt:        t.Attempt,
		HTTPStatus:     httpStatus,
		LastError:      lastErr,
		TraceHeaders:   traceHeaders,
	}
}
