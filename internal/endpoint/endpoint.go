// Package endpoint holds tenant-registered webhook endpoints: where events
// are delivered, under which secret, and for which event types.
package endpoint

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/menudeck/webhooks/internal/event"
)

// ErrNotFound is returned when an endpoint id does not exist.
var ErrNotFound = errors.New("endpoint not found")

// Endpoint is one tenant-owned delivery target. Secret is immutable after
// creation and must never appear in logs.
type Endpoint struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	URL            string    `json:"url"`
	Secret         string    `json:"-"`
	EventTypes     []string  `json:"event_types"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Subscribed reports whether the endpoint subscribes to eventType.
func (e Endpoint) Subscribed(eventType string) bool {
	for _, t := range e.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// ValidateNew checks the fields of a to-be-created endpoint.
func ValidateNew(orgID, rawURL string, eventTypes []string) error {
	if orgID == "" {
		return errors.New("organization id is required")
	}
	if rawURL == "" {
		return errors.New("url is required")
	}
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if len(eventTypes) == 0 {
		return errors.New("at least one event type is required")
	}
	for _, t := range eventTypes {
		if !event.Valid(t) {
			return fmt.Errorf("unknown event type %q", t)
		}
	}
	return nil
}

// GenerateSecret returns a random base64-encoded secret of n bytes entropy.
func GenerateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
