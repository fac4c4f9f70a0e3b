// Package event defines the catalog of emitted event types and the payload
// envelope delivered to endpoints.
package event

import (
	"encoding/json"
	"time"
)

// Event types emitted by the platform. Receivers subscribe by exact name.
const (
	MenuCreated   = "menu.created"
	MenuUpdated   = "menu.updated"
	MenuPublished = "menu.published"
	MenuDeleted   = "menu.deleted"

	VenueCreated = "venue.created"
	VenueUpdated = "venue.updated"
	VenueDeleted = "venue.deleted"

	QRCodeCreated = "qr_code.created"
	QRCodeDeleted = "qr_code.deleted"
	QRCodeScanned = "qr_code.scanned"

	SubscriptionCreated  = "subscription.created"
	SubscriptionUpdated  = "subscription.updated"
	SubscriptionCanceled = "subscription.canceled"

	OrganizationUpdated = "organization.updated"
	OrganizationDeleted = "organization.deleted"

	TeamMemberAdded   = "team.member_added"
	TeamMemberRemoved = "team.member_removed"
)

var catalog = []string{
	MenuCreated, MenuUpdated, MenuPublished, MenuDeleted,
	VenueCreated, VenueUpdated, VenueDeleted,
	QRCodeCreated, QRCodeDeleted, QRCodeScanned,
	SubscriptionCreated, SubscriptionUpdated, SubscriptionCanceled,
	OrganizationUpdated, OrganizationDeleted,
	TeamMemberAdded, TeamMemberRemoved,
}

var catalogSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(catalog))
	for _, t := range catalog {
		m[t] = struct{}{}
	}
	return m
}()

// Types returns the full event-type catalog in a stable order.
func Types() []string {
	out := make([]string, len(catalog))
	copy(out, catalog)
	return out
}

// Valid reports whether t is a known event type.
func Valid(t string) bool {
	_, ok := catalogSet[t]
	return ok
}

// Envelope is the structured record delivered to every subscribed endpoint.
// Field order is fixed; Encode produces the exact bytes that are persisted on
// each delivery and sent on every attempt.
type Envelope struct {
	Event          string    `json:"event"`
	OrganizationID string    `json:"organizationId"`
	OccurredAt     time.Time `json:"occurredAt"`
	Data           any       `json:"data"`
}

// NewEnvelope builds an envelope stamped with the current UTC time.
func NewEnvelope(eventType, orgID string, data any) Envelope {
	return Envelope{
		Event:          eventType,
		OrganizationID: orgID,
		OccurredAt:     time.Now().UTC(),
		Data:           data,
	}
}

// Encode serializes the envelope to canonical bytes. encoding/json emits
// struct fields in declaration order and map keys sorted, so the same logical
// event always encodes to the same bytes.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
