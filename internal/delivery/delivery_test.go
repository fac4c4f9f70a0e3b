package delivery

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusInflight, false},
		{StatusRetrying, false},
		{StatusSucceeded, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	short := "ok"
	if got := Truncate(short); got != short {
		t.Errorf("Truncate(%q) = %q, want unchanged", short, got)
	}

	long := strings.Repeat("x", MaxResponseBytes+500)
	got := Truncate(long)
	if len(got) != MaxResponseBytes {
		t.Errorf("Truncate() length = %d, want %d", len(got), MaxResponseBytes)
	}

	exact := strings.Repeat("y", MaxResponseBytes)
	if got := Truncate(exact); got != exact {
		t.Error("Truncate() modified a body of exactly MaxResponseBytes")
	}
}

func TestNewDeadLetter(t *testing.T) {
	task := Task{
		DeliveryID:     "d_1",
		EndpointID:     "ep_1",
		OrganizationID: "org_1",
		EventType:      "menu.published",
		Attempt:        5,
	}

	before := time.Now()
	dl := NewDeadLetter(task, 503, "service unavailable", "max attempts reached (5)", map[string]string{"traceparent": "00-abc-def-01"})
	after := time.Now()

	if dl.Type != DeadLetterType {
		t.Errorf("Type = %q, want %q", dl.Type, DeadLetterType)
	}
	if dl.Version != "v1" {
		t.Errorf("Version = %q, want v1", dl.Version)
	}
	if dl.DeliveryID != task.DeliveryID || dl.EndpointID != task.EndpointID {
		t.Errorf("identity fields not copied: %+v", dl)
	}
	if dl.Attempt != 5 || dl.HTTPStatus != 503 {
		t.Errorf("attempt/status = %d/%d, want 5/503", dl.Attempt, dl.HTTPStatus)
	}

	at, err := time.Parse(time.RFC3339Nano, dl.At)
	if err != nil {
		t.Fatalf("At timestamp parse error: %v", err)
	}
	if at.Before(before) || at.After(after) {
		t.Errorf("At = %v, not between %v and %v", at, before, after)
	}
}

func TestDeadLetterJSON(t *testing.T) {
	dl := NewDeadLetter(Task{DeliveryID: "d_1", EventType: "venue.deleted", Attempt: 3}, 0, "connection refused", "max attempts reached (3)", nil)

	b, err := json.Marshal(dl)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded DeadLetter
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if decoded.DeliveryID != "d_1" || decoded.LastError != "connection refused" {
		t.Errorf("round trip mismatch: %+v", decoded)
	}
	// http_status omitted when zero
	if strings.Contains(string(b), "http_status") {
		t.Errorf("zero http_status should be omitted: %s", b)
	}
}
