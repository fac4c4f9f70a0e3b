package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	logger := New("webhooks-dispatcher")
	if logger == nil {
		t.Fatal("New() returned nil logger")
	}
	if logger.service != "webhooks-dispatcher" {
		t.Errorf("New() service = %q, want %q", logger.service, "webhooks-dispatcher")
	}
}

func TestLoggerEntryConstructors(t *testing.T) {
	logger := New("test-service")

	t.Run("Plain", func(t *testing.T) {
		entry := logger.Plain()
		if entry.Service != "test-service" {
			t.Errorf("Plain() Service = %q", entry.Service)
		}
		if entry.Time.IsZero() {
			t.Error("Plain() Time not set")
		}
		if len(entry.Fields) != 0 {
			t.Errorf("Plain() Fields = %v, want empty", entry.Fields)
		}
	})

	t.Run("WithContext without trace", func(t *testing.T) {
		entry := logger.WithContext(context.Background())
		if entry.TraceID != "" {
			t.Errorf("WithContext() TraceID = %q, want empty without an active span", entry.TraceID)
		}
	})

	t.Run("WithFields", func(t *testing.T) {
		entry := logger.WithFields(map[string]any{"attempt": 3, "reason": "http_5xx"})
		if entry.Fields["attempt"] != 3 || entry.Fields["reason"] != "http_5xx" {
			t.Errorf("WithFields() Fields = %v", entry.Fields)
		}
	})
}

func TestLogEntryFluentMethods(t *testing.T) {
	tests := []struct {
		name  string
		apply func(*LogEntry) *LogEntry
		check func(*testing.T, *LogEntry)
	}{
		{
			name:  "WithTraceID",
			apply: func(e *LogEntry) *LogEntry { return e.WithTraceID("trace-123") },
			check: func(t *testing.T, e *LogEntry) {
				if e.TraceID != "trace-123" {
					t.Errorf("TraceID = %q", e.TraceID)
				}
			},
		},
		{
			name:  "WithOrganization",
			apply: func(e *LogEntry) *LogEntry { return e.WithOrganization("org_42") },
			check: func(t *testing.T, e *LogEntry) {
				if e.OrganizationID != "org_42" {
					t.Errorf("OrganizationID = %q", e.OrganizationID)
				}
			},
		},
		{
			name:  "WithEventType",
			apply: func(e *LogEntry) *LogEntry { return e.WithEventType("menu.published") },
			check: func(t *testing.T, e *LogEntry) {
				if e.EventType != "menu.published" {
					t.Errorf("EventType = %q", e.EventType)
				}
			},
		},
		{
			name:  "WithDelivery",
			apply: func(e *LogEntry) *LogEntry { return e.WithDelivery("dlv_abc") },
			check: func(t *testing.T, e *LogEntry) {
				if e.DeliveryID != "dlv_abc" {
					t.Errorf("DeliveryID = %q", e.DeliveryID)
				}
			},
		},
		{
			name:  "WithEndpoint",
			apply: func(e *LogEntry) *LogEntry { return e.WithEndpoint("ep_def") },
			check: func(t *testing.T, e *LogEntry) {
				if e.EndpointID != "ep_def" {
					t.Errorf("EndpointID = %q", e.EndpointID)
				}
			},
		},
		{
			name: "chained",
			apply: func(e *LogEntry) *LogEntry {
				return e.WithOrganization("org_1").WithEventType("venue.updated").WithDelivery("dlv_1")
			},
			check: func(t *testing.T, e *LogEntry) {
				if e.OrganizationID != "org_1" || e.EventType != "venue.updated" || e.DeliveryID != "dlv_1" {
					t.Errorf("chained entry = %+v", e)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := New("test-service").Plain()
			if got := tt.apply(entry); got != entry {
				t.Error("fluent method must return the same entry")
			}
			tt.check(t, entry)
		})
	}
}

func TestLogEntryWithError(t *testing.T) {
	entry := New("test-service").Plain()

	entry.WithError(nil)
	if _, ok := entry.Fields["error"]; ok {
		t.Error("WithError(nil) added an error field")
	}

	entry.WithError(errors.New("dial tcp: connection refused"))
	if entry.Fields["error"] != "dial tcp: connection refused" {
		t.Errorf("Fields[\"error\"] = %v", entry.Fields["error"])
	}
}

func TestLogEntryOutputJSON(t *testing.T) {
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() { os.Stdout = oldStdout }()

	New("test-service").Plain().
		WithDelivery("dlv_1").
		WithField("attempt", 2).
		Warn("delivery scheduled for retry")

	w.Close()
	var buf bytes.Buffer
	io.Copy(&buf, r)

	var entry LogEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, buf.String())
	}
	if entry.Level != LevelWarn {
		t.Errorf("Level = %q, want %q", entry.Level, LevelWarn)
	}
	if entry.Message != "delivery scheduled for retry" {
		t.Errorf("Message = %q", entry.Message)
	}
	if entry.Service != "test-service" {
		t.Errorf("Service = %q", entry.Service)
	}
	if entry.DeliveryID != "dlv_1" {
		t.Errorf("DeliveryID = %q", entry.DeliveryID)
	}
	if entry.Fields["attempt"] != float64(2) {
		t.Errorf("Fields[\"attempt\"] = %v", entry.Fields["attempt"])
	}
}

func TestGlobalFunctions(t *testing.T) {
	original := defaultLogger.service
	defer func() { defaultLogger.service = original }()

	SetDefaultService("webhooks-test")

	if e := Plain(); e.Service != "webhooks-test" {
		t.Errorf("Plain() Service = %q", e.Service)
	}
	if e := WithContext(context.Background()); e.Service != "webhooks-test" {
		t.Errorf("WithContext() Service = %q", e.Service)
	}
	if e := WithFields(map[string]any{"k": "v"}); e.Fields["k"] != "v" {
		t.Errorf("WithFields() Fields = %v", e.Fields)
	}
}
