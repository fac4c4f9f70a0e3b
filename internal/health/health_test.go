package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(_ context.Context) error { return f.err }

func TestHTTPHandler(t *testing.T) {
	tests := []struct {
		name       string
		db         Pinger
		wantCode   int
		wantStatus Status
	}{
		{
			name:       "healthy with nil db",
			db:         nil,
			wantCode:   http.StatusOK,
			wantStatus: Status{OK: true, Message: "ok", Database: true},
		},
		{
			name:       "healthy with reachable db",
			db:         &fakePinger{},
			wantCode:   http.StatusOK,
			wantStatus: Status{OK: true, Message: "ok", Database: true},
		},
		{
			name:       "unhealthy when ping fails",
			db:         &fakePinger{err: errors.New("connection reset")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: Status{OK: false, Message: "db ping failed", Database: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			w := httptest.NewRecorder()

			HTTPHandler(tt.db)(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			var got Status
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatalf("response JSON parse error: %v", err)
			}
			if got != tt.wantStatus {
				t.Errorf("status = %+v, want %+v", got, tt.wantStatus)
			}
		})
	}
}
