package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/menudeck/webhooks/internal/logging"
	"github.com/menudeck/webhooks/internal/signature"
)

func newTestReceiver(secret string, failFirstN int64) *receiver {
	return &receiver{
		secret:     secret,
		sigHeader:  "X-Menudeck-Signature",
		tsHeader:   "X-Menudeck-Timestamp",
		failFirstN: failFirstN,
		maxSkew:    5 * time.Minute,
		log:        logging.New("fake-receiver-test"),
	}
}

func TestVerify(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"event":"menu.published"}`)
	now := time.Now().Unix()
	nowStr := strconv.FormatInt(now, 10)
	validSig := signature.Sign([]byte(secret), body)

	tests := []struct {
		name      string
		body      []byte
		timestamp string
		signature string
		wantOK    bool
		wantMsg   string
	}{
		{
			name:      "valid signature",
			body:      body,
			timestamp: nowStr,
			signature: validSig,
			wantOK:    true,
		},
		{
			name:      "missing timestamp",
			body:      body,
			timestamp: "",
			signature: validSig,
			wantMsg:   "missing headers",
		},
		{
			name:      "missing signature",
			body:      body,
			timestamp: nowStr,
			signature: "",
			wantMsg:   "missing headers",
		},
		{
			name:      "invalid timestamp format",
			body:      body,
			timestamp: "not-a-number",
			signature: validSig,
			wantMsg:   "invalid timestamp",
		},
		{
			name:      "timestamp too old",
			body:      body,
			timestamp: strconv.FormatInt(now-int64((5*time.Minute).Seconds())-10, 10),
			signature: validSig,
			wantMsg:   "timestamp outside leeway",
		},
		{
			name:      "timestamp too new",
			body:      body,
			timestamp: strconv.FormatInt(now+int64((5*time.Minute).Seconds())+10, 10),
			signature: validSig,
			wantMsg:   "timestamp outside leeway",
		},
		{
			name:      "tampered body",
			body:      []byte(`{"event":"menu.deleted"}`),
			timestamp: nowStr,
			signature: validSig,
			wantMsg:   "sig mismatch",
		},
		{
			name:      "wrong scheme",
			body:      body,
			timestamp: nowStr,
			signature: "md5=abcdef",
			wantMsg:   "sig mismatch",
		},
	}

	rcv := newTestReceiver(secret, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, msg := rcv.verify(tt.body, tt.timestamp, tt.signature)
			if ok != tt.wantOK {
				t.Errorf("verify() ok = %v, want %v (msg %q)", ok, tt.wantOK, msg)
			}
			if !tt.wantOK && msg != tt.wantMsg {
				t.Errorf("verify() msg = %q, want %q", msg, tt.wantMsg)
			}
		})
	}
}

func signedRequest(t *testing.T, rcv *receiver, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader(body))
	req.Header.Set(rcv.tsHeader, strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set(rcv.sigHeader, signature.Sign([]byte(rcv.secret), body))
	return req
}

func TestHandleHook(t *testing.T) {
	body := []byte(`{"event":"qr_code.scanned"}`)

	t.Run("accepts signed request", func(t *testing.T) {
		rcv := newTestReceiver("whsec_test", 0)
		w := httptest.NewRecorder()
		rcv.handleHook(w, signedRequest(t, rcv, body))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("rejects bad signature", func(t *testing.T) {
		rcv := newTestReceiver("whsec_test", 0)
		req := signedRequest(t, rcv, body)
		req.Header.Set(rcv.sigHeader, "sha256=deadbeef")
		w := httptest.NewRecorder()
		rcv.handleHook(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("skips verification without a secret", func(t *testing.T) {
		rcv := newTestReceiver("", 0)
		req := httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader(body))
		w := httptest.NewRecorder()
		rcv.handleHook(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("fails the first N requests", func(t *testing.T) {
		rcv := newTestReceiver("whsec_test", 2)
		wantCodes := []int{500, 500, 200, 200}
		for i, want := range wantCodes {
			w := httptest.NewRecorder()
			rcv.handleHook(w, signedRequest(t, rcv, body))
			if w.Code != want {
				t.Errorf("request %d: status = %d, want %d", i+1, w.Code, want)
			}
		}
	})
}
