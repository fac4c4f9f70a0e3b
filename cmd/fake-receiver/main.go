// fake-receiver is a local stand-in for a customer's webhook endpoint. It
// verifies signatures and timestamp freshness, and can fail the first N
// requests to exercise the retry path end to end.
package main

import (
	"io"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/menudeck/webhooks/internal/config"
	"github.com/menudeck/webhooks/internal/logging"
	"github.com/menudeck/webhooks/internal/signature"
)

type receiver struct {
	secret      string
	sigHeader   string
	tsHeader    string
	failFirstN  int64
	maxSkew     time.Duration
	reqCount    atomic.Int64
	log         *logging.Logger
}

func main() {
	cfg := config.FromEnv()
	logger := logging.New("fake-receiver")

	rcv := &receiver{
		secret:     cfg.FakeReceiver.EndpointSecret,
		sigHeader:  cfg.Webhook.SignatureHeader,
		tsHeader:   cfg.Webhook.TimestampHeader,
		failFirstN: int64(cfg.FakeReceiver.FailFirstN),
		maxSkew:    5 * time.Minute,
		log:        logger,
	}
	if v := getenvInt("SIGNING_LEEWAY_SECONDS", 0); v > 0 {
		rcv.maxSkew = time.Duration(v) * time.Second
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", rcv.handleHook)

	logger.Plain().WithField("addr", cfg.FakeReceiver.Port).Info("fake-receiver listening")
	if err := http.ListenAndServe(cfg.FakeReceiver.Port, mux); err != nil {
		logger.Plain().WithError(err).Fatal("fake-receiver failed")
	}
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (rc *receiver) handleHook(w http.ResponseWriter, r *http.Request) {
	n := rc.reqCount.Add(1)
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if rc.secret != "" {
		if ok, msg := rc.verify(b, r.Header.Get(rc.tsHeader), r.Header.Get(rc.sigHeader)); !ok {
			rc.log.Plain().WithField("reason", msg).Warn("signature verification failed")
			http.Error(w, "invalid signature: "+msg, http.StatusUnauthorized)
			return
		}
	}

	// Simulated flakiness: the first N requests get a 500.
	if n <= rc.failFirstN {
		rc.log.Plain().WithFields(map[string]any{
			"request": n,
			"of":      rc.failFirstN,
			"body":    truncate(string(b), 160),
		}).Warn("failing on purpose")
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	rc.log.Plain().WithFields(map[string]any{
		"event":    r.Header.Get("X-Menudeck-Event"),
		"delivery": r.Header.Get("X-Menudeck-Delivery"),
		"body":     truncate(string(b), 160),
	}).Info("webhook received")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

// verify checks the body signature and timestamp freshness. The signature
// covers the body bytes only; the timestamp is a separate replay guard.
func (rc *receiver) verify(body []byte, ts, sig string) (bool, string) {
	if ts == "" || sig == "" {
		return false, "missing headers"
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false, "invalid timestamp"
	}
	now := time.Now().Unix()
	if abs64(now-unix) > int64(rc.maxSkew.Seconds()) {
		return false, "timestamp outside leeway"
	}
	if !signature.Verify([]byte(rc.secret), body, sig) {
		return false, "sig mismatch"
	}
	return true, ""
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
