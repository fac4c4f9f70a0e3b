package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type DB struct {
	User     string
	Pass     string
	Host     string
	Port     string
	Name     string
	MaxConns int
}

// DisabledEndpointPolicy controls what the dispatcher does with a claimed
// delivery whose endpoint has been disabled since the delivery was created.
type DisabledEndpointPolicy string

const (
	// PolicyDeliver lets already-created deliveries drain naturally; disabling
	// an endpoint only affects future subscription resolution.
	PolicyDeliver DisabledEndpointPolicy = "deliver"
	// PolicyFail terminally fails claimed deliveries for disabled endpoints.
	PolicyFail DisabledEndpointPolicy = "fail"
)

type Dispatcher struct {
	Workers          int                    // concurrent dispatch workers
	PollInterval     time.Duration          // sweep period per worker
	BatchSize        int                    // max deliveries claimed per sweep
	HTTPTimeout      time.Duration          // bound on each outbound call
	MaxAttempts      int                    // default per-delivery attempt bound
	RetryBase        time.Duration          // first retry delay
	RetryCap         time.Duration          // max un-jittered retry delay
	JitterPercent    float64                // backoff jitter percentage (0.0-1.0)
	StaleAfter       time.Duration          // inflight visibility timeout before requeue
	DisabledEndpoint DisabledEndpointPolicy // deliver or fail
	BreakerThreshold int                    // consecutive failures before a breaker opens
	BreakerReset     time.Duration          // open-state duration before half-open probe
}

type Webhook struct {
	SignatureHeader string // HTTP header carrying sha256=<hex>
	TimestampHeader string // HTTP header carrying unix seconds
	EventHeader     string // HTTP header carrying the event type
	DeliveryHeader  string // HTTP header carrying the delivery id
	UserAgent       string
}

type NSQ struct {
	NsqdTCPAddr string // e.g. nsqd:4150
	DLQTopic    string // dead-letter topic for terminally failed deliveries
	PublishDLQ  bool   // whether to publish dead letters at all
}

type FakeReceiver struct {
	FailFirstN     int    // number of requests to fail initially
	EndpointSecret string // secret for webhook signature verification
	Port           string // server listen port
}

type Config struct {
	AppName      string
	HTTPPort     string // worker metrics/health port, e.g. :8082
	DB           DB
	Dispatcher   Dispatcher
	Webhook      Webhook
	NSQ          NSQ
	FakeReceiver FakeReceiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseDisabledPolicy(v string) DisabledEndpointPolicy {
	switch DisabledEndpointPolicy(v) {
	case PolicyFail:
		return PolicyFail
	default:
		return PolicyDeliver
	}
}

func FromEnv() Config {
	return Config{
		AppName:  getenv("APP_NAME", "webhooks"),
		HTTPPort: getenv("HTTP_PORT", ":8082"),
		DB: DB{
			User:     getenv("DB_USER", "postgres"),
			Pass:     getenv("DB_PASS", "postgres"),
			Host:     getenv("DB_HOST", "postgres"),
			Port:     getenv("DB_PORT", "5432"),
			Name:     getenv("DB_NAME", "menudeck"),
			MaxConns: getenvInt("DB_MAX_CONNS", 10),
		},
		Dispatcher: Dispatcher{
			Workers:          getenvInt("DISPATCH_WORKERS", 4),
			PollInterval:     getenvDuration("DISPATCH_POLL_INTERVAL", 2*time.Second),
			BatchSize:        getenvInt("DISPATCH_BATCH_SIZE", 25),
			HTTPTimeout:      getenvDuration("DISPATCH_HTTP_TIMEOUT", 10*time.Second),
			MaxAttempts:      getenvInt("MAX_ATTEMPTS", 5),
			RetryBase:        getenvDuration("RETRY_BASE", 30*time.Second),
			RetryCap:         getenvDuration("RETRY_CAP", time.Hour),
			JitterPercent:    getenvFloat("RETRY_JITTER_PCT", 0.25),
			StaleAfter:       getenvDuration("CLAIM_STALE_AFTER", 5*time.Minute),
			DisabledEndpoint: parseDisabledPolicy(getenv("DISABLED_ENDPOINT_POLICY", "deliver")),
			BreakerThreshold: getenvInt("BREAKER_FAILURE_THRESHOLD", 5),
			BreakerReset:     getenvDuration("BREAKER_RESET_TIMEOUT", time.Minute),
		},
		Webhook: Webhook{
			SignatureHeader: getenv("WEBHOOK_SIGNATURE_HEADER", "X-Menudeck-Signature"),
			TimestampHeader: getenv("WEBHOOK_TIMESTAMP_HEADER", "X-Menudeck-Timestamp"),
			EventHeader:     getenv("WEBHOOK_EVENT_HEADER", "X-Menudeck-Event"),
			DeliveryHeader:  getenv("WEBHOOK_DELIVERY_HEADER", "X-Menudeck-Delivery"),
			UserAgent:       getenv("WEBHOOK_USER_AGENT", "menudeck-webhooks/1.0"),
		},
		NSQ: NSQ{
			NsqdTCPAddr: getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			DLQTopic:    getenv("NSQ_DLQ_TOPIC", "webhook_deliveries_dlq"),
			PublishDLQ:  getenvBool("PUBLISH_DLQ_TOPIC", false),
		},
		FakeReceiver: FakeReceiver{
			FailFirstN:     getenvInt("FAIL_FIRST_N", 0),
			EndpointSecret: getenv("ENDPOINT_SECRET", ""),
			Port:           getenv("FAKE_RECEIVER_PORT", ":8081"),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
