package dispatcher

import "strings"

// Outcome is the classification of one dispatch attempt.
type Outcome int

const (
	// OutcomeSuccess: the receiver accepted the delivery (2xx).
	OutcomeSuccess Outcome = iota
	// OutcomeRetryable: transient failure, worth another attempt (408, 429,
	// 5xx, connection errors, timeouts).
	OutcomeRetryable
	// OutcomePermanent: client error that will not heal on retry (other 4xx).
	OutcomePermanent
)

// Classify maps an HTTP result to an outcome. err is the transport error from
// the client, nil when a response was received.
func Classify(err error, status int) Outcome {
	if err != nil {
		return OutcomeRetryable
	}
	switch {
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status == 408 || status == 429:
		return OutcomeRetryable
	case status >= 500:
		return OutcomeRetryable
	default:
		// Remaining 4xx are assumed non-transient; anything else (1xx, 3xx
		// left over after redirects) is a misbehaving receiver, same bucket.
		return OutcomePermanent
	}
}

// Reason labels a failed attempt for metrics and logs.
func Reason(err error, status int) string {
	if err != nil {
		errLower := strings.ToLower(err.Error())
		if strings.Contains(errLower, "circuit") {
			return "breaker_open"
		}
		if strings.Contains(errLower, "timeout") || strings.Contains(errLower, "deadline exceeded") {
			return "timeout"
		}
		if strings.Contains(errLower, "connection refused") {
			return "connection_refused"
		}
		if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
			return "dns_error"
		}
		return "network"
	}
	switch {
	case status >= 500:
		return "http_5xx"
	case status == 429:
		return "http_429"
	case status == 408:
		return "http_408"
	case status >= 400:
		return "http_4xx"
	default:
		return "other"
	}
}
