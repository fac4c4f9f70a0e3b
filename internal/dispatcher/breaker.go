package dispatcher

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/menudeck/webhooks/internal/logging"
)

// breakerSet lazily creates one circuit breaker per endpoint. An endpoint
// failing hard in a row stops consuming worker time and HTTP sockets; its
// deliveries short-circuit into the normal retry path until the breaker
// half-opens.
type breakerSet struct {
	mu        sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker
	threshold uint32
	reset     time.Duration
	log       *logging.Logger
}

func newBreakerSet(threshold int, reset time.Duration, log *logging.Logger) *breakerSet {
	if threshold <= 0 {
		threshold = 5
	}
	return &breakerSet{
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		threshold: uint32(threshold),
		reset:     reset,
		log:       log,
	}
}

func (s *breakerSet) get(endpointID string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[endpointID]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        endpointID,
		MaxRequests: 1,
		Timeout:     s.reset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			s.log.Plain().WithEndpoint(name).WithFields(map[string]any{
				"from": from.String(),
				"to":   to.String(),
			}).Warn("endpoint circuit breaker state changed")
		},
	})
	s.breakers[endpointID] = cb
	return cb
}
