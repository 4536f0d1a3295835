package llm

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// CircuitBreaker keeps one breaker per operation so a failing summarizer
// does not block replies.
type CircuitBreaker struct {
	breakers map[string]*gobreaker.CircuitBreaker
	mu       sync.RWMutex
	logger   *logrus.Logger

	failureThreshold uint32
	halfOpenRequests uint32
	timeout          time.Duration
}

// NewCircuitBreaker creates a breaker set with default settings
func NewCircuitBreaker(logger *logrus.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		breakers:         make(map[string]*gobreaker.CircuitBreaker),
		logger:           logger,
		failureThreshold: 5,
		halfOpenRequests: 2,
		timeout:          30 * time.Second,
	}
}

// Execute runs fn under the breaker for key. An open breaker returns
// gobreaker.ErrOpenState without calling fn.
func (cb *CircuitBreaker) Execute(key string, fn func() error) error {
	_, err := cb.getOrCreateBreaker(key).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// IsOpen reports whether err was produced by a tripped breaker
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// State returns the state of the breaker for key
func (cb *CircuitBreaker) State(key string) gobreaker.State {
	cb.mu.RLock()
	breaker, exists := cb.breakers[key]
	cb.mu.RUnlock()

	if !exists {
		return gobreaker.StateClosed
	}
	return breaker.State()
}

func (cb *CircuitBreaker) getOrCreateBreaker(key string) *gobreaker.CircuitBreaker {
	cb.mu.RLock()
	breaker, exists := cb.breakers[key]
	cb.mu.RUnlock()

	if exists {
		return breaker
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if breaker, exists := cb.breakers[key]; exists {
		return breaker
	}

	threshold := cb.failureThreshold
	breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: cb.halfOpenRequests,
		Timeout:     cb.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if cb.logger == nil {
				return
			}
			cb.logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Model circuit breaker changed state")
		},
	})

	cb.breakers[key] = breaker
	return breaker
}
