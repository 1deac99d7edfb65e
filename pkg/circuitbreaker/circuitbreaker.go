package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned while the breaker rejects calls
var ErrOpen = errors.New("circuit breaker is open")

type Settings struct {
	Name string
	// MaxFailures is the number of consecutive failures that trips the breaker
	MaxFailures uint32
	// MaxRequests is how many trial calls are let through while half-open
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// IsSuccessful reports errors that say nothing about the remote's health,
	// such as a rejected request. They are returned but not counted. A nil
	// func counts every error.
	IsSuccessful func(err error) bool
}

type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

func NewCircuitBreaker(settings Settings) *CircuitBreaker {
	maxFailures := settings.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	return &CircuitBreaker{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        settings.Name,
			MaxRequests: settings.MaxRequests,
			Interval:    settings.Interval,
			Timeout:     settings.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			IsSuccessful: settings.isSuccessful,
		}),
	}
}

func (s Settings) isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	if s.IsSuccessful == nil {
		return false
	}
	return s.IsSuccessful(err)
}

func (c *CircuitBreaker) Execute(fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State reports the breaker state as "closed", "half-open" or "open"
func (c *CircuitBreaker) State() string {
	return c.cb.State().String()
}
