package library

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"embycord/internal/metrics"
	logx "embycord/pkg/logx"
)

// BreakerClient guards a Library with a circuit breaker so a dead Emby server
// is not hammered every poll cycle. ErrNotFound is a valid answer and does
// not count as a failure.
type BreakerClient struct {
	inner Library
	cb    *gobreaker.CircuitBreaker[*Item]
}

type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker. Default 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open. Default 30s.
	OpenTimeout time.Duration
}

func NewBreakerClient(inner Library, st BreakerSettings, log logx.Logger) *BreakerClient {
	if st.ConsecutiveFailures == 0 {
		st.ConsecutiveFailures = 5
	}
	if st.OpenTimeout <= 0 {
		st.OpenTimeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	metrics.LibraryBreakerState.Set(0)

	cb := gobreaker.NewCircuitBreaker[*Item](gobreaker.Settings{
		Name:        "emby-library",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     st.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= st.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("library circuit breaker state change", logx.String("breaker", name), logx.String("from", from.String()), logx.String("to", to.String()))
			metrics.LibraryBreakerState.Set(stateValue(to))
		},
	})
	return &BreakerClient{inner: inner, cb: cb}
}

func (b *BreakerClient) GetItem(ctx context.Context, id string) (*Item, error) {
	return b.cb.Execute(func() (*Item, error) {
		return b.inner.GetItem(ctx, id)
	})
}

// ServerName is refused while the breaker is open but never counts toward it.
func (b *BreakerClient) ServerName(ctx context.Context) (string, error) {
	if b.cb.State() == gobreaker.StateOpen {
		return "", gobreaker.ErrOpenState
	}
	return b.inner.ServerName(ctx)
}

func (b *BreakerClient) State() gobreaker.State { return b.cb.State() }

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
