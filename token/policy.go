package token

import (
	"fmt"
	"time"
)

const (
	DefaultRefreshFraction = 0.90
	DefaultRetryInterval   = 10 * time.Second
	DefaultMinRefreshDelay = time.Second
	DefaultRequestTimeout  = 30 * time.Second
)

// Policy controls when the refresher fetches a new token.
type Policy struct {
	// RefreshFraction is the share of a token's lifetime after which it is
	// refreshed.
	RefreshFraction float64
	// RetryInterval is the wait after a failed attempt.
	RetryInterval time.Duration
	// MinRefreshDelay bounds the wait after a successful fetch from below. A
	// token living less than MinRefreshDelay is refreshed at or after its
	// expiry, never before.
	MinRefreshDelay time.Duration
	// RequestTimeout bounds each fetch attempt.
	RequestTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		RefreshFraction: DefaultRefreshFraction,
		RetryInterval:   DefaultRetryInterval,
		MinRefreshDelay: DefaultMinRefreshDelay,
		RequestTimeout:  DefaultRequestTimeout,
	}
}

func (p Policy) Validate() error {
	if !(p.RefreshFraction > 0 && p.RefreshFraction <= 1) {
		return fmt.Errorf("%w: refresh fraction %v not in (0, 1]", ErrInvalidPolicy, p.RefreshFraction)
	}
	if p.RetryInterval <= 0 {
		return fmt.Errorf("%w: retry interval must be positive", ErrInvalidPolicy)
	}
	if p.MinRefreshDelay < 0 {
		return fmt.Errorf("%w: min refresh delay must not be negative", ErrInvalidPolicy)
	}
	if p.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request timeout must be positive", ErrInvalidPolicy)
	}
	return nil
}

// refreshIn returns the wait before refreshing a token that lives for ttl.
func (p Policy) refreshIn(ttl time.Duration) time.Duration {
	d := time.Duration(float64(ttl) * p.RefreshFraction)
	if d < p.MinRefreshDelay {
		d = p.MinRefreshDelay
	}
	return d
}
