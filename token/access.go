package token

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"
)

// AccessToken holds the current bearer and keeps it fresh from a single
// background goroutine. Reads never block.
type AccessToken struct {
	builder Builder
	client  HTTPClient
	policy  Policy
	clock   clock.Clock
	logger  *slog.Logger
	onError func(error)
	meters  metric.MeterProvider
	metrics *refreshMetrics

	current   atomic.Pointer[Snapshot]
	ready     chan struct{}
	readyOnce sync.Once

	refreshC chan chan error
	single   singleflight.Group

	cancel context.CancelFunc
	done   chan struct{}
}

var _ Provider = (*AccessToken)(nil)

type Option func(*AccessToken)

func WithPolicy(p Policy) Option {
	return func(t *AccessToken) {
		t.policy = p
	}
}

// WithClient shares client across the initial fetch and every refresh. It
// takes precedence over a client set on the request.
func WithClient(client HTTPClient) Option {
	return func(t *AccessToken) {
		t.client = client
	}
}

func WithClock(c clock.Clock) Option {
	return func(t *AccessToken) {
		t.clock = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *AccessToken) {
		t.logger = logger
	}
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(t *AccessToken) {
		t.meters = mp
	}
}

// WithErrorHandler registers fn to be called with every failed background
// fetch. fn runs on the refresher goroutine and must not block.
func WithErrorHandler(fn func(error)) Option {
	return func(t *AccessToken) {
		t.onError = fn
	}
}

func newAccessToken(builder Builder, opts []Option) (*AccessToken, error) {
	t := &AccessToken{
		builder:  builder,
		policy:   DefaultPolicy(),
		clock:    clock.RealClock{},
		logger:   slog.New(slog.DiscardHandler),
		ready:    make(chan struct{}),
		refreshC: make(chan chan error),
		done:     make(chan struct{}),
	}
	for _, op := range opts {
		op(t)
	}

	if builder == nil {
		return nil, ErrNilBuilder
	}
	if err := t.policy.Validate(); err != nil {
		return nil, err
	}

	m, err := newRefreshMetrics(t.meters)
	if err != nil {
		return nil, fmt.Errorf("token: creating metrics: %w", err)
	}
	t.metrics = m

	return t, nil
}

// New fetches the first token synchronously and then keeps it fresh in the
// background until ctx is done or Stop is called. If the first fetch fails,
// no AccessToken is returned and nothing is left running.
func New(ctx context.Context, builder Builder, opts ...Option) (*AccessToken, error) {
	t, err := newAccessToken(builder, opts)
	if err != nil {
		return nil, err
	}

	start := t.clock.Now()
	snap, ttl, err := t.fetch(ctx)
	if err != nil {
		t.metrics.record(ctx, statusError, t.clock.Since(start))
		return nil, fmt.Errorf("%w: %w", ErrConstruction, err)
	}
	t.metrics.record(ctx, statusSuccess, t.clock.Since(start))
	t.install(snap)

	next := t.policy.refreshIn(ttl)
	t.logger.InfoContext(ctx, "obtained access token",
		"expires_at", snap.ExpiresAt.Format(time.RFC3339),
		"next_refresh", next,
	)

	t.start(ctx, next, false)
	return t, nil
}

// Start returns at once with an empty AccessToken and fetches the first token
// in the background, retrying until it succeeds. Use Ready to wait for it.
func Start(ctx context.Context, builder Builder, opts ...Option) (*AccessToken, error) {
	t, err := newAccessToken(builder, opts)
	if err != nil {
		return nil, err
	}

	t.start(ctx, 0, true)
	return t, nil
}

func (t *AccessToken) start(ctx context.Context, wait time.Duration, immediate bool) {
	ctx, t.cancel = context.WithCancel(ctx)
	go t.run(ctx, wait, immediate)
}

// Bearer returns the most recently installed bearer, whether or not it has
// expired. It reports false until the first fetch succeeds.
func (t *AccessToken) Bearer() (Bearer, bool) {
	s := t.current.Load()
	if s == nil {
		return Bearer{}, false
	}
	return s.Bearer, true
}

// Snapshot returns the current bearer together with its expiry.
func (t *AccessToken) Snapshot() (Snapshot, bool) {
	s := t.current.Load()
	if s == nil {
		return Snapshot{}, false
	}
	return *s, true
}

// Ready blocks until a token is installed, ctx is done or t is stopped.
func (t *AccessToken) Ready(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	default:
	}

	select {
	case <-t.ready:
		return nil
	case <-t.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh asks the background goroutine to fetch a new token now and waits
// for the result. Concurrent calls share one fetch. On failure the current
// token is kept.
func (t *AccessToken) Refresh(ctx context.Context) error {
	ch := t.single.DoChan("refresh", func() (any, error) {
		reply := make(chan error, 1)
		select {
		case t.refreshC <- reply:
		case <-t.done:
			return nil, ErrStopped
		}

		select {
		case err := <-reply:
			return nil, err
		case <-t.done:
			return nil, ErrStopped
		}
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the refresher, abandoning any in-flight fetch, and waits for
// it to exit. The last token stays readable.
func (t *AccessToken) Stop() {
	t.cancel()
	<-t.done
}

// Done is closed once the refresher has exited.
func (t *AccessToken) Done() <-chan struct{} {
	return t.done
}

func (t *AccessToken) install(s *Snapshot) {
	t.current.Store(s)
	t.readyOnce.Do(func() { close(t.ready) })
}
