package token

import (
	"context"
	"fmt"
	"time"
)

// run is the only writer of t.current. Each pass waits for the timer or a
// Refresh call, fetches once and rearms.
func (t *AccessToken) run(ctx context.Context, wait time.Duration, immediate bool) {
	defer close(t.done)

	if immediate {
		wait, _ = t.refresh(ctx)
	}

	for {
		timer := t.clock.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
			wait, _ = t.refresh(ctx)
		case reply := <-t.refreshC:
			timer.Stop()
			var err error
			wait, err = t.refresh(ctx)
			reply <- err
		}
	}
}

// refresh performs one attempt and returns the wait until the next one.
func (t *AccessToken) refresh(ctx context.Context) (time.Duration, error) {
	start := t.clock.Now()

	snap, ttl, err := t.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return t.policy.RetryInterval, ctx.Err()
		}

		t.metrics.record(ctx, statusError, t.clock.Since(start))
		t.logger.WarnContext(ctx, "token refresh failed",
			"error", err,
			"retry_in", t.policy.RetryInterval,
		)
		if t.onError != nil {
			t.onError(err)
		}
		return t.policy.RetryInterval, err
	}

	t.metrics.record(ctx, statusSuccess, t.clock.Since(start))
	t.install(snap)

	next := t.policy.refreshIn(ttl)
	t.logger.InfoContext(ctx, "refreshed access token",
		"expires_at", snap.ExpiresAt.Format(time.RFC3339),
		"next_refresh", next,
	)
	return next, nil
}

// fetch builds and sends one request. The expiry is measured from when the
// request was sent.
func (t *AccessToken) fetch(ctx context.Context) (*Snapshot, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, t.policy.RequestTimeout)
	defer cancel()

	req, err := t.builder.Build(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("token: building request: %w", err)
	}
	if req == nil {
		return nil, 0, ErrNoRequest
	}

	client := t.client
	if client == nil {
		client = req.client
	}

	issued := t.clock.Now()
	resp, err := req.send(ctx, client, t.clock.Now)
	if err != nil {
		return nil, 0, err
	}

	return &Snapshot{
		Bearer:    resp.Bearer(),
		ExpiresAt: issued.Add(resp.ExpiresIn),
	}, resp.ExpiresIn, nil
}
