// Package auth attaches the bearer held by a token.Provider to outgoing HTTP
// requests and gRPC calls.
package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/twisp/oidctoken/token"
)

const (
	maxDrainBytes = 4 << 10

	// minForcedRefresh is the least time between two refreshes forced by 401
	// answers. Inside that window a 401 is returned to the caller as is.
	minForcedRefresh = token.DefaultMinRefreshDelay
)

type refresher interface {
	Refresh(context.Context) error
}

// NewTwispDefaultRoundTripper exchanges the ambient IAM credentials for a
// token from the Twisp cloud environment and keeps it fresh until ctx is done.
func NewTwispDefaultRoundTripper(ctx context.Context, customerAccount string, region string, opts ...token.Option) (http.RoundTripper, *token.AccessToken, error) {
	grant, err := token.NewIAMGrant("cloud", region)
	if err != nil {
		return nil, nil, err
	}

	tok, err := token.New(ctx, grant, opts...)
	if err != nil {
		return nil, nil, err
	}

	return NewTwispRoundTripper(customerAccount, tok, http.DefaultTransport), tok, nil
}

// NewTwispRoundTripper is NewRoundTripper plus the account header Twisp
// expects on every call.
func NewTwispRoundTripper(customerAccount string, provider token.Provider, base http.RoundTripper) http.RoundTripper {
	rt := newRoundTripper(provider, base)
	rt.header.Set("X-Twisp-Account-Id", customerAccount)
	return rt
}

// NewRoundTripper returns a RoundTripper that sets the Authorization header
// from provider on every request. If provider can be refreshed on demand, a
// 401 answer triggers one refresh and one retry, provided the request body
// can be replayed. A nil base means http.DefaultTransport.
func NewRoundTripper(provider token.Provider, base http.RoundTripper) http.RoundTripper {
	return newRoundTripper(provider, base)
}

func newRoundTripper(provider token.Provider, base http.RoundTripper) *roundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	r := &roundTripper{
		provider: provider,
		header:   make(http.Header),
		wrapped:  base,
		clock:    clock.RealClock{},
	}
	if rf, ok := provider.(refresher); ok {
		r.refresher = rf
	}
	return r
}

type roundTripper struct {
	provider  token.Provider
	refresher refresher
	header    http.Header

	wrapped http.RoundTripper
	clock   clock.PassiveClock

	mu         sync.Mutex
	lastForced time.Time
}

func (r *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	used, resp, err := r.send(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || r.refresher == nil {
		return resp, err
	}

	retry, ok := rewind(req)
	if !ok {
		return resp, nil
	}

	// A bearer that changed since the request went out was refreshed by
	// someone else, so the retry goes without another fetch.
	if current, ok := r.provider.Bearer(); !ok || current == used {
		if !r.claimRefresh() {
			return resp, nil
		}
		if err := r.refresher.Refresh(req.Context()); err != nil {
			return resp, nil
		}
	}

	_, _ = io.CopyN(io.Discard, resp.Body, maxDrainBytes)
	_ = resp.Body.Close()

	_, resp, err = r.send(retry)
	return resp, err
}

// claimRefresh reports whether a forced refresh may start now.
func (r *roundTripper) claimRefresh() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if !r.lastForced.IsZero() && now.Sub(r.lastForced) < minForcedRefresh {
		return false
	}
	r.lastForced = now
	return true
}

func (r *roundTripper) send(req *http.Request) (token.Bearer, *http.Response, error) {
	bearer, ok := r.provider.Bearer()
	if !ok {
		return token.Bearer{}, nil, fmt.Errorf("auth: %w", token.ErrNoToken)
	}

	clone := req.Clone(req.Context())
	for k, vs := range r.header {
		clone.Header[k] = append([]string(nil), vs...)
	}
	clone.Header.Set("Authorization", bearer.String())

	resp, err := r.wrapped.RoundTrip(clone)
	return bearer, resp, err
}

// rewind returns a request that can be sent again, or false if the body has
// been consumed and cannot be recreated.
func rewind(req *http.Request) (*http.Request, bool) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, true
	}
	if req.GetBody == nil {
		return nil, false
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, true
}
