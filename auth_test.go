package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/twisp/oidctoken/token"
)

type staticProvider struct {
	bearer token.Bearer
	ok     bool
}

func (p staticProvider) Bearer() (token.Bearer, bool) {
	return p.bearer, p.ok
}

type rotatingProvider struct {
	mu       sync.Mutex
	current  string
	next     string
	failWith error
	calls    int
}

func (p *rotatingProvider) Bearer() (token.Bearer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return token.Bearer{Token: p.current}, true
}

func (p *rotatingProvider) Refresh(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failWith != nil {
		return p.failWith
	}
	p.current = p.next
	return nil
}

func TestRoundTripperSetsAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		assert.Equal(t, "acct-1", r.Header.Get("X-Twisp-Account-Id"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	provider := staticProvider{bearer: token.Bearer{Token: "abc", Type: "bearer"}, ok: true}
	client := &http.Client{Transport: NewTwispRoundTripper("acct-1", provider, nil)}

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Empty(t, req.Header.Get("Authorization"))
}

func TestRoundTripperWithoutToken(t *testing.T) {
	client := &http.Client{Transport: NewRoundTripper(staticProvider{}, nil)}

	_, err := client.Get("http://127.0.0.1:1/")
	require.ErrorIs(t, err, token.ErrNoToken)
}

func TestRoundTripperRetriesUnauthorized(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	provider := &rotatingProvider{current: "old", next: "new"}
	client := &http.Client{Transport: NewRoundTripper(provider, http.DefaultTransport)}

	resp, err := client.Post(srv.URL, "text/plain", strings.NewReader("payload"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, provider.calls)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"payload", "payload"}, bodies)
}

func TestRoundTripperKeepsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	t.Run("refresh fails", func(t *testing.T) {
		provider := &rotatingProvider{current: "old", failWith: errors.New("down")}
		client := &http.Client{Transport: NewRoundTripper(provider, nil)}

		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, 1, provider.calls)
	})

	t.Run("body cannot be replayed", func(t *testing.T) {
		provider := &rotatingProvider{current: "old", next: "new"}
		client := &http.Client{Transport: NewRoundTripper(provider, nil)}

		req, err := http.NewRequest(http.MethodPost, srv.URL, io.NopCloser(strings.NewReader("once")))
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Zero(t, provider.calls)
	})

	t.Run("provider cannot refresh", func(t *testing.T) {
		provider := staticProvider{bearer: token.Bearer{Token: "abc"}, ok: true}
		client := &http.Client{Transport: NewRoundTripper(provider, nil)}

		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestRoundTripperWithAccessToken(t *testing.T) {
	var issued atomic.Int32
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if issued.Add(1) == 1 {
			_, _ = io.WriteString(w, `{"access_token":"first","expires_in":3600}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"second","expires_in":3600}`)
	}))
	defer authSrv.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer second" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer api.Close()

	tok, err := token.New(context.Background(), token.ClientCredentials(authSrv.URL, "client", "secret"))
	require.NoError(t, err)
	defer tok.Stop()

	client := &http.Client{Transport: NewRoundTripper(tok, nil)}
	resp, err := client.Get(api.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(2), issued.Load())
}

func TestRoundTripperLimitsForcedRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	fc := testingclock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	provider := &rotatingProvider{current: "old", next: "old"}
	rt := newRoundTripper(provider, nil)
	rt.clock = fc
	client := &http.Client{Transport: rt}

	get := func() {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	for i := 0; i < 5; i++ {
		get()
	}
	require.Equal(t, 1, provider.calls)

	fc.Step(minForcedRefresh - time.Millisecond)
	get()
	require.Equal(t, 1, provider.calls)

	fc.Step(time.Millisecond)
	get()
	require.Equal(t, 2, provider.calls)
}

// changingProvider hands out a newer bearer after the first read, as if
// another request had refreshed it in between.
type changingProvider struct {
	reads atomic.Int32
	calls atomic.Int32
}

func (p *changingProvider) Bearer() (token.Bearer, bool) {
	if p.reads.Add(1) == 1 {
		return token.Bearer{Token: "old"}, true
	}
	return token.Bearer{Token: "new"}, true
}

func (p *changingProvider) Refresh(context.Context) error {
	p.calls.Add(1)
	return nil
}

func TestRoundTripperRetriesWithNewerBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	provider := &changingProvider{}
	client := &http.Client{Transport: NewRoundTripper(provider, nil)}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Zero(t, provider.calls.Load())
}
