// Package token requests OAuth2 bearer tokens and keeps the current one fresh
// in memory. An AccessToken is read without blocking while a single goroutine
// refreshes it once RefreshFraction of its lifetime has passed.
package token

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// HTTPClient sends token requests. *http.Client satisfies it.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Builder produces the request used for a single fetch attempt.
type Builder interface {
	Build(context.Context) (*Request, error)
}

// BuilderFunc adapts a function to the Builder interface.
type BuilderFunc func(context.Context) (*Request, error)

func (f BuilderFunc) Build(ctx context.Context) (*Request, error) {
	return f(ctx)
}

// Provider exposes the current bearer without blocking.
type Provider interface {
	Bearer() (Bearer, bool)
}

// Bearer is the credential presented to resource servers.
type Bearer struct {
	Token string
	Type  string
}

// String returns the Authorization header value.
func (b Bearer) String() string {
	typ := b.Type
	if typ == "" || strings.EqualFold(typ, "bearer") {
		typ = "Bearer"
	}
	return typ + " " + b.Token
}

// Snapshot is a bearer together with the instant it expires. Both are
// installed and read as one value.
type Snapshot struct {
	Bearer    Bearer
	ExpiresAt time.Time
}
