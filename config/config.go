// Package config reads token client settings from environment variables.
// Nothing in this module reads the environment unless Load is called.
package config

import (
	"strings"
	"time"

	"github.com/allisson/go-env"

	"github.com/twisp/oidctoken/token"
)

// Config holds the endpoint, credentials and refresh policy of one client.
type Config struct {
	// TokenURL is the token endpoint of the authorization server.
	TokenURL string
	// ClientID is the OAuth2 client identifier.
	ClientID string
	// ClientSecret is the OAuth2 client secret.
	ClientSecret string
	// Scopes is the space-separated list of requested scopes.
	Scopes string

	// RefreshFraction is the share of a token's lifetime after which it is refreshed.
	RefreshFraction float64
	// RetryInterval is the wait after a failed background refresh.
	RetryInterval time.Duration
	// RequestTimeout bounds each token request.
	RequestTimeout time.Duration
}

// Load reads <prefix>_TOKEN_URL, <prefix>_CLIENT_ID, <prefix>_CLIENT_SECRET,
// <prefix>_SCOPES, <prefix>_REFRESH_FRACTION, <prefix>_RETRY_INTERVAL_SECONDS
// and <prefix>_REQUEST_TIMEOUT_SECONDS. An empty prefix reads the bare names.
func Load(prefix string) *Config {
	key := func(name string) string {
		if prefix == "" {
			return name
		}
		return strings.ToUpper(prefix) + "_" + name
	}

	return &Config{
		TokenURL:     env.GetString(key("TOKEN_URL"), ""),
		ClientID:     env.GetString(key("CLIENT_ID"), ""),
		ClientSecret: env.GetString(key("CLIENT_SECRET"), ""),
		Scopes:       env.GetString(key("SCOPES"), ""),

		RefreshFraction: env.GetFloat64(key("REFRESH_FRACTION"), token.DefaultRefreshFraction),
		RetryInterval:   env.GetDuration(key("RETRY_INTERVAL_SECONDS"), 10, time.Second),
		RequestTimeout:  env.GetDuration(key("REQUEST_TIMEOUT_SECONDS"), 30, time.Second),
	}
}

// Request builds the client_credentials request described by c.
func (c *Config) Request() *token.Request {
	return token.ClientCredentials(c.TokenURL, c.ClientID, c.ClientSecret, strings.Fields(c.Scopes)...)
}

// Policy returns the refresh policy described by c, keeping the default
// minimum refresh delay.
func (c *Config) Policy() token.Policy {
	p := token.DefaultPolicy()
	p.RefreshFraction = c.RefreshFraction
	p.RetryInterval = c.RetryInterval
	p.RequestTimeout = c.RequestTimeout
	return p
}
