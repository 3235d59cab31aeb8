package auth

import (
	"context"

	"google.golang.org/grpc/credentials"

	"github.com/twisp/oidctoken/token"
)

type perRPCCredentials struct {
	provider   token.Provider
	requireTLS bool
}

// NewPerRPCCredentials attaches the current bearer to every RPC as the
// authorization metadata entry. Use with grpc.WithPerRPCCredentials.
func NewPerRPCCredentials(provider token.Provider, requireTLS bool) credentials.PerRPCCredentials {
	return perRPCCredentials{
		provider:   provider,
		requireTLS: requireTLS,
	}
}

func (c perRPCCredentials) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	bearer, ok := c.provider.Bearer()
	if !ok {
		return nil, token.ErrNoToken
	}
	return map[string]string{"authorization": bearer.String()}, nil
}

func (c perRPCCredentials) RequireTransportSecurity() bool {
	return c.requireTLS
}
