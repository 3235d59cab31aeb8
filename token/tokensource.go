package token

import (
	"golang.org/x/oauth2"
)

type tokenSource struct {
	t *AccessToken
}

// TokenSource exposes t as an oauth2.TokenSource, so it can back an
// oauth2.Transport or any client library that accepts one. Token never
// fetches; it returns what the refresher last installed.
func (t *AccessToken) TokenSource() oauth2.TokenSource {
	return tokenSource{t: t}
}

func (s tokenSource) Token() (*oauth2.Token, error) {
	snap, ok := s.t.Snapshot()
	if !ok {
		return nil, ErrNoToken
	}
	return &oauth2.Token{
		AccessToken: snap.Bearer.Token,
		TokenType:   snap.Bearer.Type,
		Expiry:      snap.ExpiresAt,
	}, nil
}
