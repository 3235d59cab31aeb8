package token

import (
	"bytes"
	"encoding/json"
	"math"
	"mime"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Response is a decoded token endpoint answer.
type Response struct {
	AccessToken string
	TokenType   string
	ExpiresIn   time.Duration
}

func (r *Response) Bearer() Bearer {
	return Bearer{Token: r.AccessToken, Type: r.TokenType}
}

type wireResponse struct {
	AccessToken string          `json:"access_token"`
	Token       string          `json:"token"`
	TokenType   string          `json:"token_type"`
	ExpiresIn   json.RawMessage `json:"expires_in"`
}

func decodeResponse(contentType string, body []byte, now time.Time) (*Response, error) {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == "application/jwt" {
		return decodeJWT(body, now)
	}

	var w wireResponse
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, decodeErrorf("invalid json: %v", err)
	}

	tok := w.AccessToken
	if tok == "" {
		tok = w.Token
	}
	if tok == "" {
		return nil, decodeErrorf("missing access_token")
	}

	ttl, err := parseExpiresIn(w.ExpiresIn)
	if err != nil {
		return nil, err
	}

	return &Response{
		AccessToken: tok,
		TokenType:   w.TokenType,
		ExpiresIn:   ttl,
	}, nil
}

// parseExpiresIn accepts a JSON integer or a quoted integer, as some
// providers send the lifetime as a string.
func parseExpiresIn(raw json.RawMessage) (time.Duration, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, decodeErrorf("missing expires_in")
	}

	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, decodeErrorf("invalid expires_in %s", raw)
		}
	}

	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, decodeErrorf("invalid expires_in %s", raw)
	}
	if secs < 0 {
		return 0, decodeErrorf("negative expires_in %d", secs)
	}
	if secs > math.MaxInt64/int64(time.Second) {
		return 0, decodeErrorf("expires_in %d out of range", secs)
	}
	return time.Duration(secs) * time.Second, nil
}

// decodeJWT handles endpoints that answer with the signed token itself. The
// lifetime comes from the exp claim; the signature is the resource server's
// concern.
func decodeJWT(body []byte, now time.Time) (*Response, error) {
	raw := string(bytes.TrimSpace(body))

	var claims jwt.RegisteredClaims
	if _, _, err := new(jwt.Parser).ParseUnverified(raw, &claims); err != nil {
		return nil, decodeErrorf("malformed jwt: %v", err)
	}
	if claims.ExpiresAt == nil {
		return nil, decodeErrorf("jwt has no exp claim")
	}

	ttl := claims.ExpiresAt.Time.Sub(now).Truncate(time.Second)
	if ttl < 0 {
		return nil, decodeErrorf("jwt expired at %s", claims.ExpiresAt.Time.Format(time.RFC3339))
	}

	return &Response{
		AccessToken: raw,
		TokenType:   "Bearer",
		ExpiresIn:   ttl,
	}, nil
}
