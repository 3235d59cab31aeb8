package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	grantClientCredentials = "client_credentials"
	grantPassword          = "password"
	grantRefreshToken      = "refresh_token"

	maxResponseBytes = 1 << 20
)

// Request is an immutable token endpoint request.
type Request struct {
	endpoint string
	params   url.Values
	header   http.Header
	json     bool
	jwt      bool
	client   HTTPClient
}

var _ Builder = (*Request)(nil)

type RequestOption func(*Request)

// WithHTTPClient sets the client used by Send.
func WithHTTPClient(client HTTPClient) RequestOption {
	return func(r *Request) {
		r.client = client
	}
}

func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		r.header.Add(key, value)
	}
}

// WithJSONBody sends the grant parameters as a JSON object instead of a
// form-encoded body.
func WithJSONBody() RequestOption {
	return func(r *Request) {
		r.json = true
	}
}

// WithJWTResponse decodes the response body as a raw signed token whatever
// its Content-Type.
func WithJWTResponse() RequestOption {
	return func(r *Request) {
		r.jwt = true
	}
}

func NewRequest(endpoint string, params url.Values, opts ...RequestOption) *Request {
	r := &Request{
		endpoint: endpoint,
		params:   cloneValues(params),
		header:   make(http.Header),
	}
	for _, op := range opts {
		op(r)
	}
	return r
}

// ClientCredentials builds a client_credentials grant. Scopes are joined with
// a single space.
func ClientCredentials(endpoint, clientID, clientSecret string, scopes ...string) *Request {
	params := url.Values{
		"grant_type":    {grantClientCredentials},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}
	if len(scopes) > 0 {
		params.Set("scope", strings.Join(scopes, " "))
	}
	return NewRequest(endpoint, params)
}

func Password(endpoint, username, password string) *Request {
	return NewRequest(endpoint, url.Values{
		"grant_type": {grantPassword},
		"username":   {username},
		"password":   {password},
	})
}

func PasswordWithClientID(endpoint, username, password, clientID string) *Request {
	return NewRequest(endpoint, url.Values{
		"grant_type": {grantPassword},
		"username":   {username},
		"password":   {password},
		"client_id":  {clientID},
	})
}

func RefreshToken(endpoint, refreshToken, clientID string) *Request {
	params := url.Values{
		"grant_type":    {grantRefreshToken},
		"refresh_token": {refreshToken},
	}
	if clientID != "" {
		params.Set("client_id", clientID)
	}
	return NewRequest(endpoint, params)
}

// With returns a copy of r with opts applied.
func (r *Request) With(opts ...RequestOption) *Request {
	c := &Request{
		endpoint: r.endpoint,
		params:   cloneValues(r.params),
		header:   r.header.Clone(),
		json:     r.json,
		jwt:      r.jwt,
		client:   r.client,
	}
	for _, op := range opts {
		op(c)
	}
	return c
}

func (r *Request) Endpoint() string {
	return r.endpoint
}

// Params returns a copy of the grant parameters.
func (r *Request) Params() url.Values {
	return cloneValues(r.params)
}

// Build returns r itself; a Request never changes once constructed.
func (r *Request) Build(_ context.Context) (*Request, error) {
	return r, nil
}

// Send performs the exchange with the request's client, or
// http.DefaultClient when none was set.
func (r *Request) Send(ctx context.Context) (*Response, error) {
	return r.send(ctx, r.client, time.Now)
}

// SendWithClient performs the exchange with client.
func (r *Request) SendWithClient(ctx context.Context, client HTTPClient) (*Response, error) {
	return r.send(ctx, client, time.Now)
}

func (r *Request) send(ctx context.Context, client HTTPClient, now func() time.Time) (*Response, error) {
	if client == nil {
		client = http.DefaultClient
	}

	body, contentType, err := r.encode()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrTransport, err)
	}

	if resp.StatusCode/100 != 2 {
		return nil, &ServerError{StatusCode: resp.StatusCode, Body: b}
	}

	if r.jwt {
		return decodeJWT(b, now())
	}
	return decodeResponse(resp.Header.Get("Content-Type"), b, now())
}

func (r *Request) encode() ([]byte, string, error) {
	if !r.json {
		return []byte(r.params.Encode()), "application/x-www-form-urlencoded", nil
	}

	obj := make(map[string]any, len(r.params))
	for k, vs := range r.params {
		if len(vs) == 1 {
			obj[k] = vs[0]
		} else {
			obj[k] = vs
		}
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, "", fmt.Errorf("token: encoding request: %w", err)
	}
	return b, "application/json", nil
}

func cloneValues(v url.Values) url.Values {
	c := make(url.Values, len(v))
	for k, vs := range v {
		c[k] = append([]string(nil), vs...)
	}
	return c
}
