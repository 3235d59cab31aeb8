package token

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport is returned when the token endpoint could not be reached or
	// the response body could not be read.
	ErrTransport = errors.New("token: transport failure")

	// ErrServerRejected is returned when the token endpoint answers with a
	// non-2xx status. The concrete error is a *ServerError.
	ErrServerRejected = errors.New("token: server rejected request")

	// ErrDecode is returned when a response cannot be turned into a token with
	// a known lifetime.
	ErrDecode = errors.New("token: malformed token response")

	// ErrConstruction is returned by New when the initial fetch fails.
	ErrConstruction = errors.New("token: initial token fetch failed")

	ErrNoToken       = errors.New("token: no token installed")
	ErrStopped       = errors.New("token: refresher stopped")
	ErrInvalidPolicy = errors.New("token: invalid refresh policy")

	// ErrNilBuilder is returned by New and Start when given no Builder.
	ErrNilBuilder = errors.New("token: nil request builder")

	// ErrNoRequest is returned when a Builder yields neither a request nor an
	// error.
	ErrNoRequest = errors.New("token: builder returned no request")
)

// ServerError carries the status and body of a rejected token request.
type ServerError struct {
	StatusCode int
	Body       []byte
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("token exchange got response %d %s", e.StatusCode, string(e.Body))
}

func (e *ServerError) Is(target error) bool {
	return target == ErrServerRejected
}

func decodeErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}
