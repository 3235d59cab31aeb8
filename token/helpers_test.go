package token

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

const tokenURL = "https://auth.example.com/oauth/token"

var epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

type clientMock struct {
	mock.Mock
}

func (c *clientMock) Do(req *http.Request) (*http.Response, error) {
	args := c.Called(req)
	resp, _ := args.Get(0).(*http.Response)
	return resp, args.Error(1)
}

type clientFunc func(*http.Request) (*http.Response, error)

func (f clientFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func tokenJSON(token string, expiresIn int) string {
	return fmt.Sprintf(`{"access_token":%q,"token_type":"bearer","expires_in":%d}`, token, expiresIn)
}

func tokenResponse(token string, expiresIn int) *http.Response {
	return jsonResponse(http.StatusOK, tokenJSON(token, expiresIn))
}

func newFakeClock() *testingclock.FakeClock {
	return testingclock.NewFakeClock(epoch)
}

// waitForTimer blocks until the refresher has armed its next timer.
func waitForTimer(t *testing.T, fc *testingclock.FakeClock) {
	t.Helper()
	require.Eventually(t, fc.HasWaiters, 2*time.Second, time.Millisecond)
}

func testRequest() *Request {
	return ClientCredentials(tokenURL, "client", "secret")
}
