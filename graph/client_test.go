package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/graphgate/logger"
)

func newServerClient(t *testing.T, handler http.Handler, opts ClientOptions) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL
	client, err := newClient("test-token", opts, logger.New(logger.TestConfig()))
	require.NoError(t, err)
	return client, srv
}

func TestClientRequestShape(t *testing.T) {
	var gotPath, gotAuth, gotAccept string
	client, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte(`{"value":[]}`))
	}), ClientOptions{})

	resp, err := client.Get(context.Background(), "/users/alice/messages")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/v1.0/users/alice/messages", gotPath, "version segment prefixes every path")
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "application/json", gotAccept)
}

func TestClientVersionOverride(t *testing.T) {
	var gotPath string
	client, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{}`))
	}), ClientOptions{Version: "beta"})

	_, err := client.Get(context.Background(), "subscriptions")
	require.NoError(t, err)
	assert.Equal(t, "/beta/subscriptions", gotPath, "missing leading slash is tolerated")
}

func TestClientPostBody(t *testing.T) {
	var gotBody map[string]interface{}
	var gotContentType string
	client, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"msg-1"}`))
	}), ClientOptions{})

	resp, err := client.Post(context.Background(), "/users/alice/sendMail", map[string]string{"subject": "hello"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "hello", gotBody["subject"])

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, resp.Decode(&created))
	assert.Equal(t, "msg-1", created.ID)
}

func TestClientErrorResponse(t *testing.T) {
	client, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("retry-after", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":"TooManyRequests","message":"slow down"}}`))
	}), ClientOptions{})

	_, err := client.Get(context.Background(), "/users")
	require.Error(t, err)

	apiErr, ok := asAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "TooManyRequests", apiErr.Code)
	assert.Equal(t, "slow down", apiErr.Message)
	assert.Equal(t, "7", apiErr.Headers.Get("retry-after"))
	assert.True(t, IsRateLimitError(err))
}

func TestClientUndecodableErrorBody(t *testing.T) {
	client, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>gateway error</html>"))
	}), ClientOptions{})

	_, err := client.Get(context.Background(), "/users")
	apiErr, ok := asAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.True(t, IsTemporaryError(err))
}

func TestClientEmptyToken(t *testing.T) {
	_, err := newClient("", ClientOptions{}, logger.New(logger.TestConfig()))
	assert.Error(t, err)
}

func TestClientOutboundThrottle(t *testing.T) {
	var hits int32
	client, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{}`))
	}), ClientOptions{RequestsPerSecond: 20})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.Get(context.Background(), "/ping")
		require.NoError(t, err)
	}
	// Burst of 1 at 20 rps: the second and third calls wait ~50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestResilientClientRecovers(t *testing.T) {
	var hits int32
	inner, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"code":"ServiceUnavailable","message":"try later"}}`))
			return
		}
		w.Write([]byte(`{"value":"ok"}`))
	}), ClientOptions{})

	engine, slept := newTestEngine()
	client := NewResilientClient(inner, engine, RetryOptions{})

	resp, err := client.Get(context.Background(), "/users")
	require.NoError(t, err, "transient failures are absorbed below the caller")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.Len(t, *slept, 2)
	assert.Same(t, inner, client.Inner())
}

func TestResilientClientSurfacesPermanentFailure(t *testing.T) {
	var hits int32
	inner, _ := newServerClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":"Authorization_RequestDenied","message":"Insufficient privileges"}}`))
	}), ClientOptions{})

	engine, _ := newTestEngine()
	client := NewResilientClient(inner, engine, RetryOptions{})

	_, err := client.Delete(context.Background(), "/subscriptions/abc")
	require.Error(t, err)
	assert.True(t, IsPermissionError(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "permission failures are not retried")
}
