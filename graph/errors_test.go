package graph

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestClassifiers(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		auth     bool
		perm     bool
		rate     bool
		temp     bool
		timeout  bool
	}{
		{
			name: "401 status",
			err:  &APIError{StatusCode: http.StatusUnauthorized},
			auth: true,
		},
		{
			name: "InvalidAuthenticationToken code",
			err:  &APIError{StatusCode: http.StatusBadRequest, Code: "InvalidAuthenticationToken"},
			auth: true,
		},
		{
			name: "AuthenticationFailed code",
			err:  &APIError{Code: "AuthenticationFailed"},
			auth: true,
		},
		{
			name: "403 status",
			err:  &APIError{StatusCode: http.StatusForbidden},
			perm: true,
		},
		{
			name: "InsufficientPrivileges code",
			err:  &APIError{StatusCode: http.StatusOK, Code: "InsufficientPrivileges"},
			perm: true,
		},
		{
			name: "AccessDenied code",
			err:  &APIError{Code: "AccessDenied"},
			perm: true,
		},
		{
			name: "429 status",
			err:  &APIError{StatusCode: http.StatusTooManyRequests},
			rate: true,
		},
		{
			name: "TooManyRequests code",
			err:  &APIError{Code: "TooManyRequests"},
			rate: true,
		},
		{
			name: "502",
			err:  &APIError{StatusCode: http.StatusBadGateway},
			temp: true,
		},
		{
			name: "503",
			err:  &APIError{StatusCode: http.StatusServiceUnavailable},
			temp: true,
		},
		{
			name: "504",
			err:  &APIError{StatusCode: http.StatusGatewayTimeout},
			temp: true,
		},
		{
			name: "ServiceUnavailable code",
			err:  &APIError{Code: "ServiceUnavailable"},
			temp: true,
		},
		{
			name:    "synthetic timeout",
			err:     ErrRequestTimeout,
			timeout: true,
		},
		{
			name:    "wrapped synthetic timeout",
			err:     &wrapErr{inner: ErrRequestTimeout},
			timeout: true,
		},
		{
			name:    "provider RequestTimeout code",
			err:     &APIError{Code: "RequestTimeout"},
			timeout: true,
		},
		{
			name: "plain error matches nothing",
			err:  errors.New("dial tcp: connection refused"),
		},
		{
			name: "500 is not temporary",
			err:  &APIError{StatusCode: http.StatusInternalServerError},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.auth, IsAuthenticationError(tt.err), "auth")
			assert.Equal(t, tt.perm, IsPermissionError(tt.err), "permission")
			assert.Equal(t, tt.rate, IsRateLimitError(tt.err), "rate limit")
			assert.Equal(t, tt.temp, IsTemporaryError(tt.err), "temporary")
			assert.Equal(t, tt.timeout, IsTimeoutError(tt.err), "timeout")
		})
	}
}

type wrapErr struct{ inner error }

func (w *wrapErr) Error() string { return "wrapped: " + w.inner.Error() }
func (w *wrapErr) Unwrap() error { return w.inner }

func TestOAuthRetrieveErrorNormalization(t *testing.T) {
	rErr := &oauth2.RetrieveError{
		Response: &http.Response{
			StatusCode: http.StatusUnauthorized,
			Header:     http.Header{},
		},
		ErrorCode:        "invalid_client",
		ErrorDescription: "AADSTS7000215: Invalid client secret provided",
	}

	assert.True(t, IsAuthenticationError(rErr))
	assert.False(t, IsRateLimitError(rErr))

	apiErr, ok := asAPIError(rErr)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "AADSTS7000215")
}

func TestNewAPIError(t *testing.T) {
	body := []byte(`{"error":{"code":"MailboxNotEnabledForRESTAPI","message":"The mailbox is either inactive or soft-deleted"}}`)
	apiErr := newAPIError(http.StatusNotFound, body, http.Header{"Request-Id": []string{"abc"}})

	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "MailboxNotEnabledForRESTAPI", apiErr.Code)
	assert.Contains(t, apiErr.Message, "inactive or soft-deleted")
	assert.Contains(t, apiErr.Error(), "MailboxNotEnabledForRESTAPI")

	plain := newAPIError(http.StatusBadGateway, []byte("upstream broke"), nil)
	assert.Empty(t, plain.Code)
	assert.Equal(t, "upstream broke", plain.Message)
}

func TestParseRateLimitHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name       string
		headers    http.Header
		wantReset  time.Time
		wantCounts bool
	}{
		{
			name: "counts and epoch reset",
			headers: http.Header{
				"X-Ratelimit-Limit":     []string{"120"},
				"X-Ratelimit-Remaining": []string{"0"},
				"X-Ratelimit-Reset":     []string{"1700000030"},
			},
			wantReset:  time.Unix(1_700_000_030, 0),
			wantCounts: true,
		},
		{
			name: "retry-after only",
			headers: http.Header{
				"Retry-After": []string{"5"},
			},
			wantReset: now.Add(5 * time.Second),
		},
		{
			name: "retry-after later than reset wins",
			headers: http.Header{
				"X-Ratelimit-Reset": []string{"1700000002"},
				"Retry-After":       []string{"10"},
			},
			wantReset: now.Add(10 * time.Second),
		},
		{
			name:    "no headers",
			headers: http.Header{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := parseRateLimitHeaders(tt.headers, now)
			assert.Equal(t, tt.wantCounts, info.hasCounts)
			if tt.wantReset.IsZero() {
				assert.False(t, info.hasResetAt)
			} else {
				require.True(t, info.hasResetAt)
				assert.Equal(t, tt.wantReset, info.resetAt)
			}
		})
	}
}
