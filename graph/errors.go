package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

// Operation error codes surfaced in Result envelopes.
const (
	CodeNotConfigured          = "NOT_CONFIGURED"
	CodeConfigInactive         = "CONFIG_INACTIVE"
	CodeTokenAcquisitionFailed = "TOKEN_ACQUISITION_FAILED"
	CodeInvalidToken           = "INVALID_TOKEN"
	CodeTokenExpired           = "TOKEN_EXPIRED"
	CodeClientCreationError    = "CLIENT_CREATION_ERROR"
	CodeAuthInvalid            = "AUTH_INVALID"
	CodeValidationFailed       = "VALIDATION_FAILED"
	CodeInvalidTenant          = "INVALID_TENANT"
	CodeInvalidClientID        = "INVALID_CLIENT_ID"
	CodeTestFailed             = "TEST_FAILED"
)

var (
	// ErrRequestTimeout is the retry engine's synthetic per-attempt timeout.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrNotInitialized is returned when a component is used before Initialize
	ErrNotInitialized = errors.New("graph layer not initialized")
)

// Rate-limit headers the provider attaches to throttled responses.
const (
	headerRateLimitLimit     = "x-ratelimit-limit"
	headerRateLimitRemaining = "x-ratelimit-remaining"
	headerRateLimitReset     = "x-ratelimit-reset"
	headerRetryAfter         = "retry-after"
)

// APIError is a failed provider response. The classifiers below inspect
// its vendor error code and HTTP status; the retry engine additionally
// reads its headers on rate-limit failures.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Headers    http.Header
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("graph API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("graph API error %d: %s", e.StatusCode, e.Message)
}

// graphErrorBody is the provider's error response shape.
type graphErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newAPIError builds an APIError from a non-success provider response body.
func newAPIError(status int, body []byte, headers http.Header) *APIError {
	apiErr := &APIError{
		StatusCode: status,
		Message:    http.StatusText(status),
		Headers:    headers,
	}
	var parsed graphErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Code != "" {
		apiErr.Code = parsed.Error.Code
		apiErr.Message = parsed.Error.Message
	} else if len(body) > 0 {
		apiErr.Message = string(body)
	}
	return apiErr
}

// asAPIError converts any provider-shaped error into an *APIError.
// oauth2.RetrieveError (from the identity provider) is normalized so the
// same classifiers work on token acquisition failures.
func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		norm := &APIError{
			Code:    rErr.ErrorCode,
			Message: rErr.ErrorDescription,
		}
		if rErr.Response != nil {
			norm.StatusCode = rErr.Response.StatusCode
			norm.Headers = rErr.Response.Header
		}
		if norm.Message == "" {
			norm.Message = string(rErr.Body)
		}
		return norm, true
	}
	return nil, false
}

// IsAuthenticationError reports whether err is a credential rejection.
// These are never retried; waiting cannot fix a bad token.
func IsAuthenticationError(err error) bool {
	apiErr, ok := asAPIError(err)
	if !ok {
		return false
	}
	switch apiErr.Code {
	case "InvalidAuthenticationToken", "AuthenticationFailed", "Unauthorized", "invalid_client":
		return true
	}
	return apiErr.StatusCode == http.StatusUnauthorized
}

// IsPermissionError reports whether err is an insufficient-grant failure.
func IsPermissionError(err error) bool {
	apiErr, ok := asAPIError(err)
	if !ok {
		return false
	}
	switch apiErr.Code {
	case "Forbidden", "InsufficientPrivileges", "AccessDenied":
		return true
	}
	return apiErr.StatusCode == http.StatusForbidden
}

// IsRateLimitError reports whether err is provider throttling.
func IsRateLimitError(err error) bool {
	apiErr, ok := asAPIError(err)
	if !ok {
		return false
	}
	return apiErr.Code == "TooManyRequests" || apiErr.StatusCode == http.StatusTooManyRequests
}

// IsTemporaryError reports whether err is a transient provider-side 5xx.
func IsTemporaryError(err error) bool {
	apiErr, ok := asAPIError(err)
	if !ok {
		return false
	}
	switch apiErr.Code {
	case "ServiceUnavailable", "BadGateway", "GatewayTimeout":
		return true
	}
	switch apiErr.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsTimeoutError reports whether err is the engine's own watchdog or a
// provider-reported request timeout.
func IsTimeoutError(err error) bool {
	if errors.Is(err, ErrRequestTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	apiErr, ok := asAPIError(err)
	if !ok {
		return false
	}
	switch apiErr.Code {
	case "RequestTimeout", "Timeout":
		return true
	}
	return apiErr.StatusCode == http.StatusRequestTimeout
}

// rateLimitInfo is what the retry engine extracts from a throttled response.
type rateLimitInfo struct {
	limit      int
	remaining  int
	hasCounts  bool
	resetAt    time.Time
	hasResetAt bool
}

// parseRateLimitHeaders reads the provider's throttling headers. The reset
// header is an epoch-seconds instant; retry-after is a relative delay in
// seconds and wins when both are present and it ends later.
func parseRateLimitHeaders(headers http.Header, now time.Time) rateLimitInfo {
	var info rateLimitInfo
	if headers == nil {
		return info
	}

	if v := headers.Get(headerRateLimitLimit); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			info.limit = limit
			info.hasCounts = true
		}
	}
	if v := headers.Get(headerRateLimitRemaining); v != "" {
		if remaining, err := strconv.Atoi(v); err == nil {
			info.remaining = remaining
			info.hasCounts = true
		}
	}
	if v := headers.Get(headerRateLimitReset); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			info.resetAt = time.Unix(epoch, 0)
			info.hasResetAt = true
		}
	}
	if v := headers.Get(headerRetryAfter); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			after := now.Add(time.Duration(secs) * time.Second)
			if !info.hasResetAt || after.After(info.resetAt) {
				info.resetAt = after
				info.hasResetAt = true
			}
		}
	}
	return info
}
