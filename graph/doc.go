// Package graph is the orchestration layer that mediates every call to the
// Microsoft Graph style mailbox API. It owns four concerns:
//
//   - TokenManager: acquires application tokens via the OAuth2
//     client-credentials grant and caches them per scope-set with an expiry
//     safety buffer.
//   - RetryEngine: executes operations with a per-attempt timeout,
//     exponential backoff with jitter, error classification, and a shared
//     provider rate-limit cooldown.
//   - ClientFactory: builds API clients bound to a valid token, optionally
//     decorated so every HTTP verb runs through the retry engine.
//   - ConfigGate: loads tenant/client credentials from the environment,
//     validates them structurally, and live-tests them on demand.
//
// Public operations return the Result envelope rather than raising errors;
// the retry engine is the single exception and returns the raw last error
// so callers can classify it themselves.
//
// The token cache and rate-limit state are per process. Deployments running
// several instances will track provider limits independently and can
// collectively exceed the provider's real quota.
package graph
