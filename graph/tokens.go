package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/relaydesk/graphgate/helper"
	"github.com/relaydesk/graphgate/logger"
)

// DefaultAuthorityHost is the identity provider endpoint tokens are
// acquired from. Overridable for tests.
const DefaultAuthorityHost = "https://login.microsoftonline.com"

// DefaultScope is the application-permissions scope used when a caller
// does not name any.
const DefaultScope = "https://graph.microsoft.com/.default"

// tokenExpiryBuffer is the safety margin applied on cache lookups: a
// cached token with less remaining validity is treated as absent, so a
// token is never handed out that could expire mid-request. It also
// absorbs clock skew against the issuer.
const tokenExpiryBuffer = 5 * time.Minute

// AccessToken is a bearer credential with its expiry and the scope grant
// it covers.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
	Scopes    []string
}

// AcquireOptions controls a single Acquire call.
type AcquireOptions struct {
	// Scopes defaults to the Graph application default scope.
	Scopes []string

	// ForceRefresh acquires a fresh token even when a live cache entry
	// exists. Used after a downstream authentication failure.
	ForceRefresh bool

	// SkipCache bypasses the cache lookup but still stores the result.
	SkipCache bool
}

// identityProvider exchanges client credentials for a token. The real
// implementation speaks OAuth2 to the authority; tests substitute fakes.
type identityProvider interface {
	AcquireToken(ctx context.Context, scopes []string) (token string, expiresAt time.Time, err error)
}

// oauthProvider implements identityProvider with the client-credentials
// grant via golang.org/x/oauth2.
type oauthProvider struct {
	cfg           *ProviderConfig
	authorityHost string
}

func (p *oauthProvider) AcquireToken(ctx context.Context, scopes []string) (string, time.Time, error) {
	cc := &clientcredentials.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", p.authorityHost, p.cfg.TenantID),
		Scopes:       scopes,
	}
	tok, err := cc.Token(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok.AccessToken, tok.Expiry, nil
}

// cachedToken is one scope-keyed cache entry.
type cachedToken struct {
	token     string
	expiresAt time.Time
	scopes    []string
}

// TokenManager acquires and caches application tokens for a fixed client
// identity. Entries are keyed by the sorted, pipe-joined scope list so
// distinct scope-sets cache independently. Acquisition is not serialized:
// two concurrent misses for one scope-set may both hit the identity
// provider and the later write wins, which costs one extra token and
// nothing else.
type TokenManager struct {
	mu     sync.Mutex
	cache  map[string]*cachedToken
	cfg    *ProviderConfig
	idp    identityProvider
	logger logger.Logger

	authorityHost string
	now           func() time.Time
}

// NewTokenManager creates an uninitialized manager. Call Initialize with
// a configuration from the ConfigGate before acquiring tokens.
func NewTokenManager(log logger.Logger) *TokenManager {
	if log == nil {
		log = logger.New(logger.TestConfig())
	}
	return &TokenManager{
		cache:         make(map[string]*cachedToken),
		logger:        log.WithSubsystem("graph.tokens"),
		authorityHost: DefaultAuthorityHost,
		now:           time.Now,
	}
}

// SetAuthorityHost overrides the identity provider endpoint. Intended for
// tests and sovereign-cloud deployments.
func (m *TokenManager) SetAuthorityHost(host string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authorityHost = strings.TrimSuffix(host, "/")
	if m.cfg != nil {
		m.idp = &oauthProvider{cfg: m.cfg, authorityHost: m.authorityHost}
	}
}

// Initialize validates the identity fields and constructs the underlying
// identity-provider client.
func (m *TokenManager) Initialize(cfg *ProviderConfig) Status {
	if cfg == nil || cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return FailStatus(CodeNotConfigured, "tenant ID, client ID and client secret are required")
	}
	if !cfg.Active {
		return FailStatus(CodeConfigInactive, "configuration is administratively disabled")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	m.idp = &oauthProvider{cfg: cfg, authorityHost: m.authorityHost}

	m.logger.Info("token manager initialized",
		logger.String("tenant_id", cfg.TenantID),
		logger.String("client_id", cfg.ClientID),
		logger.String("secret_fingerprint", helper.Fingerprint(cfg.ClientSecret)),
	)
	return OkStatus()
}

// scopeKey builds the cache key: scopes sorted then pipe-joined, so
// Acquire({"b","a"}) and Acquire({"a","b"}) share one entry.
func scopeKey(scopes []string) string {
	sorted := make([]string, len(scopes))
	copy(sorted, scopes)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}

func normalizeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return []string{DefaultScope}
	}
	return scopes
}

// Acquire returns a token for the requested scope-set, from cache when a
// live entry exists and from the identity provider otherwise.
func (m *TokenManager) Acquire(ctx context.Context, opts AcquireOptions) Result[AccessToken] {
	scopes := normalizeScopes(opts.Scopes)
	key := scopeKey(scopes)

	m.mu.Lock()
	idp := m.idp
	if idp == nil {
		m.mu.Unlock()
		return Fail[AccessToken](CodeNotConfigured, "token manager is not initialized")
	}

	if !opts.SkipCache && !opts.ForceRefresh {
		if entry, ok := m.cache[key]; ok {
			if m.now().Add(tokenExpiryBuffer).Before(entry.expiresAt) {
				token := AccessToken{Token: entry.token, ExpiresAt: entry.expiresAt, Scopes: entry.scopes}
				m.mu.Unlock()
				return Ok(token)
			}
			// Inside the buffer: treat as a miss and purge.
			delete(m.cache, key)
		}
	}
	m.mu.Unlock()

	// Network acquisition happens outside the lock so a slow identity
	// provider does not block cache hits for other scope-sets.
	token, expiresAt, err := idp.AcquireToken(ctx, scopes)
	if err != nil {
		m.logger.Warn("token acquisition failed",
			logger.String("scope_key", key),
			logger.Err(err),
		)
		return FailWith[AccessToken](CodeTokenAcquisitionFailed, "failed to acquire token from identity provider", err)
	}

	m.mu.Lock()
	m.cache[key] = &cachedToken{token: token, expiresAt: expiresAt, scopes: scopes}
	m.mu.Unlock()

	m.logger.Debug("token acquired",
		logger.String("scope_key", key),
		logger.Time("expires_at", expiresAt),
		logger.Bool("forced", opts.ForceRefresh),
	)
	return Ok(AccessToken{Token: token, ExpiresAt: expiresAt, Scopes: scopes})
}

// TokenClaims are the decoded claims of a validated token.
type TokenClaims struct {
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
	AppID     string
}

// Validate decodes the token's claims and checks the expiry claim. The
// signature is deliberately NOT verified: this is an application token
// issued by a trusted provider and fetched over TLS, so issuance-time
// verification is the provider's job and this process holds no key to
// re-verify with.
func (m *TokenManager) Validate(token string) Result[TokenClaims] {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return FailWith[TokenClaims](CodeInvalidToken, "token cannot be decoded", err)
	}

	out := TokenClaims{}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	if iss, err := claims.GetIssuer(); err == nil {
		out.Issuer = iss
	}
	if appID, ok := claims["appid"].(string); ok {
		out.AppID = appID
	}

	if out.ExpiresAt.IsZero() {
		return Fail[TokenClaims](CodeInvalidToken, "token has no expiry claim")
	}
	if out.ExpiresAt.Before(m.now()) {
		return Fail[TokenClaims](CodeTokenExpired, "token expiry is in the past")
	}
	return Ok(out)
}

// Clear drops all cached entries. Used on configuration change or
// explicit reset.
func (m *TokenManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]*cachedToken)
}

// SweepExpired removes entries whose expiry has passed and returns how
// many were dropped. Housekeeping; safe to call at any cadence.
func (m *TokenManager) SweepExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	now := m.now()
	for key, entry := range m.cache {
		if !entry.expiresAt.After(now) {
			delete(m.cache, key)
			removed++
		}
	}
	return removed
}

// CachedScopeSets returns the scope keys currently cached, for
// introspection.
func (m *TokenManager) CachedScopeSets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.cache))
	for key := range m.cache {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
