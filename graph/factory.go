package graph

import (
	"context"
	"sort"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"

	"github.com/relaydesk/graphgate/logger"
)

// ClientFactory produces API clients bound to a valid credential. It is
// the single seam where a raw client becomes a resilient one: services
// built on CreateClientWithRetry inherit retry, backoff and rate-limit
// cooldown without any call-site boilerplate.
type ClientFactory struct {
	tokens *TokenManager
	engine *RetryEngine
	logger logger.Logger

	mu       sync.Mutex
	cache    map[string]*cachedClient
	defaults ClientOptions

	now func() time.Time
}

// cachedClient is one entry of the wrapper cache.
type cachedClient struct {
	id        string
	client    *ResilientClient
	scopes    []string
	createdAt time.Time
}

// CacheStats describes the wrapper cache for introspection.
type CacheStats struct {
	Entries int
	Keys    []string
	Oldest  time.Time
}

// NewClientFactory wires a factory to its token manager and retry engine.
func NewClientFactory(tokens *TokenManager, engine *RetryEngine, log logger.Logger) *ClientFactory {
	if log == nil {
		log = logger.New(logger.TestConfig())
	}
	return &ClientFactory{
		tokens: tokens,
		engine: engine,
		logger: log.WithSubsystem("graph.factory"),
		cache:  make(map[string]*cachedClient),
		now:    time.Now,
	}
}

// SetDefaultOptions sets options merged under every CreateClient call.
// Explicit per-call values win.
func (f *ClientFactory) SetDefaultOptions(opts ClientOptions) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaults = opts
}

func (f *ClientFactory) mergedOptions(opts ClientOptions) ClientOptions {
	f.mu.Lock()
	defaults := f.defaults
	f.mu.Unlock()

	if len(opts.Scopes) == 0 {
		opts.Scopes = defaults.Scopes
	}
	if opts.Version == "" {
		opts.Version = defaults.Version
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaults.BaseURL
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if isZeroRetryOptions(opts.Retry) {
		opts.Retry = defaults.Retry
	}
	return opts
}

// isZeroRetryOptions reports whether no retry tuning was supplied.
// RetryOptions holds a func field, so the struct is not comparable.
func isZeroRetryOptions(o RetryOptions) bool {
	return o.MaxRetries == 0 && o.Timeout == 0 && o.BackoffMultiplier == 0 &&
		o.MaxBackoff == 0 && o.ShouldRetry == nil
}

// CreateClient builds a raw client on a fresh or cached credential. Most
// callers want CreateClientWithRetry; this exists for one-shot validation
// style calls that need unwrapped provider errors.
func (f *ClientFactory) CreateClient(ctx context.Context, opts ClientOptions) Result[*Client] {
	opts = f.mergedOptions(opts)

	acquired := f.tokens.Acquire(ctx, AcquireOptions{Scopes: opts.Scopes})
	if !acquired.Success {
		return Result[*Client]{Error: acquired.Error}
	}

	client, err := newClient(acquired.Data.Token, opts, f.logger)
	if err != nil {
		return FailWith[*Client](CodeClientCreationError, "failed to construct client", err)
	}
	return Ok(client)
}

// CreateClientWithRetry builds a client whose every verb is routed
// through the retry engine. This is the preferred entry point for all
// domain services.
func (f *ClientFactory) CreateClientWithRetry(ctx context.Context, opts ClientOptions) Result[*ResilientClient] {
	opts = f.mergedOptions(opts)

	raw := f.CreateClient(ctx, opts)
	if !raw.Success {
		return Result[*ResilientClient]{Error: raw.Error}
	}
	return Ok(NewResilientClient(raw.Data, f.engine, opts.Retry))
}

// GetOrCreateClient returns a previously built wrapper by cacheKey,
// re-checking that a credential for its scope-set is still obtainable
// before reuse. That check hits the token cache and only reaches the
// network when the token cache itself missed. Constructing a client is
// cheap, but re-acquiring scopes and reconfiguring handlers is measurable
// overhead under high request volume, hence the cache.
func (f *ClientFactory) GetOrCreateClient(ctx context.Context, cacheKey string, opts ClientOptions) Result[*ResilientClient] {
	f.mu.Lock()
	entry, ok := f.cache[cacheKey]
	f.mu.Unlock()

	if ok {
		acquired := f.tokens.Acquire(ctx, AcquireOptions{Scopes: entry.scopes})
		if acquired.Success {
			return Ok(entry.client)
		}
		// Credential no longer obtainable; drop the wrapper and rebuild.
		f.mu.Lock()
		delete(f.cache, cacheKey)
		f.mu.Unlock()
	}

	created := f.CreateClientWithRetry(ctx, opts)
	if !created.Success {
		return created
	}

	id, err := uuid.GenerateUUID()
	if err != nil {
		id = cacheKey
	}
	f.mu.Lock()
	f.cache[cacheKey] = &cachedClient{
		id:        id,
		client:    created.Data,
		scopes:    normalizeScopes(f.mergedOptions(opts).Scopes),
		createdAt: f.now(),
	}
	f.mu.Unlock()

	f.logger.Debug("cached new client wrapper",
		logger.String("cache_key", cacheKey),
		logger.String("client_id", id),
	)
	return created
}

// ValidateClient issues a minimal self-identifying request to confirm the
// client's credential is currently accepted by the provider.
func (f *ClientFactory) ValidateClient(ctx context.Context, client Requester) Status {
	if client == nil {
		return FailStatus(CodeValidationFailed, "no client provided")
	}
	if _, err := client.Get(ctx, validationProbePath); err != nil {
		if IsAuthenticationError(err) {
			return Result[struct{}]{Error: &OpError{
				Code:    CodeAuthInvalid,
				Message: "credential rejected by the provider",
				Details: err.Error(),
			}}
		}
		return Result[struct{}]{Error: &OpError{
			Code:    CodeValidationFailed,
			Message: "validation request failed",
			Details: err.Error(),
		}}
	}
	return OkStatus()
}

// ClearClientCache drops every cached wrapper.
func (f *ClientFactory) ClearClientCache() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = make(map[string]*cachedClient)
}

// GetCacheStats describes the wrapper cache.
func (f *ClientFactory) GetCacheStats() CacheStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := CacheStats{Entries: len(f.cache)}
	for key, entry := range f.cache {
		stats.Keys = append(stats.Keys, key)
		if stats.Oldest.IsZero() || entry.createdAt.Before(stats.Oldest) {
			stats.Oldest = entry.createdAt
		}
	}
	sort.Strings(stats.Keys)
	return stats
}
