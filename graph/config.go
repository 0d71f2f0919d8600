package graph

import (
	"context"
	"os"
	"regexp"
	"sync"

	"github.com/mitchellh/copystructure"

	"github.com/relaydesk/graphgate/helper"
	"github.com/relaydesk/graphgate/logger"
)

// Environment variables supplying the application identity. Their absence
// is a normal "unconfigured" state, not an error.
const (
	EnvTenantID     = "GRAPH_TENANT_ID"
	EnvClientID     = "GRAPH_CLIENT_ID"
	EnvClientSecret = "GRAPH_CLIENT_SECRET"

	// EnvConfigDisabled set to "true" marks a present configuration as
	// administratively disabled.
	EnvConfigDisabled = "GRAPH_CONFIG_DISABLED"
)

// guidPattern matches tenant and client IDs (UUID format).
var guidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// reservedTenantAliases are the multi-tenant authority aliases accepted in
// place of a GUID tenant ID.
var reservedTenantAliases = map[string]bool{
	"common":        true,
	"organizations": true,
	"consumers":     true,
}

// ProviderConfig is the application identity used to bootstrap the token
// manager.
type ProviderConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// Active is false when the configuration exists but has been
	// administratively disabled.
	Active bool
}

// ValidateOptions controls ValidateConfiguration.
type ValidateOptions struct {
	// TestConnection performs a full credential acquisition plus one
	// minimal authenticated read. Without it validation is purely
	// structural and makes no network calls.
	TestConnection bool
}

// ConnectionProber performs the live probe for ValidateConfiguration.
// The default prober acquires a token with a throwaway TokenManager and
// issues one minimal read, touching no shared caches.
type ConnectionProber interface {
	Probe(ctx context.Context, cfg *ProviderConfig) error
}

// ConfigGate validates and, on demand, live-tests the credential
// configuration before the rest of the layer trusts it. It holds the
// current in-memory snapshot consulted by TokenManager.Initialize.
type ConfigGate struct {
	mu      sync.Mutex
	current *ProviderConfig

	logger logger.Logger
	prober ConnectionProber

	// lookupEnv is replaceable in tests
	lookupEnv func(key string) (string, bool)
}

// NewConfigGate creates a gate reading from the process environment.
func NewConfigGate(log logger.Logger) *ConfigGate {
	if log == nil {
		log = logger.New(logger.TestConfig())
	}
	g := &ConfigGate{
		logger:    log.WithSubsystem("graph.config"),
		lookupEnv: os.LookupEnv,
	}
	g.prober = &defaultProber{logger: g.logger}
	return g
}

// SetProber replaces the live-test prober. Used by tests and by callers
// that want a cheaper probe.
func (g *ConfigGate) SetProber(p ConnectionProber) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prober = p
}

// StoredConfig reads the identity from the environment. It returns nil
// when any required variable is absent: callers treat that as "not
// configured", not as an error.
func (g *ConfigGate) StoredConfig() *ProviderConfig {
	g.mu.Lock()
	lookup := g.lookupEnv
	g.mu.Unlock()

	tenantID, okTenant := lookup(EnvTenantID)
	clientID, okClient := lookup(EnvClientID)
	clientSecret, okSecret := lookup(EnvClientSecret)
	if !okTenant || !okClient || !okSecret || tenantID == "" || clientID == "" || clientSecret == "" {
		return nil
	}

	disabled, _ := lookup(EnvConfigDisabled)
	return &ProviderConfig{
		TenantID:     tenantID,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Active:       disabled != "true",
	}
}

// ValidateConfiguration structurally checks a proposed configuration and
// optionally live-tests it. Structural failures return before any network
// call; the live probe never mutates cached state.
func (g *ConfigGate) ValidateConfiguration(ctx context.Context, cfg *ProviderConfig, opts ValidateOptions) Status {
	if cfg == nil {
		return FailStatus(CodeNotConfigured, "no configuration provided")
	}
	if !guidPattern.MatchString(cfg.TenantID) && !reservedTenantAliases[cfg.TenantID] {
		return Failf[struct{}](CodeInvalidTenant, "tenant ID %q is not a GUID or a reserved alias", cfg.TenantID)
	}
	if !guidPattern.MatchString(cfg.ClientID) {
		return Failf[struct{}](CodeInvalidClientID, "client ID %q is not a GUID", cfg.ClientID)
	}

	if opts.TestConnection {
		g.mu.Lock()
		prober := g.prober
		g.mu.Unlock()
		if err := prober.Probe(ctx, cfg); err != nil {
			g.logger.Warn("configuration connection test failed",
				logger.String("tenant_id", cfg.TenantID),
				logger.String("client_id", cfg.ClientID),
				logger.Err(err),
			)
			return Result[struct{}]{Error: &OpError{
				Code:    CodeTestFailed,
				Message: "credential test against the provider failed",
				Details: err.Error(),
			}}
		}
	}
	return OkStatus()
}

// RefreshConfig re-reads and re-validates the environment, updating the
// in-memory snapshot on success.
func (g *ConfigGate) RefreshConfig(ctx context.Context) Result[*ProviderConfig] {
	cfg := g.StoredConfig()
	if cfg == nil {
		g.mu.Lock()
		g.current = nil
		g.mu.Unlock()
		return Fail[*ProviderConfig](CodeNotConfigured, "required environment variables are not set")
	}
	if res := g.ValidateConfiguration(ctx, cfg, ValidateOptions{}); !res.Success {
		return Result[*ProviderConfig]{Error: res.Error}
	}

	g.mu.Lock()
	g.current = cfg
	g.mu.Unlock()

	g.logger.Info("configuration refreshed",
		logger.String("tenant_id", cfg.TenantID),
		logger.String("client_id", cfg.ClientID),
		logger.String("secret_fingerprint", helper.Fingerprint(cfg.ClientSecret)),
		logger.Bool("active", cfg.Active),
	)
	return Ok(copyConfig(cfg))
}

// CurrentConfig returns a copy of the current snapshot, or nil when none
// is loaded. Callers cannot mutate gate state through the copy.
func (g *ConfigGate) CurrentConfig() *ProviderConfig {
	g.mu.Lock()
	defer g.mu.Unlock()
	return copyConfig(g.current)
}

// IsConfigurationActive reports whether a snapshot is loaded and not
// administratively disabled.
func (g *ConfigGate) IsConfigurationActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current != nil && g.current.Active
}

// ClearConfig drops the in-memory snapshot.
func (g *ConfigGate) ClearConfig() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current = nil
}

func copyConfig(cfg *ProviderConfig) *ProviderConfig {
	if cfg == nil {
		return nil
	}
	copied, err := copystructure.Copy(cfg)
	if err != nil {
		// ProviderConfig is a flat struct; copystructure cannot fail on
		// it, but fall back to a shallow copy rather than panic.
		shallow := *cfg
		return &shallow
	}
	return copied.(*ProviderConfig)
}

// defaultProber acquires a token with a throwaway TokenManager and issues
// one minimal authenticated read through a raw client immediately
// afterwards. It shares no state with the process-wide caches, which is
// what makes validation side-effect free.
type defaultProber struct {
	logger        logger.Logger
	authorityHost string
	baseURL       string
}

func (p *defaultProber) Probe(ctx context.Context, cfg *ProviderConfig) error {
	probeCfg := copyConfig(cfg)
	probeCfg.Active = true

	tm := NewTokenManager(p.logger)
	if p.authorityHost != "" {
		tm.SetAuthorityHost(p.authorityHost)
	}
	if res := tm.Initialize(probeCfg); !res.Success {
		return res.Error
	}

	acquired := tm.Acquire(ctx, AcquireOptions{SkipCache: true})
	if !acquired.Success {
		return acquired.Error
	}

	client, err := newClient(acquired.Data.Token, ClientOptions{BaseURL: p.baseURL}, p.logger)
	if err != nil {
		return err
	}
	_, err = client.Get(ctx, validationProbePath)
	return err
}
