package helpers

import (
	"fmt"

	"github.com/relaydesk/graphgate/config"
	"github.com/relaydesk/graphgate/graph"
	"github.com/relaydesk/graphgate/logger"
)

var (
	// ConfigFile is set by the root command's --config flag.
	ConfigFile string

	rt *Runtime
)

// Runtime bundles the long-lived components a CLI invocation needs.
type Runtime struct {
	Config  *config.Config
	Logger  logger.Logger
	Gate    *graph.ConfigGate
	Tokens  *graph.TokenManager
	Engine  *graph.RetryEngine
	Factory *graph.ClientFactory
}

// Build constructs the runtime from the optional --config file. The
// result is memoized so subcommands share one component set.
func Build() (*Runtime, error) {
	if rt != nil {
		return rt, nil
	}

	cfg := config.DefaultConfig()
	if ConfigFile != "" {
		loaded, err := config.LoadConfig(ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	log := logger.New(cfg.LoggerConfig())
	tokens := graph.NewTokenManager(log)
	engine := graph.NewRetryEngine(graph.NewRateLimitState(), log)
	factory := graph.NewClientFactory(tokens, engine, log)
	factory.SetDefaultOptions(cfg.ClientOptions())

	rt = &Runtime{
		Config:  cfg,
		Logger:  log,
		Gate:    graph.NewConfigGate(log),
		Tokens:  tokens,
		Engine:  engine,
		Factory: factory,
	}
	return rt, nil
}

// InitializedRuntime builds the runtime and primes the token manager
// from the environment. Commands that reach the provider use this.
func InitializedRuntime() (*Runtime, error) {
	r, err := Build()
	if err != nil {
		return nil, err
	}

	cfg := r.Gate.StoredConfig()
	if cfg == nil {
		return nil, fmt.Errorf("not configured: set %s, %s and %s",
			graph.EnvTenantID, graph.EnvClientID, graph.EnvClientSecret)
	}
	if res := r.Tokens.Initialize(cfg); !res.Success {
		return nil, fmt.Errorf("%s: %s", res.Error.Code, res.Error.Message)
	}
	return r, nil
}

