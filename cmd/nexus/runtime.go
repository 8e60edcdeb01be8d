package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/agent/providers"
	"github.com/haasonsaas/nexus/internal/agent/routing"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/lanes"
	modelcatalog "github.com/haasonsaas/nexus/internal/models"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/internal/skills"
	"github.com/haasonsaas/nexus/internal/workspace"
)

// buildLLMProvider constructs every named provider in cfg.LLM.Providers and
// wraps them in a routing.Router so a failure on the default provider falls
// through cfg.LLM.FallbackChain in order (spec §6: "try fallback_chain in
// order until one succeeds").
func buildLLMProvider(cfg *config.Config) (agent.LLMProvider, error) {
	built := make(map[string]agent.LLMProvider, len(cfg.LLM.Providers))
	for name := range cfg.LLM.Providers {
		provider, err := newNamedProvider(cfg, name)
		if err != nil {
			return nil, fmt.Errorf("llm provider %q: %w", name, err)
		}
		built[strings.ToLower(name)] = provider
	}
	if len(built) == 0 {
		return nil, fmt.Errorf("no llm providers configured")
	}

	fallback := routing.Target{}
	if len(cfg.LLM.FallbackChain) > 0 {
		fallback.Provider = cfg.LLM.FallbackChain[0]
	}

	return routing.NewRouter(routing.Config{
		DefaultProvider: cfg.LLM.DefaultProvider,
		PreferLocal:     cfg.LLM.Routing.PreferLocal,
		Fallback:        fallback,
		FailureCooldown: cfg.LLM.Routing.UnhealthyCooldown,
	}, built), nil
}

func newNamedProvider(cfg *config.Config, name string) (agent.LLMProvider, error) {
	pc := cfg.LLM.Providers[name]
	switch strings.ToLower(name) {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
	case "openai":
		return providers.NewOpenAIProvider(pc.APIKey), nil
	case "bedrock":
		provider, err := providers.NewBedrockProvider(providers.BedrockConfig{
			Region:       cfg.LLM.Bedrock.Region,
			DefaultModel: pc.DefaultModel,
		})
		if err != nil {
			return nil, err
		}
		if pc.DefaultModel == "" {
			if discovered := provider.DiscoverModels(context.Background()); len(discovered) > 0 {
				provider.SetDefaultModel(discovered[0].ID)
			}
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// openMigrationDB opens cfg.Database.URL and validates connectivity,
// applying the connection pool bounds from DatabaseConfig.
func openMigrationDB(cfg *config.Config) (*sql.DB, error) {
	if cfg == nil || strings.TrimSpace(cfg.Database.URL) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Database.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxConnections)
		db.SetMaxIdleConns(cfg.Database.MaxConnections)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// openSessionStore selects a session store backend: a Postgres/CockroachDB
// SQLStore when Database.URL is configured, otherwise a local append-only
// FileStore rooted under the workspace directory (spec §6 session storage
// layout).
func openSessionStore(cfg *config.Config) (sessions.Store, func() error, error) {
	if strings.TrimSpace(cfg.Database.URL) != "" {
		db, err := openMigrationDB(cfg)
		if err != nil {
			return nil, nil, err
		}
		store, err := sessions.NewSQLStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, db.Close, nil
	}

	dir := strings.TrimSpace(cfg.Workspace.Path)
	if dir == "" {
		dir = "."
	}
	store, err := sessions.NewFileStore(dir + "/sessions")
	if err != nil {
		return nil, nil, err
	}
	return store, func() error { return nil }, nil
}

// buildController wires a Controller from the loaded config: LLM provider,
// session store, workspace-derived system prompt material, and skills
// manager (spec §6 "Agent(config)" construction).
func buildController(cfg *config.Config) (*agent.Controller, func() error, error) {
	provider, err := buildLLMProvider(cfg)
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := openSessionStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	ws, err := workspace.LoadWorkspace(workspace.LoaderConfigFromConfig(cfg))
	if err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("load workspace: %w", err)
	}

	mgr, err := skills.NewManager(&skills.SkillsConfig{}, cfg.Workspace.Path, nil)
	if err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("skills manager: %w", err)
	}

	pc := cfg.LLM.Providers[strings.ToLower(cfg.LLM.DefaultProvider)]
	model := pc.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-5"
	}

	controller := agent.NewController(agent.ControllerConfig{
		AgentID:             "nexus",
		Provider:            provider,
		Store:               store,
		Registry:            agent.NewToolRegistry(),
		Lanes:               lanes.NewRegistry(),
		Skills:              mgr,
		SystemPromptBase:    ws.SystemPromptContext(),
		WorkspaceRoot:       cfg.Workspace.Path,
		Model:               model,
		MaxTurns:            agent.DefaultMaxTurns,
		MaxTokens:           4096,
		Temperature:         1.0,
		ContextWindowTokens: defaultContextWindow(cfg, model),
		MaxConcurrentRuns:   4,
		WarnContextTokens:   agent.DefaultWarnContextTokens,
		MinContextTokens:    agent.DefaultMinContextTokens,
	})

	return controller, closeStore, nil
}

// defaultContextWindow resolves the context window budget for model: the
// catalog's known window for that model ID takes priority (spec's
// contextTokens default assumes the model's real limit, not a guess), then
// an explicit Bedrock override, then a conservative 200k fallback for
// models the catalog hasn't seen yet.
func defaultContextWindow(cfg *config.Config, model string) int {
	if catalogModel, ok := modelcatalog.Get(model); ok && catalogModel.ContextWindow > 0 {
		return catalogModel.ContextWindow
	}
	if cfg.LLM.Bedrock.DefaultContextWindow > 0 {
		return cfg.LLM.Bedrock.DefaultContextWindow
	}
	return 200000
}

// newLogger builds the process-wide structured logger from config (spec's
// ambient logging stack, bridged via config.EffectiveLogConfig).
func newLogger(cfg *config.Config) *observability.Logger {
	return observability.NewLogger(config.EffectiveLogConfig(cfg.Logging))
}

// startTracing wires OpenTelemetry tracing when configured, returning a
// no-op shutdown when tracing is disabled.
func startTracing(cfg *config.Config) func(ctxTimeout time.Duration) {
	if !cfg.Observability.Tracing.Enabled {
		return func(time.Duration) {}
	}
	_, shutdown := observability.NewTracer(config.EffectiveTraceConfig(cfg.Observability.Tracing))
	return func(d time.Duration) {
		ctx, cancel := context.WithTimeout(context.Background(), d)
		defer cancel()
		_ = shutdown(ctx)
	}
}
