package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patchsmith/internal/agent"
	"github.com/fyrsmithlabs/patchsmith/internal/agent/llm"
	"github.com/fyrsmithlabs/patchsmith/internal/artifact"
	"github.com/fyrsmithlabs/patchsmith/internal/config"
	"github.com/fyrsmithlabs/patchsmith/internal/engine"
	"github.com/fyrsmithlabs/patchsmith/internal/events"
	"github.com/fyrsmithlabs/patchsmith/internal/index"
	"github.com/fyrsmithlabs/patchsmith/internal/logging"
	"github.com/fyrsmithlabs/patchsmith/internal/policy"
	"github.com/fyrsmithlabs/patchsmith/internal/telemetry"
)

// runtime bundles the collaborators every command wires before doing work.
// Close releases them in reverse construction order.
type runtime struct {
	cfg     *config.Config
	log     *logging.Logger
	tel     *telemetry.Telemetry
	metrics *telemetry.Metrics
	store   *artifact.Store
}

// newRuntime loads config (file, env, flags) and brings up logging,
// telemetry, and the artifact store. repoDir, when non-empty, layers the
// target repo's .patchsmith.toml budget/retry overrides on top.
func newRuntime(ctx context.Context, repoDir string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if outputDir != "" {
		cfg.Output = outputDir
	}
	if repoDir != "" {
		if err := config.ApplyRepoOverrides(cfg, repoDir); err != nil {
			return nil, err
		}
	}

	tel, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := buildMetrics(cfg)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	log, err := logging.New(cfg.Logging, nil)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("init logging: %w", err)
	}

	store, err := artifact.NewStore(cfg.Output)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	return &runtime{cfg: cfg, log: log, tel: tel, metrics: metrics, store: store}, nil
}

// buildMetrics registers the pipeline instruments when telemetry is on.
// Disabled telemetry means no instruments at all, not no-op ones.
func buildMetrics(cfg *config.Config) (*telemetry.Metrics, error) {
	if !cfg.Telemetry.Enabled {
		return nil, nil
	}
	return telemetry.NewMetrics()
}

func (rt *runtime) Close(ctx context.Context) {
	_ = rt.log.Sync()
	_ = rt.tel.Shutdown(ctx)
}

// buildRoster selects the stage agents for the configured provider. The
// scripted roster is the offline dry-run path; everything else goes through
// the LLM client.
func buildRoster(cfg *config.Config) (*agent.Roster, error) {
	if cfg.Agents.Provider == "scripted" {
		return agent.ScriptedRoster()
	}
	model, err := llm.NewModel(cfg.Agents)
	if err != nil {
		return nil, err
	}
	return llm.NewRoster(model, cfg.Cost, cfg.Agents.Temperature)
}

// buildPolicies assembles the decision chain: security, then budget, then
// retry.
func buildPolicies(cfg *config.Config) (*policy.Chain, error) {
	allowlist, err := policy.LoadAllowlist(cfg.Security.AllowlistPath)
	if err != nil {
		return nil, err
	}
	security, err := policy.NewSecurity(allowlist)
	if err != nil {
		return nil, err
	}
	budget := policy.NewBudgetCheck(cfg.Budget.Budget())
	return policy.NewChain(security, budget, cfg.Retry.Retry()), nil
}

// buildRetriever indexes the target repository and returns the retriever
// feeding the intelligence and planning stages. Returns nil when indexing
// is disabled or no repo was given.
func buildRetriever(ctx context.Context, rt *runtime, repoDir string) (engine.Retriever, error) {
	if !rt.cfg.Index.Enabled || repoDir == "" {
		return nil, nil
	}
	store, err := index.NewStore(rt.cfg.Index, buildEmbedder(ctx, rt), rt.log)
	if err != nil {
		return nil, err
	}
	ix := index.New(store, rt.cfg.Index, rt.log)
	n, err := ix.BuildFromRepo(ctx, repoDir)
	if err != nil {
		return nil, fmt.Errorf("index repository %s: %w", repoDir, err)
	}
	rt.log.Info(ctx, "repository indexed", zap.String("repo", repoDir), zap.Int("chunks", n))
	return ix, nil
}

// buildEmbedder honors index.embedder. Fastembed needs a CGO build and a
// model download; when it cannot initialize, the hash embedder keeps the
// index usable rather than failing the run.
func buildEmbedder(ctx context.Context, rt *runtime) index.Embedder {
	if rt.cfg.Index.Embedder != "fastembed" {
		return index.NewHashEmbedder(384)
	}
	emb, err := index.NewFastEmbedder(rt.cfg.Index.ModelCache)
	if err != nil {
		rt.log.Warn(ctx, "fastembed unavailable, falling back to hash embedder", zap.Error(err))
		return index.NewHashEmbedder(384)
	}
	return emb
}

// connectBus brings up the trace event bus: embedded server by default,
// external cluster when configured.
func connectBus(cfg *config.Config) (*events.Bus, error) {
	if cfg.Events.Embedded {
		return events.NewEmbedded()
	}
	return events.Connect(cfg.Events.URL)
}

// buildEngine wires one engine instance over an assembled roster. bus and
// retriever may be nil; metrics ride along from the runtime when telemetry
// is enabled.
func buildEngine(rt *runtime, roster *agent.Roster, bus *events.Bus, retriever engine.Retriever) (*engine.Engine, error) {
	policies, err := buildPolicies(rt.cfg)
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{engine.WithLogger(rt.log)}
	if bus != nil {
		opts = append(opts, engine.WithPublisher(bus))
	}
	if retriever != nil {
		opts = append(opts, engine.WithRetriever(retriever))
	}
	if rt.metrics != nil {
		opts = append(opts, engine.WithMetrics(rt.metrics))
	}
	return engine.New(roster, policies, rt.store, rt.cfg.Budget.Budget(), opts...), nil
}
