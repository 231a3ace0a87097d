package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/compose"
	"github.com/sells-group/outreach-cli/internal/cost"
	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/enrich"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
)

// runnerEnv holds the store and the Runner needed by the run and resume
// commands.
type runnerEnv struct {
	Store  store.Store
	Runner *pipeline.Runner
}

// Close releases resources held by the environment.
func (re *runnerEnv) Close() {
	if re.Store != nil {
		_ = re.Store.Close()
	}
}

// initRunner sets up the store, provider clients, composer and dispatch
// queue, and builds the Runner. Callers should defer env.Close().
func initRunner(ctx context.Context) (*runnerEnv, error) {
	if err := cfg.Validate("run"); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &runnerEnv{Store: st}

	deps, err := buildDeps(ctx, st)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Runner = pipeline.NewRunner(deps)
	return env, nil
}

// buildDeps wires the stage collaborators from configuration.
func buildDeps(ctx context.Context, st store.Store) (pipeline.Deps, error) {
	opts := enrich.Options{
		Concurrency:   cfg.Enrich.Concurrency,
		FlushEvery:    cfg.Enrich.FlushEvery,
		Timeout:       time.Duration(cfg.Enrich.TimeoutSecs) * time.Second,
		DeriveDomains: cfg.Enrich.DeriveDomains,
		Cost:          cost.NewCalculator(cost.DefaultRates().WithOverrides(cfg.Enrich.Rates)),
	}
	if cfg.Enrich.WaterfallFile != "" {
		wf, err := enrich.LoadWaterfall(cfg.Enrich.WaterfallFile)
		if err != nil {
			return pipeline.Deps{}, err
		}
		opts.Waterfall = wf
	}

	providers := enrich.BuildProviders(cfg.Enrich)
	if len(providers) == 0 {
		zap.L().Warn("no enrichment provider credentials configured; records without email will not be enriched")
	}

	composer, err := compose.NewFromConfig(ctx, cfg.Compose)
	if err != nil {
		return pipeline.Deps{}, eris.Wrap(err, "init composer")
	}

	sender, err := dispatch.NewSender(cfg)
	if err != nil {
		return pipeline.Deps{}, err
	}
	limits := dispatch.LimitsFor(sender.Name())
	limits.MaxInFlight = cfg.Dispatch.MaxInFlight
	retry := resilience.FromConfig(resilience.RateLimitRetryConfig(),
		cfg.Dispatch.Retry.MaxAttempts,
		cfg.Dispatch.Retry.InitialBackoffMs,
		cfg.Dispatch.Retry.MaxBackoffMs,
	)

	zap.L().Info("runner initialized",
		zap.Int("enrich_providers", len(providers)),
		zap.String("compose_mode", string(composer.Mode())),
		zap.String("dispatch_provider", sender.Name()),
	)

	return pipeline.Deps{
		Store:         st,
		Providers:     providers,
		EnrichOptions: opts,
		Composer:      composer,
		Queue:         dispatch.NewQueue(sender, cfg.Campaign(), limits, retry),
	}, nil
}
