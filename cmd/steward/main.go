// Command steward runs an interactive agent session on the terminal.
//
// Each line of input is one turn. When the runtime suspends for
// approval, /approve and /reject decide the pending plan. /interrupt
// aborts the active turn and /quit exits.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stewardhq/steward"
	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/observer"
	"github.com/stewardhq/steward/provider/openaicompat"
	"github.com/stewardhq/steward/store/postgres"
	"github.com/stewardhq/steward/store/sqlite"
	"github.com/stewardhq/steward/tools/market"
	"github.com/stewardhq/steward/tools/production"
	"github.com/stewardhq/steward/tools/shopping"
)

func main() {
	ctx := context.Background()
	cfg := config.Load(os.Getenv("STEWARD_CONFIG"))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	level, ok := steward.ParseAutonomyLevel(cfg.Policy.Autonomy)
	if !ok {
		log.Fatalf("config: invalid autonomy level %q", cfg.Policy.Autonomy)
	}

	// Store: sqlite by default, postgres when configured.
	var store steward.Store
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pool.Close()
		store = postgres.New(pool)
	default:
		store = sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
	}
	if err := store.Init(ctx); err != nil {
		log.Fatalf("store init: %v", err)
	}
	defer store.Close()

	var provider steward.Provider = openaicompat.NewProvider(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL)

	opts := []steward.Option{steward.WithLogger(logger)}
	if cfg.Runtime.SystemPrompt != "" {
		opts = append(opts, steward.WithSystemPrompt(cfg.Runtime.SystemPrompt))
	}
	if cfg.Runtime.MaxIterations > 0 {
		opts = append(opts, steward.WithMaxIterations(cfg.Runtime.MaxIterations))
	}
	if cfg.Runtime.ParallelDispatch {
		opts = append(opts, steward.WithParallelDispatch())
	}
	if cfg.Runtime.ApprovalTTLSecs > 0 {
		opts = append(opts, steward.WithApprovalTTL(time.Duration(cfg.Runtime.ApprovalTTLSecs)*time.Second))
	}
	if cfg.Runtime.RetryMaxAttempts > 0 {
		retry := steward.DefaultRetryConfig()
		retry.MaxAttempts = cfg.Runtime.RetryMaxAttempts
		if cfg.Runtime.RetryBaseDelayMS > 0 {
			retry.BaseDelay = time.Duration(cfg.Runtime.RetryBaseDelayMS) * time.Millisecond
		}
		if cfg.Runtime.RetryMaxDelayMS > 0 {
			retry.MaxDelay = time.Duration(cfg.Runtime.RetryMaxDelayMS) * time.Millisecond
		}
		opts = append(opts, steward.WithRetryConfig(retry))
	}

	catalog := steward.NewCatalog()
	toolsets := []steward.Toolset{market.New(), production.New(), shopping.New()}

	// Observability is opt-in: exporters read standard OTEL env vars.
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			log.Fatalf("observer: %v", err)
		}
		defer shutdown(ctx)
		provider = observer.WrapProvider(provider, inst)
		opts = append(opts, steward.WithTracer(observer.NewTracer()))
		for i, ts := range toolsets {
			toolsets[i] = wrappedToolset(observer.WrapSpecs(ts.Specs(), inst))
		}
	}
	for _, ts := range toolsets {
		if err := catalog.Add(ts); err != nil {
			log.Fatalf("catalog: %v", err)
		}
	}

	if cfg.LLM.RPM > 0 || cfg.LLM.TPM > 0 {
		var rl []steward.RateLimitOption
		if cfg.LLM.RPM > 0 {
			rl = append(rl, steward.RPM(cfg.LLM.RPM))
		}
		if cfg.LLM.TPM > 0 {
			rl = append(rl, steward.TPM(cfg.LLM.TPM))
		}
		provider = steward.WithRateLimit(provider, rl...)
	}

	rt := steward.NewRuntime(provider, catalog, store, opts...)

	const principal = "terminal"
	if len(cfg.Policy.DenyList) > 0 {
		if err := store.SetDenyList(ctx, principal, steward.DenyList(cfg.Policy.DenyList)); err != nil {
			log.Fatalf("deny list: %v", err)
		}
	}

	sess, err := rt.CreateSession(ctx, principal, level)
	if err != nil {
		log.Fatalf("create session: %v", err)
	}
	if inst != nil {
		rec := observer.Record(rt.Subscribe(sess.ID), inst)
		defer rec.Stop()
	}
	fmt.Printf("session %s (autonomy %s): /approve, /reject [reason], /interrupt, /quit\n", sess.ID, level)

	if err := repl(ctx, rt, sess.ID); err != nil {
		log.Fatal(err)
	}
}

// wrappedToolset lets instrumented specs satisfy steward.Toolset.
type wrappedToolset []steward.ToolSpec

func (w wrappedToolset) Specs() []steward.ToolSpec { return w }
