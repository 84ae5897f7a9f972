package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/trackscout/internal/budget"
	"github.com/sells-group/trackscout/internal/config"
	"github.com/sells-group/trackscout/internal/pipeline"
	"github.com/sells-group/trackscout/internal/provider"
	"github.com/sells-group/trackscout/internal/store"
)

// enrichEnv holds the store, budget and orchestrator needed by the
// run/batch/dlq/serve commands.
type enrichEnv struct {
	Store        store.Store
	Budget       *budget.Manager
	Registry     *provider.Registry
	Orchestrator *pipeline.Orchestrator
}

// Close releases resources held by the environment.
func (e *enrichEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnrichment validates the config for mode, opens the store and builds
// the gated provider registry and orchestrator. Callers should defer
// env.Close().
func initEnrichment(ctx context.Context, c *config.Config, mode string) (*enrichEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, c.Store)
	if err != nil {
		return nil, err
	}

	bm := budget.NewManager(budget.LimitsFromConfig(c.Providers),
		budget.WithDeferralThreshold(time.Duration(c.Pipeline.DeferralThresholdSecs)*time.Second),
	)
	gate := provider.NewGateFromConfig(c.Pipeline, bm)
	reg := provider.NewRegistryFromConfig(c, bm, gate)

	orch, err := pipeline.NewFromConfig(c, reg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	zap.L().Info("enrichment initialized",
		zap.String("store", c.Store.Driver),
		zap.Int("providers", len(reg.List())),
	)

	return &enrichEnv{
		Store:        st,
		Budget:       bm,
		Registry:     reg,
		Orchestrator: orch,
	}, nil
}
