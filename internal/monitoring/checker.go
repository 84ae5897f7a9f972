package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/trackscout/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates outcome, dead-letter and budget health on an interval.
// An alert is delivered when it first fires and again only after it has
// cleared, so a persistently deep DLQ does not page on every tick.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	lookback  int
	interval  time.Duration

	mu     sync.Mutex
	firing map[string]Alert
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		lookback:  cfg.LookbackWindowHours,
		interval:  interval,
		firing:    make(map[string]Alert),
	}
}

// alertKey separates budget alerts per provider.
func alertKey(a Alert) string {
	if p, ok := a.Details["provider"].(string); ok {
		return string(a.Type) + ":" + p
	}
	return string(a.Type)
}

// Run checks once immediately, then on every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	c.Check(ctx)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check collects one snapshot and delivers the alerts that started firing
// since the previous check. It returns the number of newly firing alerts.
func (c *Checker) Check(ctx context.Context) int {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("monitoring: collect failed", zap.Error(err))
		return 0
	}

	current := make(map[string]Alert)
	for _, a := range c.alerter.Evaluate(snap) {
		current[alertKey(a)] = a
	}

	c.mu.Lock()
	var fresh []Alert
	for key, a := range current {
		if _, ok := c.firing[key]; !ok {
			fresh = append(fresh, a)
		}
	}
	for key, a := range c.firing {
		if _, ok := current[key]; !ok {
			log.Info("monitoring: alert cleared", zap.String("alert", key), zap.String("was", a.Message))
		}
	}
	c.firing = current
	c.mu.Unlock()

	fields := []zap.Field{
		zap.Int("outcomes", snap.OutcomeTotal),
		zap.Float64("fail_rate", snap.FailRate),
		zap.Int("dlq_depth", snap.DLQDepth),
		zap.Int("firing", len(current)),
	}
	if len(fresh) == 0 {
		log.Debug("monitoring: no new alerts", fields...)
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: alerts raised", append(fields,
		zap.Int("new", len(fresh)),
		zap.Int("sent", sent),
	)...)
	return len(fresh)
}

// Firing returns the alerts active as of the last check.
func (c *Checker) Firing() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Alert, 0, len(c.firing))
	for _, a := range c.firing {
		out = append(out, a)
	}
	return out
}
