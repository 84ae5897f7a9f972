package resilience

import (
	"time"

	"github.com/sells-group/trackscout/internal/config"
)

// FromPipelineConfig derives the provider retry and breaker policies from the
// pipeline section. Zero values keep the defaults.
func FromPipelineConfig(cfg config.PipelineConfig) (RetryConfig, CircuitBreakerConfig) {
	retry := DefaultRetryConfig()
	if cfg.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.RetryAttempts
	}
	if cfg.RetryBackoffMs > 0 {
		retry.InitialBackoff = time.Duration(cfg.RetryBackoffMs) * time.Millisecond
	}

	breaker := DefaultCircuitBreakerConfig()
	if cfg.CircuitThreshold > 0 {
		breaker.FailureThreshold = cfg.CircuitThreshold
	}
	if cfg.CircuitResetSecs > 0 {
		breaker.ResetTimeout = time.Duration(cfg.CircuitResetSecs) * time.Second
	}
	return retry, breaker
}
