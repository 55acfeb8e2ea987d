package reliability

import (
	"context"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	"livecast/pkg/circuitbreaker"
	"livecast/pkg/retry"

	"go.uber.org/zap"
)

// DiscoverySource is the combined read surface the wrapper protects.
type DiscoverySource interface {
	ports.SessionResolver
	ports.ViewerCountSource
}

// ResolverWrapper wraps a discovery source with retry logic and a circuit
// breaker. Resolution is retried because the session controller needs it to
// succeed; viewer count polls are not, the next poll tick is their retry.
type ResolverWrapper struct {
	source ports.SessionResolver
	counts ports.ViewerCountSource
	logger *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

// NewResolverWrapper creates a new wrapper with retry and circuit breaker.
// A not-found session is never retried.
func NewResolverWrapper(
	source DiscoverySource,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *ResolverWrapper {
	retryConfig.NonRetryableErrors = append(retryConfig.NonRetryableErrors, domain.ErrSessionNotFound)

	wrapper := &ResolverWrapper{
		source:         source,
		counts:         source,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	wrapper.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("discovery circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

// Resolve resolves session info with retry logic.
func (w *ResolverWrapper) Resolve(ctx context.Context, id domain.SessionID) (*domain.SessionInfo, error) {
	if !w.retryConfig.Enabled {
		return w.source.Resolve(ctx, id)
	}

	result, err := retry.RetryWithResult(ctx, w.retryConfig, func() (*domain.SessionInfo, error) {
		res, err := w.circuitBreaker.ExecuteWithResult(ctx, func() (interface{}, error) {
			return w.source.Resolve(ctx, id)
		})
		if err != nil {
			return nil, err
		}
		return res.(*domain.SessionInfo), nil
	})
	return result, err
}

// ViewerCount polls the viewer count through the circuit breaker without
// retry. When the discovery API is down the breaker fails polls fast
// instead of stalling each tick on the HTTP timeout.
func (w *ResolverWrapper) ViewerCount(ctx context.Context, id domain.SessionID) (int, error) {
	res, err := w.circuitBreaker.ExecuteWithResult(ctx, func() (interface{}, error) {
		return w.counts.ViewerCount(ctx, id)
	})
	if err != nil {
		return 0, err
	}
	return res.(int), nil
}

// GetCircuitBreakerStats returns circuit breaker statistics.
func (w *ResolverWrapper) GetCircuitBreakerStats() circuitbreaker.Stats {
	return w.circuitBreaker.GetStats()
}
