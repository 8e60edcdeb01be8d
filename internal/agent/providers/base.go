package providers

import (
	"context"
	"time"

	"github.com/haasonsaas/nexus/internal/retry"
)

// BaseProvider holds shared retry configuration for LLM providers, built on
// internal/retry's linear-backoff Config.
type BaseProvider struct {
	name   string
	config retry.Config
}

// NewBaseProvider creates a base provider with sane defaults.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return BaseProvider{name: name, config: retry.Linear(maxRetries, retryDelay)}
}

// Retry executes op, retrying on errors isRetryable accepts. A non-retryable
// error is wrapped with retry.Permanent so retry.Do stops immediately
// instead of spending the remaining attempt budget.
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	result := retry.Do(ctx, b.config, func() error {
		err := op()
		if err != nil && isRetryable != nil && !isRetryable(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if result.Err == nil {
		return nil
	}
	if permanent, ok := result.Err.(*retry.PermanentError); ok {
		return permanent.Unwrap()
	}
	return result.Err
}
