package cache

import (
	"context"
)

// Cache is a small JSON object cache. The pipeline uses it to remember
// completed analysis results keyed by transcript hash so retries do not
// re-bill the LLM provider.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}) error
	Delete(ctx context.Context, key string) error
	Close() error
}
