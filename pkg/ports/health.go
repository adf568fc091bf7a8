package ports

import "context"

// HealthCheck reports whether a dependency is usable. A nil error means healthy.
type HealthCheck func(ctx context.Context) error
