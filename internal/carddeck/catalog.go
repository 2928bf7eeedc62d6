package carddeck

import "context"

// Catalog is read-only access to the static card content store.
// Implementations must be safe for concurrent use: the distribution
// fan-out issues many Get calls at once.
type Catalog interface {
	Count(ctx context.Context, language string, color Color) (int, error)
	Get(ctx context.Context, language string, color Color, index int) (Card, error)
}
