package index

import "context"

// PostIndex is the search index as seen by its consumers.
type PostIndex interface {
	Upsert(ctx context.Context, d Document) error
	Delete(ctx context.Context, slug string) error
	Checksums(ctx context.Context) (map[string]string, error)
	Count(ctx context.Context) (int, error)
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
	Close() error
}

var _ PostIndex = (*DB)(nil)
