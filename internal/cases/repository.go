package cases

import (
	"context"
)

// Repository persists cases. Update is a compare-and-swap on Revision: it
// succeeds only when the stored revision equals expectedRevision, and the
// caller is expected to have advanced c.Revision past it.
type Repository interface {
	Create(ctx context.Context, c *Case) error
	Get(ctx context.Context, id string) (*Case, error)
	Update(ctx context.Context, c *Case, expectedRevision uint64) error
	List(ctx context.Context) ([]*Case, error)
}
