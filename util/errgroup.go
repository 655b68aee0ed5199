package util

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// NewErrGroup returns an errgroup bound to ctx that runs at most limit goroutines at once.
// A limit of zero or less leaves the group unbounded.
func NewErrGroup(ctx context.Context, limit int) (*errgroup.Group, context.Context) {
	g, gCtx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	return g, gCtx
}
