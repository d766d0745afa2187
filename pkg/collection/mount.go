package collection

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Mounter is a collection that can be mounted and unmounted.
type Mounter interface {
	Mount(ctx context.Context) error
	Unmount()
}

// MountAll mounts every collection concurrently. If any mount fails, all of
// them are unmounted and the first error is returned.
func MountAll(ctx context.Context, ms ...Mounter) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range ms {
		g.Go(func() error {
			return m.Mount(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		UnmountAll(ms...)
		return err
	}
	return nil
}

// UnmountAll unmounts every collection.
func UnmountAll(ms ...Mounter) {
	for _, m := range ms {
		m.Unmount()
	}
}
