package router

import (
	"context"

	"github.com/cockroachdb/errors"

	"rywrouter/pkg/replica"
)

// Provider hands out a ready-to-use connection for a role.
type Provider[C any] interface {
	Acquire(ctx context.Context, role replica.Role) (C, error)
}

// Dispatcher turns routing decisions into connections. The decision always
// completes before a connection is requested, and nothing is acquired once
// ctx is done.
type Dispatcher[C any] struct {
	router   *Router
	provider Provider[C]
}

// NewDispatcher pairs a router with a connection provider.
func NewDispatcher[C any](r *Router, p Provider[C]) *Dispatcher[C] {
	return &Dispatcher[C]{router: r, provider: p}
}

// Router returns the routing policy in use.
func (d *Dispatcher[C]) Router() *Router { return d.router }

// ForWrite returns a leader connection.
func (d *Dispatcher[C]) ForWrite(ctx context.Context) (C, error) {
	role := d.router.RouteForWrite()
	return d.acquire(ctx, role)
}

// ForRead routes a read for id and returns a connection for the chosen role.
func (d *Dispatcher[C]) ForRead(ctx context.Context, id replica.Identity, requiresFreshness bool) (C, replica.Role, error) {
	role := d.router.RouteForRead(ctx, id, requiresFreshness)
	c, err := d.acquire(ctx, role)
	return c, role, err
}

func (d *Dispatcher[C]) acquire(ctx context.Context, role replica.Role) (C, error) {
	var zero C
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	c, err := d.provider.Acquire(ctx, role)
	if err != nil {
		return zero, errors.Wrapf(err, "acquire %s connection", role)
	}
	return c, nil
}
