// Package txn scopes a unit of work. Backends with real transactions commit or
// roll back; the in-memory backend runs registered compensations instead.
package txn

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type Transactor interface {
	// WithinTx runs fn as one unit of work. A nested call joins the outer unit.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type unitKey struct{}

type unit struct {
	mu      sync.Mutex
	undos   []undo
	commits []func()
}

type undo struct {
	name string
	fn   func(ctx context.Context) error
}

// OnRollback registers fn to run if the enclosing compensating unit fails.
// Outside such a unit it does nothing.
func OnRollback(ctx context.Context, name string, fn func(ctx context.Context) error) {
	u, ok := ctx.Value(unitKey{}).(*unit)
	if !ok {
		return
	}
	u.mu.Lock()
	u.undos = append(u.undos, undo{name: name, fn: fn})
	u.mu.Unlock()
}

// OnCommit registers fn to run once the enclosing compensating unit succeeds
// and reports true. Outside such a unit it reports false and does nothing, so
// the caller applies its change right away.
func OnCommit(ctx context.Context, fn func()) bool {
	u, ok := ctx.Value(unitKey{}).(*unit)
	if !ok {
		return false
	}
	u.mu.Lock()
	u.commits = append(u.commits, fn)
	u.mu.Unlock()
	return true
}

// Compensating is the Transactor for stores without transactions. When fn
// fails, registered undos run newest first on a context that ignores cancellation.
type Compensating struct {
	logger *zap.Logger
}

func NewCompensating(logger *zap.Logger) *Compensating {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compensating{logger: logger}
}

func (c *Compensating) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, nested := ctx.Value(unitKey{}).(*unit); nested {
		return fn(ctx)
	}
	u := &unit{}
	if err := fn(context.WithValue(ctx, unitKey{}, u)); err != nil {
		c.rollback(context.WithoutCancel(ctx), u)
		return err
	}

	u.mu.Lock()
	commits := u.commits
	u.commits = nil
	u.mu.Unlock()
	for _, fn := range commits {
		fn()
	}
	return nil
}

func (c *Compensating) rollback(ctx context.Context, u *unit) {
	u.mu.Lock()
	undos := u.undos
	u.undos = nil
	u.commits = nil
	u.mu.Unlock()

	for i := len(undos) - 1; i >= 0; i-- {
		if err := undos[i].fn(ctx); err != nil {
			c.logger.Error("compensation failed", zap.String("step", undos[i].name), zap.Error(err))
		}
	}
}
