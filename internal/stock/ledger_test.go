package stock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fjod/fulfillment/internal/domain"
	"github.com/fjod/fulfillment/internal/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestLedger(t *testing.T, stock map[string]int) (*Ledger, *fakeStore) {
	store := newFakeStore(stock)
	return NewLedger(store, zaptest.NewLogger(t), nil), store
}

func TestLedger_Reserve(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(t, map[string]int{"p1": 5})

	require.NoError(t, l.Reserve(ctx, "p1", 3))
	assert.Equal(t, 2, store.get("p1"))

	err := l.Reserve(ctx, "p1", 3)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 2, store.get("p1"), "failed reservation must not change stock")

	assert.ErrorIs(t, l.Reserve(ctx, "missing", 1), domain.ErrNotFound)
}

func TestLedger_RejectsNonPositiveQuantity(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(t, map[string]int{"p1": 5})

	assert.ErrorIs(t, l.Reserve(ctx, "p1", 0), domain.ErrValidation)
	assert.ErrorIs(t, l.Release(ctx, "p1", -1), domain.ErrValidation)
	assert.Empty(t, store.calls)
}

func TestLedger_ReleaseHasNoUpperBound(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(t, map[string]int{"p1": 1})

	require.NoError(t, l.Release(ctx, "p1", 10))
	assert.Equal(t, 11, store.get("p1"))

	n, err := l.Peek(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 11, n)
}

func TestLedger_ReserveAll_AscendingOrder(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(t, map[string]int{"a": 5, "b": 5, "c": 5})

	err := l.ReserveAll(ctx, []domain.StockLine{
		{ProductID: "c", Quantity: 1},
		{ProductID: "a", Quantity: 2},
		{ProductID: "b", Quantity: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"reserve:a", "reserve:b", "reserve:c"}, store.calls)
	assert.Equal(t, 3, store.get("a"))
	assert.Equal(t, 2, store.get("b"))
	assert.Equal(t, 4, store.get("c"))
}

func TestLedger_ReserveAll_CompensatesOnFailure(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(t, map[string]int{"a": 5, "b": 5, "c": 1})

	err := l.ReserveAll(ctx, []domain.StockLine{
		{ProductID: "a", Quantity: 2},
		{ProductID: "b", Quantity: 2},
		{ProductID: "c", Quantity: 2},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "c", de.ID)

	assert.Equal(t, 5, store.get("a"))
	assert.Equal(t, 5, store.get("b"))
	assert.Equal(t, 1, store.get("c"))
	assert.Equal(t, []string{"reserve:a", "reserve:b", "reserve:c", "release:b", "release:a"}, store.calls)
}

func TestLedger_ReserveAll_MergesDuplicateProducts(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(t, map[string]int{"a": 3})

	err := l.ReserveAll(ctx, []domain.StockLine{
		{ProductID: "a", Quantity: 2},
		{ProductID: "a", Quantity: 2},
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 3, store.get("a"))
}

func TestLedger_ReleaseAll_ReportsEveryFailure(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(t, map[string]int{"a": 0, "b": 0})
	store.failRelease = true

	err := l.ReleaseAll(ctx, []domain.StockLine{
		{ProductID: "b", Quantity: 1},
		{ProductID: "a", Quantity: 1},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Contains(t, err.Error(), "product a")
	assert.Contains(t, err.Error(), "product b")
}

func TestLedger_ReleaseAll_RereservesOnRollback(t *testing.T) {
	l, store := newTestLedger(t, map[string]int{"p1": 4})
	tx := txn.NewCompensating(zaptest.NewLogger(t))

	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		return l.ReleaseAll(ctx, []domain.StockLine{
			{ProductID: "zz", Quantity: 1},
			{ProductID: "p1", Quantity: 3},
		})
	})

	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 4, store.get("p1"), "released line must be reserved again when the unit fails")
}

func TestLedger_ConcurrentReserve_NoOversell(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(t, map[string]int{"p1": 10})

	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Reserve(ctx, "p1", 1)
			if err == nil {
				ok.Add(1)
			} else if errors.Is(err, domain.ErrInsufficientStock) {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), ok.Load())
	assert.Equal(t, int32(40), rejected.Load())
	assert.Equal(t, 0, store.get("p1"))
}
