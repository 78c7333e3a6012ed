package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/fjod/fulfillment/internal/cart"
	"github.com/fjod/fulfillment/internal/domain"
	"github.com/fjod/fulfillment/internal/lock"
	"github.com/fjod/fulfillment/internal/outbox"
	"github.com/fjod/fulfillment/internal/repository/memory"
	"github.com/fjod/fulfillment/internal/stock"
	"github.com/fjod/fulfillment/internal/txn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixture struct {
	svc     *Service
	carts   *cart.Service
	catalog *memory.Catalog
	orders  *memory.Orders
	events  *memory.Outbox
}

type option func(*Deps, *memory.Catalog)

func setup(t *testing.T, opts ...option) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	catalog := memory.NewCatalog()
	ctx := context.Background()
	require.NoError(t, catalog.UpsertProduct(ctx, &domain.Product{ID: "P1", Name: "Lamp", Price: decimal.RequireFromString("20.00"), Stock: 5}))
	require.NoError(t, catalog.UpsertProduct(ctx, &domain.Product{ID: "P2", Name: "Shade", Price: decimal.RequireFromString("7.25"), Stock: 10}))

	carts := cart.NewService(memory.NewCarts(), catalog, catalog, nil, lock.NewMemory(), log, nil)
	orders := memory.NewOrders()
	events := memory.NewOutbox()

	deps := Deps{
		Carts:   carts,
		Catalog: catalog,
		Ledger:  stock.NewLedger(catalog, log, nil),
		Orders:  orders,
		Events:  events,
		Tx:      txn.NewCompensating(log),
		Logger:  log,
	}
	for _, opt := range opts {
		opt(&deps, catalog)
	}
	return &fixture{svc: NewService(deps), carts: carts, catalog: catalog, orders: orders, events: events}
}

func (f *fixture) stockOf(t *testing.T, id string) int {
	t.Helper()
	n, err := f.catalog.Peek(context.Background(), id)
	require.NoError(t, err)
	return n
}

func (f *fixture) ordersOf(t *testing.T, userID string) int {
	t.Helper()
	_, total, err := f.orders.ListOrders(context.Background(), domain.OrderFilter{UserID: userID}, 0, 100)
	require.NoError(t, err)
	return total
}

func TestCheckout_Success(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.carts.AddLine(ctx, "u1", "P1", 2)
	require.NoError(t, err)

	o, err := f.svc.Checkout(ctx, "u1", "")
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusPending, o.Status)
	assert.Equal(t, "40.00", o.TotalPrice.StringFixed(2))
	require.Len(t, o.Lines, 1)
	assert.Equal(t, "P1", o.Lines[0].ProductID)
	assert.Equal(t, 2, o.Lines[0].Quantity)
	assert.Equal(t, "20.00", o.Lines[0].UnitPrice.StringFixed(2))
	assert.Equal(t, 3, f.stockOf(t, "P1"))

	c, err := f.carts.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())

	events := f.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, outbox.TypeOrderCreated, events[0].EventType)
	assert.Equal(t, o.ID, events[0].AggregateID)
}

func TestCheckout_MultipleLinesTotal(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, _ = f.carts.AddLine(ctx, "u1", "P2", 3)
	_, _ = f.carts.AddLine(ctx, "u1", "P1", 1)

	o, err := f.svc.Checkout(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, "41.75", o.TotalPrice.StringFixed(2))
	require.Len(t, o.Lines, 2)
	assert.Equal(t, "P2", o.Lines[0].ProductID, "lines keep cart order")
	require.NoError(t, o.Validate())
}

func TestCheckout_EmptyAndMissingCart(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Checkout(ctx, "u1", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.carts.GetOrCreate(ctx, "u1")
	require.NoError(t, err)
	_, err = f.svc.Checkout(ctx, "u1", "")
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
	assert.Equal(t, 0, f.ordersOf(t, "u1"))
}

func TestCheckout_InsufficientStockNamesProduct(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, _ = f.carts.AddLine(ctx, "u1", "P2", 1)
	_, _ = f.carts.AddLine(ctx, "u1", "P1", 5)

	// Another buyer takes stock after u1 filled the cart.
	require.NoError(t, f.catalog.Reserve(ctx, "P1", 2))

	_, err := f.svc.Checkout(ctx, "u1", "")
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "P1", de.ID)

	assert.Equal(t, 0, f.ordersOf(t, "u1"))
	assert.Equal(t, 10, f.stockOf(t, "P2"))
	assert.Equal(t, 3, f.stockOf(t, "P1"))
	c, _ := f.carts.Get(ctx, "u1")
	assert.Len(t, c.Lines, 2, "cart is kept on failure")
}

func TestCheckout_ReservationRaceLostIsAtomic(t *testing.T) {
	f := setup(t, func(d *Deps, c *memory.Catalog) {
		d.Ledger = stock.NewLedger(&racyStore{Catalog: c, steal: "P2"}, nil, nil)
	})
	ctx := context.Background()
	_, _ = f.carts.AddLine(ctx, "u1", "P1", 2)
	_, _ = f.carts.AddLine(ctx, "u1", "P2", 1)

	_, err := f.svc.Checkout(ctx, "u1", "")
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	assert.Equal(t, 0, f.ordersOf(t, "u1"), "no order survives")
	assert.Equal(t, 5, f.stockOf(t, "P1"), "partial reservation released")
	assert.Empty(t, f.events.Events())
	c, _ := f.carts.Get(ctx, "u1")
	assert.Len(t, c.Lines, 2)
}

func TestCheckout_ClearFailureCompensates(t *testing.T) {
	boom := errors.New("cart store unavailable")
	f := setup(t, func(d *Deps, _ *memory.Catalog) {
		d.Carts = &failingClearCarts{Service: d.Carts.(*cart.Service), err: boom}
	})
	ctx := context.Background()
	_, _ = f.carts.AddLine(ctx, "u1", "P1", 2)

	_, err := f.svc.Checkout(ctx, "u1", "")
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 0, f.ordersOf(t, "u1"))
	assert.Equal(t, 5, f.stockOf(t, "P1"))
	assert.Empty(t, f.events.Events())
}

func TestCheckout_IdempotencyKeyReplays(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, _ = f.carts.AddLine(ctx, "u1", "P1", 2)

	first, err := f.svc.Checkout(ctx, "u1", "key-1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", first.IdempotencyKey)

	_, _ = f.carts.AddLine(ctx, "u1", "P1", 1)
	second, err := f.svc.Checkout(ctx, "u1", "key-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 3, f.stockOf(t, "P1"), "stock taken once")
	assert.Equal(t, 1, f.ordersOf(t, "u1"))
}

func TestCheckout_RejectsLongIdempotencyKey(t *testing.T) {
	f := setup(t)
	key := make([]byte, 256)
	for i := range key {
		key[i] = 'k'
	}
	_, err := f.svc.Checkout(context.Background(), "u1", string(key))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCheckout_PriceFrozen(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.catalog.UpsertProduct(ctx, &domain.Product{ID: "P3", Name: "Vase", Price: decimal.RequireFromString("10.00"), Stock: 4}))
	_, _ = f.carts.AddLine(ctx, "u1", "P3", 1)

	o, err := f.svc.Checkout(ctx, "u1", "")
	require.NoError(t, err)

	require.NoError(t, f.catalog.UpsertProduct(ctx, &domain.Product{ID: "P3", Name: "Vase", Price: decimal.RequireFromString("15.00"), Stock: 3}))

	stored, err := f.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.00", stored.TotalPrice.StringFixed(2))
	assert.Equal(t, "10.00", stored.Lines[0].UnitPrice.StringFixed(2))
}

func TestCheckout_UsesCurrentPrice(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, _ = f.carts.AddLine(ctx, "u1", "P1", 1)
	require.NoError(t, f.catalog.UpsertProduct(ctx, &domain.Product{ID: "P1", Name: "Lamp", Price: decimal.RequireFromString("22.50"), Stock: 5}))

	o, err := f.svc.Checkout(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, "22.50", o.TotalPrice.StringFixed(2))
}

func TestCheckout_ConcurrentBuyersNoOversell(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	users := []string{"a", "b", "c", "d", "e", "f"}
	for _, u := range users {
		_, err := f.carts.AddLine(ctx, u, "P1", 2)
		require.NoError(t, err)
		_, err = f.carts.AddLine(ctx, u, "P2", 1)
		require.NoError(t, err)
	}

	var mu sync.Mutex
	succeeded := 0
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			_, err := f.svc.Checkout(ctx, u, "")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientStock)
		}(u)
	}
	wg.Wait()

	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 1, f.stockOf(t, "P1"))
	assert.Equal(t, 8, f.stockOf(t, "P2"))
}

func TestCheckout_ConcurrentSameCartOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, _ = f.carts.AddLine(ctx, "u1", "P1", 1)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Checkout(ctx, "u1", "")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrEmptyCart)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 4, f.stockOf(t, "P1"))
}
