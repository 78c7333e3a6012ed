package postgres

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/fjod/fulfillment/internal/domain"
	"github.com/fjod/fulfillment/internal/outbox"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*Store, func()) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "../../../migrations",
	}

	require.NoError(t, RunMigrations(creds))

	store, err := New(ctx, creds)
	require.NoError(t, err)

	cleanup := func() {
		store.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return store, cleanup
}

func seed(t *testing.T, s *Store, id, price string, stock int) {
	t.Helper()
	require.NoError(t, s.UpsertProduct(context.Background(), &domain.Product{
		ID:    id,
		Name:  "Product " + id,
		SKU:   "SKU-" + id,
		Price: decimal.RequireFromString(price),
		Stock: stock,
	}))
}

func newTestOrder(userID, key string, lines ...domain.OrderLine) *domain.Order {
	id := uuid.NewString()
	total := decimal.Zero
	for i := range lines {
		lines[i].ID = uuid.NewString()
		lines[i].OrderID = id
		total = total.Add(lines[i].Subtotal())
	}
	now := time.Now().UTC()
	return &domain.Order{
		ID:             id,
		UserID:         userID,
		TotalPrice:     total,
		Status:         domain.OrderStatusPending,
		IdempotencyKey: key,
		Lines:          lines,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestCatalog_ReserveAndRelease(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	seed(t, store, "P1", "19.99", 5)

	p, err := store.GetProduct(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("19.99").Equal(p.Price))

	require.NoError(t, store.Reserve(ctx, "P1", 3))

	err = store.Reserve(ctx, "P1", 3)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	require.NoError(t, store.Release(ctx, "P1", 1))
	n, err := store.Peek(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = store.GetProduct(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, store.Reserve(ctx, "missing", 1), domain.ErrNotFound)
}

func TestCatalog_UpsertKeepsReservedStock(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	seed(t, store, "P1", "20.00", 5)
	require.NoError(t, store.Reserve(ctx, "P1", 3))
	seed(t, store, "P1", "21.00", 5)

	p, err := store.GetProduct(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Stock)
	assert.Equal(t, "21.00", p.Price.StringFixed(2))
}

func TestCatalog_ConcurrentReserve_NoOversell(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	seed(t, store, "P1", "1.00", 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Reserve(ctx, "P1", 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	n, err := store.Peek(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCarts_LinesMergeAndClear(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	seed(t, store, "P1", "2.00", 10)
	seed(t, store, "P2", "3.00", 10)

	_, err := store.GetCart(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	empty, err := store.GetOrCreateCart(ctx, "u1")
	require.NoError(t, err)
	again, err := store.GetOrCreateCart(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, empty.ID, again.ID)

	_, err = store.AddLine(ctx, "u1", "P1", 2)
	require.NoError(t, err)
	_, err = store.AddLine(ctx, "u1", "P2", 1)
	require.NoError(t, err)
	c, err := store.AddLine(ctx, "u1", "P1", 3)
	require.NoError(t, err)

	require.Len(t, c.Lines, 2)
	assert.Equal(t, "P1", c.Lines[0].ProductID)
	assert.Equal(t, 5, c.Lines[0].Quantity)

	_, err = store.AddLine(ctx, "u1", "missing", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.AddLine(ctx, "u1", "P1", math.MaxInt32)
	assert.ErrorIs(t, err, domain.ErrValidation)

	require.NoError(t, store.UpdateLine(ctx, "u1", c.Lines[1].ID, 4))
	assert.ErrorIs(t, store.UpdateLine(ctx, "u2", c.Lines[1].ID, 4), domain.ErrNotFound)
	require.NoError(t, store.RemoveLine(ctx, "u1", c.Lines[0].ID))

	c, err = store.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, 4, c.Lines[0].Quantity)

	require.NoError(t, store.ClearCart(ctx, "u1"))
	c, err = store.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
}

func TestOrders_CreateListAndIdempotency(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	o := newTestOrder("u1", "key-1",
		domain.OrderLine{ProductID: "P1", Quantity: 2, UnitPrice: decimal.RequireFromString("10.50")},
		domain.OrderLine{ProductID: "P2", Quantity: 1, UnitPrice: decimal.RequireFromString("7.25")},
	)
	require.NoError(t, store.CreateOrder(ctx, o))

	got, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("28.25").Equal(got.TotalPrice))
	require.Len(t, got.Lines, 2)
	assert.Equal(t, "P1", got.Lines[0].ProductID)
	assert.Equal(t, "key-1", got.IdempotencyKey)

	byKey, err := store.GetOrderByIdempotencyKey(ctx, "u1", "key-1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, byKey.ID)

	dup := newTestOrder("u1", "key-1", domain.OrderLine{ProductID: "P1", Quantity: 1, UnitPrice: decimal.NewFromInt(1)})
	assert.ErrorIs(t, store.CreateOrder(ctx, dup), domain.ErrConflict)

	other := newTestOrder("u2", "key-1", domain.OrderLine{ProductID: "P1", Quantity: 1, UnitPrice: decimal.NewFromInt(1)})
	require.NoError(t, store.CreateOrder(ctx, other))
	noKey := newTestOrder("u1", "", domain.OrderLine{ProductID: "P1", Quantity: 1, UnitPrice: decimal.NewFromInt(1)})
	require.NoError(t, store.CreateOrder(ctx, noKey))
	noKey2 := newTestOrder("u1", "", domain.OrderLine{ProductID: "P1", Quantity: 1, UnitPrice: decimal.NewFromInt(1)})
	require.NoError(t, store.CreateOrder(ctx, noKey2))

	items, total, err := store.ListOrders(ctx, domain.OrderFilter{UserID: "u1"}, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 2)
	for _, it := range items {
		assert.NotEmpty(t, it.Lines)
	}

	items, total, err = store.ListOrders(ctx, domain.OrderFilter{Status: domain.OrderStatusPaid}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, items)
}

func TestOrders_UpdateOrderStatusIsCompareAndSet(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	o := newTestOrder("u1", "", domain.OrderLine{ProductID: "P1", Quantity: 1, UnitPrice: decimal.NewFromInt(5)})
	require.NoError(t, store.CreateOrder(ctx, o))

	require.NoError(t, store.UpdateOrderStatus(ctx, o.ID, domain.OrderStatusPending, domain.OrderStatusPaid))
	err := store.UpdateOrderStatus(ctx, o.ID, domain.OrderStatusPending, domain.OrderStatusCancelled)
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, got.Status)

	err = store.UpdateOrderStatus(ctx, "missing", domain.OrderStatusPending, domain.OrderStatusPaid)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.DeleteOrder(ctx, o.ID))
	_, err = store.GetOrder(ctx, o.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPayments_OnePerOrder(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	o := newTestOrder("u1", "", domain.OrderLine{ProductID: "P1", Quantity: 1, UnitPrice: decimal.NewFromInt(5)})
	require.NoError(t, store.CreateOrder(ctx, o))

	newPayment := func(orderID string) *domain.Payment {
		return &domain.Payment{
			ID:        uuid.NewString(),
			OrderID:   orderID,
			Amount:    decimal.NewFromInt(5),
			Method:    domain.PaymentMethodCreditCard,
			Status:    domain.PaymentStatusCompleted,
			CreatedAt: time.Now().UTC(),
		}
	}

	p := newPayment(o.ID)
	require.NoError(t, store.CreatePayment(ctx, p))
	assert.ErrorIs(t, store.CreatePayment(ctx, newPayment(o.ID)), domain.ErrPaymentAlreadyExists)
	assert.ErrorIs(t, store.CreatePayment(ctx, newPayment("missing")), domain.ErrNotFound)

	got, err := store.GetPaymentByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, domain.PaymentMethodCreditCard, got.Method)

	require.NoError(t, store.DeletePayment(ctx, p.ID))
	_, err = store.GetPayment(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOutbox_RecordAndMarkProcessed(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		evt, err := outbox.NewEvent(outbox.AggregateOrder, "o1", outbox.TypeOrderCreated, map[string]int{"n": i})
		require.NoError(t, err)
		require.NoError(t, store.Record(ctx, evt))
	}

	events, err := store.GetUnprocessedEvents(ctx, 100)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.JSONEq(t, `{"n":0}`, string(events[0].Payload))

	require.NoError(t, store.MarkEventAsProcessed(ctx, events[0].ID))
	events, err = store.GetUnprocessedEvents(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestWithinTx_RollsBackEveryWrite(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	seed(t, store, "P1", "5.00", 4)

	o := newTestOrder("u1", "k", domain.OrderLine{ProductID: "P1", Quantity: 2, UnitPrice: decimal.NewFromInt(5)})
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, store.CreateOrder(ctx, o))
		require.NoError(t, store.Reserve(ctx, "P1", 2))
		evt, err := outbox.OrderCreatedEvent(o)
		require.NoError(t, err)
		require.NoError(t, store.Record(ctx, evt))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetOrder(ctx, o.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	n, err := store.Peek(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	events, err := store.GetUnprocessedEvents(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context) error {
		return store.CreateOrder(ctx, o)
	}))
	_, err = store.GetOrder(ctx, o.ID)
	assert.NoError(t, err)
}
