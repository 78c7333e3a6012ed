package memory

import (
	"context"
	"math"
	"testing"

	"github.com/fjod/fulfillment/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCarts_GetBeforeCreate(t *testing.T) {
	s := NewCarts()
	_, err := s.GetCart(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCarts_GetOrCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewCarts()

	a, err := s.GetOrCreateCart(ctx, "u1")
	require.NoError(t, err)
	b, err := s.GetOrCreateCart(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.True(t, b.IsEmpty())
}

func TestCarts_AddLineMerges(t *testing.T) {
	ctx := context.Background()
	s := NewCarts()

	_, err := s.AddLine(ctx, "u1", "p1", 2)
	require.NoError(t, err)
	_, err = s.AddLine(ctx, "u1", "p2", 1)
	require.NoError(t, err)
	cart, err := s.AddLine(ctx, "u1", "p1", 3)
	require.NoError(t, err)

	require.Len(t, cart.Lines, 2)
	assert.Equal(t, "p1", cart.Lines[0].ProductID)
	assert.Equal(t, 5, cart.Lines[0].Quantity)
	assert.Equal(t, "p2", cart.Lines[1].ProductID)
}

func TestCarts_AddLineRejectsOutOfRangeMerge(t *testing.T) {
	ctx := context.Background()
	s := NewCarts()

	_, err := s.AddLine(ctx, "u1", "p1", 1)
	require.NoError(t, err)
	_, err = s.AddLine(ctx, "u1", "p1", math.MaxInt32)
	assert.ErrorIs(t, err, domain.ErrValidation)

	cart, err := s.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, cart.Lines[0].Quantity)
}

func TestCarts_UpdateRemoveClear(t *testing.T) {
	ctx := context.Background()
	s := NewCarts()

	cart, err := s.AddLine(ctx, "u1", "p1", 2)
	require.NoError(t, err)
	lineID := cart.Lines[0].ID

	require.NoError(t, s.UpdateLine(ctx, "u1", lineID, 7))
	cart, _ = s.GetCart(ctx, "u1")
	assert.Equal(t, 7, cart.Lines[0].Quantity)

	assert.ErrorIs(t, s.UpdateLine(ctx, "u1", "missing", 1), domain.ErrNotFound)
	assert.ErrorIs(t, s.RemoveLine(ctx, "u2", lineID), domain.ErrNotFound)

	require.NoError(t, s.RemoveLine(ctx, "u1", lineID))
	cart, _ = s.GetCart(ctx, "u1")
	assert.True(t, cart.IsEmpty())

	_, _ = s.AddLine(ctx, "u1", "p3", 1)
	require.NoError(t, s.ClearCart(ctx, "u1"))
	cart, _ = s.GetCart(ctx, "u1")
	assert.True(t, cart.IsEmpty())
}

func TestCarts_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewCarts()
	cart, _ := s.AddLine(ctx, "u1", "p1", 1)
	cart.Lines[0].Quantity = 99

	stored, _ := s.GetCart(ctx, "u1")
	assert.Equal(t, 1, stored.Lines[0].Quantity)
}
