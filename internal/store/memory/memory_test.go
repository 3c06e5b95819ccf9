package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serene/backend/internal/domain"
	"serene/backend/internal/store"
)

func TestFailedUnitOfWorkLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	s := New()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.CreateBuyer(ctx, domain.Buyer{ID: "buyer_1", Name: "Rakib"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.GetBuyer(ctx, "buyer_1")
		return err
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindStockPrefersOldestRow(t *testing.T) {
	ctx := context.Background()
	s := New()
	clock := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	brand := "Fenty Beauty"
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.CreateBdItem(ctx, domain.BdInventoryItem{ID: "bd_b", ProductIdentity: domain.ProductIdentity{ProductName: "Gloss Bomb", Brand: &brand}, Qty: 1}); err != nil {
			return err
		}
		if _, err := tx.CreateBdItem(ctx, domain.BdInventoryItem{ID: "bd_a", ProductIdentity: domain.ProductIdentity{ProductName: "gloss bomb", Brand: &brand}, Qty: 2}); err != nil {
			return err
		}
		clock = clock.Add(-time.Hour)
		_, err := tx.CreateBdItem(ctx, domain.BdInventoryItem{ID: "bd_c", ProductIdentity: domain.ProductIdentity{ProductName: "GLOSS BOMB", Brand: &brand}, Qty: 3})
		return err
	}))

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		level, err := tx.FindStock(ctx, domain.LocationBD, domain.ProductIdentity{ProductName: "Gloss Bomb", Brand: &brand})
		require.NoError(t, err)
		assert.Equal(t, "bd_c", level.ItemID)

		_, err = tx.FindStock(ctx, domain.LocationBD, domain.ProductIdentity{ProductName: "Gloss Bomb"})
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))

	clock = clock.Add(2 * time.Hour)
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.DeleteBdItem(ctx, "bd_c")
	}))
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		level, err := tx.FindStock(ctx, domain.LocationBD, domain.ProductIdentity{ProductName: "Gloss Bomb", Brand: &brand})
		require.NoError(t, err)
		assert.Equal(t, "bd_a", level.ItemID, "equal created_at falls back to the smaller id")
		return nil
	}))
}

func TestSetStockQtyRejectsNegative(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.CreateUsaItem(ctx, domain.UsaInventoryItem{ID: "usa_1", ProductIdentity: domain.ProductIdentity{ProductName: "Gel"}, Qty: 1})
		return err
	}))

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.SetStockQty(ctx, domain.LocationUSA, "usa_1", -1)
	})
	require.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestDeleteBuyerWithOrdersConflicts(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.CreateBuyer(ctx, domain.Buyer{ID: "buyer_1", Name: "Suma"}); err != nil {
			return err
		}
		_, err := tx.CreateOrder(ctx, domain.Order{ID: "ord_1", BuyerID: "buyer_1", ProductIdentity: domain.ProductIdentity{ProductName: "Gel"}, Qty: 1, Source: domain.SourcePreOrder, Status: domain.OrderToBePurchased})
		return err
	}))

	err := s.WithTx(ctx, func(tx store.Tx) error { return tx.DeleteBuyer(ctx, "buyer_1") })
	require.ErrorIs(t, err, store.ErrConflict)
}
