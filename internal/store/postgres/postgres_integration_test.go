package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serene/backend/internal/domain"
	"serene/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("SERENE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set SERENE_TEST_DATABASE_URL to run postgres integration test")
	}
	require.NoError(t, Migrate(databaseURL, "up"))

	s, err := New(context.Background(), databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFindStockMatchesIdentityAndLocksRow(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	name := fmt.Sprintf("Integration Balm %d", stamp)
	brand := "NYX Professional"
	itemID := fmt.Sprintf("bd_it_%d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM bd_inventory WHERE id = $1`, itemID)
	})

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.CreateBdItem(ctx, domain.BdInventoryItem{
			ID:              itemID,
			ProductIdentity: domain.ProductIdentity{ProductName: name, Brand: &brand},
			Qty:             3,
			Tags:            []string{"Stocked"},
		})
		return err
	}))

	upper := "nyx PROFESSIONAL"
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		level, err := tx.FindStock(ctx, domain.LocationBD, domain.ProductIdentity{ProductName: name, Brand: &upper})
		require.NoError(t, err)
		assert.Equal(t, itemID, level.ItemID)
		assert.Equal(t, 3, level.Qty)

		_, err = tx.FindStock(ctx, domain.LocationBD, domain.ProductIdentity{ProductName: name})
		assert.ErrorIs(t, err, store.ErrNotFound, "null brand must not match a branded row")
		return tx.SetStockQty(ctx, domain.LocationBD, itemID, 1)
	}))

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.SetStockQty(ctx, domain.LocationBD, itemID, -1)
	})
	require.ErrorIs(t, err, store.ErrInvalidInput)

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		item, err := tx.GetBdItem(ctx, itemID)
		require.NoError(t, err)
		assert.Equal(t, 1, item.Qty)
		assert.Equal(t, []string{"Stocked"}, item.Tags)
		return nil
	}))
}

func TestShipmentStagedLinesRoundTrip(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	shipmentID := fmt.Sprintf("shp_it_%d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM shipments WHERE id = $1`, shipmentID)
	})

	weight := 55.0
	lines := []domain.StockLine{{
		UsaInventoryID:  "usa_it",
		ProductIdentity: domain.ProductIdentity{ProductName: "Soft Pinch Liquid Blush"},
		QtyToShip:       2,
		WeightG:         &weight,
	}}

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.CreateShipment(ctx, domain.Shipment{ID: shipmentID, Name: "Integration Batch", Status: domain.ShipmentPacking, StockItems: lines})
		return err
	}))

	err := s.WithTx(ctx, func(tx store.Tx) error {
		shipment, err := tx.LockShipment(ctx, shipmentID)
		if err != nil {
			return err
		}
		shipment.Status = domain.ShipmentArrived
		shipment.StockItems = nil
		if _, err := tx.UpdateShipment(ctx, *shipment); err != nil {
			return err
		}
		return store.Errorf(store.ErrInsufficientStock, "abort")
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		shipment, err := tx.GetShipment(ctx, shipmentID)
		require.NoError(t, err)
		assert.Equal(t, domain.ShipmentPacking, shipment.Status, "aborted unit of work must roll back")
		require.Len(t, shipment.StockItems, 1)
		assert.Equal(t, 2, shipment.StockItems[0].QtyToShip)
		require.NotNil(t, shipment.StockItems[0].WeightG)
		assert.InDelta(t, 55, *shipment.StockItems[0].WeightG, 1e-9)
		return nil
	}))
}

func TestLockBdItemSerializesWholeRowUpdate(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	itemID := fmt.Sprintf("bd_lock_%d", stamp)
	name := fmt.Sprintf("Lock Balm %d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM bd_inventory WHERE id = $1`, itemID)
	})
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.CreateBdItem(ctx, domain.BdInventoryItem{ID: itemID, ProductIdentity: domain.ProductIdentity{ProductName: name}, Qty: 5})
		return err
	}))

	deducted := make(chan error, 1)
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		current, err := tx.LockBdItem(ctx, itemID)
		if err != nil {
			return err
		}

		go func() {
			deducted <- s.WithTx(ctx, func(tx store.Tx) error {
				level, err := tx.FindStock(ctx, domain.LocationBD, domain.ProductIdentity{ProductName: name})
				if err != nil {
					return err
				}
				return tx.SetStockQty(ctx, domain.LocationBD, level.ItemID, level.Qty-1)
			})
		}()
		select {
		case err := <-deducted:
			deducted <- err
		case <-time.After(300 * time.Millisecond):
		}

		current.Tags = []string{"Restocked"}
		_, err = tx.UpdateBdItem(ctx, *current)
		return err
	}))
	require.NoError(t, <-deducted)

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		item, err := tx.GetBdItem(ctx, itemID)
		require.NoError(t, err)
		assert.Equal(t, 4, item.Qty, "the concurrent deduction must survive the tag update")
		assert.Equal(t, []string{"Restocked"}, item.Tags)
		return nil
	}))
}
