package service

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serene/backend/internal/domain"
	"serene/backend/internal/store"
)

func TestDeductionWarnings(t *testing.T) {
	cases := []struct {
		name      string
		stock     int
		qty       int
		remaining int
		warning   string
	}{
		{"drops to threshold minus one", 2, 1, 1, "Low stock: only 1 units remaining in BD inventory."},
		{"lands on threshold", 3, 1, 2, "Low stock: only 2 units remaining in BD inventory."},
		{"above threshold", 5, 1, 4, ""},
		{"exact drain", 2, 2, 0, "Low stock: only 0 units remaining in BD inventory."},
		{"over-deduction floors", 1, 3, 0, "Requested qty 3 exceeded BD stock of 1; stock floored to 0 and needs reconciliation."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			buyer := f.buyer(t)
			item := f.bdItem(t, "Soft Pinch Liquid Blush", tc.stock)

			created := f.order(t, buyer.ID, "Soft Pinch Liquid Blush", tc.qty, domain.SourceBDStock)
			assert.Equal(t, tc.warning, created.Warning)
			assert.Equal(t, tc.remaining, f.bdQty(t, item.ID))
			assert.Equal(t, domain.OrderInBangladesh, created.Order.Status)
		})
	}
}

func TestDeleteShipmentDetachesOrders(t *testing.T) {
	cases := []struct {
		name       string
		advance    func(f *fixture, t *testing.T, id string)
		wantStatus domain.OrderStatus
	}{
		{
			name:       "packing keeps status",
			advance:    func(*fixture, *testing.T, string) {},
			wantStatus: domain.OrderPurchased,
		},
		{
			name: "in transit rolls back to purchased",
			advance: func(f *fixture, t *testing.T, id string) {
				_, err := f.svc.Dispatch(f.ctx, admin, id)
				require.NoError(t, err)
			},
			wantStatus: domain.OrderPurchased,
		},
		{
			name: "arrived keeps status",
			advance: func(f *fixture, t *testing.T, id string) {
				_, err := f.svc.Dispatch(f.ctx, admin, id)
				require.NoError(t, err)
				_, err = f.svc.Arrive(f.ctx, admin, id)
				require.NoError(t, err)
			},
			wantStatus: domain.OrderInBangladesh,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			buyer := f.buyer(t)
			f.usaItem(t, "Soft Pinch Liquid Blush", 5)
			order := f.order(t, buyer.ID, "Soft Pinch Liquid Blush", 1, domain.SourceUSAStock)

			shipment, err := f.svc.CreateShipment(f.ctx, admin, domain.ShipmentCreateRequest{Name: "June Batch"})
			require.NoError(t, err)
			_, err = f.svc.AssignOrders(f.ctx, admin, shipment.ID, []string{order.Order.ID})
			require.NoError(t, err)
			tc.advance(f, t, shipment.ID)

			resp, err := f.svc.DeleteShipment(f.ctx, admin, shipment.ID)
			require.NoError(t, err)
			assert.True(t, resp.Deleted)

			got, err := f.svc.GetOrder(f.ctx, admin, order.Order.ID)
			require.NoError(t, err)
			assert.Nil(t, got.BatchID, "no order may point at a deleted shipment")
			assert.Equal(t, tc.wantStatus, got.Status)
		})
	}
}

func TestArriveStraightFromPacking(t *testing.T) {
	f := newFixture(t)
	buyer := f.buyer(t)
	usa := f.usaItem(t, "Soft Pinch Liquid Blush", 5)
	order := f.order(t, buyer.ID, "Soft Pinch Liquid Blush", 1, domain.SourceUSAStock)

	shipment, err := f.svc.CreateShipment(f.ctx, admin, domain.ShipmentCreateRequest{Name: "Hand Carry"})
	require.NoError(t, err)
	_, err = f.svc.AssignOrders(f.ctx, admin, shipment.ID, []string{order.Order.ID})
	require.NoError(t, err)
	_, err = f.svc.SetStagedStock(f.ctx, admin, shipment.ID, []domain.StockLine{{UsaInventoryID: usa.ID, QtyToShip: 2}})
	require.NoError(t, err)

	arrived, err := f.svc.Arrive(f.ctx, admin, shipment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ArriveResponse{Arrived: true, OrdersUpdated: 1, StockItemsMoved: 1}, arrived)

	detail, err := f.svc.GetShipment(f.ctx, admin, shipment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShipmentArrived, detail.Status)
	assert.NotNil(t, detail.ArrivalDate)
	assert.Empty(t, detail.StockItems)
	require.Len(t, detail.Orders, 1)
	assert.Equal(t, domain.OrderInBangladesh, detail.Orders[0].Status)
	assert.Equal(t, 2, f.usaQty(t, usa.ID))

	_, err = f.svc.Arrive(f.ctx, admin, shipment.ID)
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestArriveAbortsWhenUsaStockShrankAfterStaging(t *testing.T) {
	cases := []struct {
		name   string
		shrink func(f *fixture, t *testing.T, buyerID, usaID string)
	}{
		{
			name: "operator edit",
			shrink: func(f *fixture, t *testing.T, _ string, usaID string) {
				_, err := f.svc.UpdateUsaItem(f.ctx, admin, usaID, domain.UsaItemUpdateRequest{Qty: intPtr(2)})
				require.NoError(t, err)
			},
		},
		{
			name: "order deduction",
			shrink: func(f *fixture, t *testing.T, buyerID string, _ string) {
				f.order(t, buyerID, "Soft Pinch Liquid Blush", 3, domain.SourceUSAStock)
			},
		},
		{
			name: "move to bd",
			shrink: func(f *fixture, t *testing.T, _ string, usaID string) {
				_, err := f.svc.MoveUsaToBd(f.ctx, admin, usaID, 3)
				require.NoError(t, err)
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			buyer := f.buyer(t)
			usa := f.usaItem(t, "Soft Pinch Liquid Blush", 5)
			assigned := f.order(t, buyer.ID, "Positive Light Liquid Luminizer", 1, domain.SourcePreOrder)
			_, err := f.svc.ConfirmPurchase(f.ctx, admin, assigned.Order.ID, domain.PurchaseRequest{BuyPriceUSD: 30, WeightG: 40})
			require.NoError(t, err)

			shipment, err := f.svc.CreateShipment(f.ctx, admin, domain.ShipmentCreateRequest{Name: "August Batch"})
			require.NoError(t, err)
			_, err = f.svc.AssignOrders(f.ctx, admin, shipment.ID, []string{assigned.Order.ID})
			require.NoError(t, err)
			_, err = f.svc.SetStagedStock(f.ctx, admin, shipment.ID, []domain.StockLine{{UsaInventoryID: usa.ID, QtyToShip: 4}})
			require.NoError(t, err)
			_, err = f.svc.Dispatch(f.ctx, admin, shipment.ID)
			require.NoError(t, err)

			tc.shrink(f, t, buyer.ID, usa.ID)
			bdBefore, err := f.svc.ListBdItems(f.ctx, admin, "")
			require.NoError(t, err)

			_, err = f.svc.Arrive(f.ctx, admin, shipment.ID)
			require.ErrorIs(t, err, store.ErrInsufficientStock)
			assert.EqualError(t, err, "Qty to ship for Soft Pinch Liquid Blush (Rare Beauty) (4) exceeds available USA stock (2).")

			assert.Equal(t, 2, f.usaQty(t, usa.ID))
			bdAfter, err := f.svc.ListBdItems(f.ctx, admin, "")
			require.NoError(t, err)
			assert.Equal(t, bdBefore, bdAfter)

			detail, err := f.svc.GetShipment(f.ctx, admin, shipment.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.ShipmentInTransit, detail.Status)
			assert.Len(t, detail.StockItems, 1)
			require.Len(t, detail.Orders, 1)
			assert.Equal(t, domain.OrderInTransit, detail.Orders[0].Status)
		})
	}
}

func TestTagEditsDoNotLoseConcurrentDeductions(t *testing.T) {
	f := newFixture(t)
	buyer := f.buyer(t)
	item := f.bdItem(t, "Soft Pinch Liquid Blush", 20)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, 2*workers)
	for i := range workers {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateOrder(f.ctx, admin, domain.OrderCreateRequest{
				BuyerID:      buyer.ID,
				ProductName:  "Soft Pinch Liquid Blush",
				Brand:        strPtr("Rare Beauty"),
				Qty:          1,
				SellPriceBDT: 2600,
				Source:       domain.SourceBDStock,
			})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			tags := []string{fmt.Sprintf("Shelf %d", i)}
			_, err := f.svc.UpdateBdItem(f.ctx, admin, item.ID, domain.BdItemUpdateRequest{Tags: &tags})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 20-workers, f.bdQty(t, item.ID))
}
