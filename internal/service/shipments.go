package service

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"serene/backend/internal/domain"
	"serene/backend/internal/events"
	"serene/backend/internal/ledger"
	"serene/backend/internal/store"
	"serene/backend/internal/xid"
)

const shipmentOrderLimit = 500

func (s *Service) CreateShipment(ctx context.Context, actor domain.Actor, req domain.ShipmentCreateRequest) (shipment domain.Shipment, err error) {
	ctx, span, err := s.start(ctx, actor, "CreateShipment")
	if err != nil {
		return shipment, err
	}
	defer func() { s.end(span, err) }()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return shipment, invalid("Name is required.")
	}

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		created, err := tx.CreateShipment(ctx, domain.Shipment{
			ID:            xid.New("shp"),
			Name:          name,
			Status:        domain.ShipmentPacking,
			DepartureDate: req.DepartureDate,
			Notes:         strings.TrimSpace(req.Notes),
			StockItems:    []domain.StockLine{},
		})
		if err != nil {
			return err
		}
		shipment = *created
		return nil
	})
	return shipment, err
}

func (s *Service) ListShipments(ctx context.Context, actor domain.Actor) (out []domain.ShipmentSummary, err error) {
	ctx, span, err := s.start(ctx, actor, "ListShipments")
	if err != nil {
		return nil, err
	}
	defer func() { s.end(span, err) }()

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		out, err = tx.ListShipments(ctx)
		return err
	})
	return out, err
}

func (s *Service) GetShipment(ctx context.Context, actor domain.Actor, id string) (detail domain.ShipmentDetail, err error) {
	ctx, span, err := s.start(ctx, actor, "GetShipment", attribute.String("shipment.id", id))
	if err != nil {
		return detail, err
	}
	defer func() { s.end(span, err) }()

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		shipment, err := tx.GetShipment(ctx, id)
		if err != nil {
			return notFound(err, "Shipment not found.")
		}
		orders, _, err := tx.ListOrders(ctx, domain.OrderFilter{BatchID: id}, shipmentOrderLimit, 0)
		if err != nil {
			return err
		}
		detail = domain.ShipmentDetail{Shipment: *shipment, Orders: orders}
		return nil
	})
	return detail, err
}

// UpdateShipment edits the descriptive fields only. Status moves through
// Dispatch and Arrive.
func (s *Service) UpdateShipment(ctx context.Context, actor domain.Actor, id string, req domain.ShipmentUpdateRequest) (shipment domain.Shipment, err error) {
	ctx, span, err := s.start(ctx, actor, "UpdateShipment", attribute.String("shipment.id", id))
	if err != nil {
		return shipment, err
	}
	defer func() { s.end(span, err) }()

	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return shipment, invalid("Name is required.")
	}

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		current, err := tx.LockShipment(ctx, id)
		if err != nil {
			return notFound(err, "Shipment not found.")
		}
		if req.Name != nil {
			current.Name = strings.TrimSpace(*req.Name)
		}
		if req.DepartureDate != nil {
			current.DepartureDate = req.DepartureDate
		}
		if req.Notes != nil {
			current.Notes = strings.TrimSpace(*req.Notes)
		}
		updated, err := tx.UpdateShipment(ctx, *current)
		if err != nil {
			return err
		}
		shipment = *updated
		return nil
	})
	return shipment, err
}

// DeleteShipment never leaves an order pointing at the removed batch. Orders
// of a batch still in transit go back to PURCHASED.
func (s *Service) DeleteShipment(ctx context.Context, actor domain.Actor, id string) (resp domain.DeleteResponse, err error) {
	ctx, span, err := s.start(ctx, actor, "DeleteShipment", attribute.String("shipment.id", id))
	if err != nil {
		return resp, err
	}
	defer func() { s.end(span, err) }()

	var (
		status   domain.ShipmentStatus
		detached int
	)
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		shipment, err := tx.LockShipment(ctx, id)
		if err != nil {
			return notFound(err, "Shipment not found.")
		}
		status = shipment.Status

		var rollbackTo *domain.OrderStatus
		if shipment.Status == domain.ShipmentInTransit {
			purchased := domain.OrderPurchased
			rollbackTo = &purchased
		}
		if detached, err = tx.DetachBatch(ctx, id, rollbackTo); err != nil {
			return err
		}
		return tx.DeleteShipment(ctx, id)
	})
	if err != nil {
		return resp, err
	}

	s.logger.Info("shipment deleted", zap.String("shipment_id", id), zap.String("status", string(status)), zap.Int("orders_detached", detached))
	s.publisher.Publish(ctx, events.ShipmentDeleted, id, events.ShipmentEvent{
		ShipmentID:    id,
		Status:        string(status),
		OrdersUpdated: detached,
	})
	return domain.DeleteResponse{Deleted: true}, nil
}

// AssignOrders attaches the PURCHASED subset of orderIDs to the shipment and
// reports how many that was.
func (s *Service) AssignOrders(ctx context.Context, actor domain.Actor, id string, orderIDs []string) (resp domain.AssignOrdersResponse, err error) {
	ctx, span, err := s.start(ctx, actor, "AssignOrders", attribute.String("shipment.id", id), attribute.Int("orders.requested", len(orderIDs)))
	if err != nil {
		return resp, err
	}
	defer func() { s.end(span, err) }()

	ids := make([]string, 0, len(orderIDs))
	for _, orderID := range orderIDs {
		if orderID = strings.TrimSpace(orderID); orderID != "" {
			ids = append(ids, orderID)
		}
	}
	if len(ids) == 0 {
		return resp, invalid("At least one order is required.")
	}

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockShipment(ctx, id); err != nil {
			return notFound(err, "Shipment not found.")
		}
		assigned, err := tx.AssignOrders(ctx, id, ids)
		if err != nil {
			return err
		}
		resp.Assigned = assigned
		return nil
	})
	return resp, err
}

// SetStagedStock replaces the staged USA lines of a packing shipment. Lines
// take their identity from the live USA row, and price and weight too when
// the caller leaves them out. Quantities are checked per USA item against
// its current qty.
func (s *Service) SetStagedStock(ctx context.Context, actor domain.Actor, id string, lines []domain.StockLine) (resp domain.StagedStockResponse, err error) {
	ctx, span, err := s.start(ctx, actor, "SetStagedStock", attribute.String("shipment.id", id), attribute.Int("stock.lines", len(lines)))
	if err != nil {
		return resp, err
	}
	defer func() { s.end(span, err) }()

	for _, line := range lines {
		if strings.TrimSpace(line.UsaInventoryID) == "" {
			return resp, invalid("Stock item usaInventoryId is required.")
		}
		if line.QtyToShip < 1 {
			return resp, invalid("Qty to ship must be greater than 0.")
		}
	}

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		shipment, err := tx.LockShipment(ctx, id)
		if err != nil {
			return notFound(err, "Shipment not found.")
		}
		if shipment.Status != domain.ShipmentPacking {
			return invalid("Stock items can only be updated while shipment is in PACKING status.")
		}

		ids := make([]string, 0, len(lines))
		for _, line := range lines {
			ids = append(ids, line.UsaInventoryID)
		}
		items, err := tx.GetUsaItems(ctx, ids)
		if err != nil {
			return err
		}

		staged := make([]domain.StockLine, 0, len(lines))
		perItem := make(map[string]int, len(items))
		for _, line := range lines {
			item, ok := items[line.UsaInventoryID]
			if !ok {
				label := strings.TrimSpace(line.ProductName)
				if label == "" {
					label = line.UsaInventoryID
				}
				return invalid("USA inventory item not found: %s", label)
			}
			perItem[item.ID] += line.QtyToShip
			if perItem[item.ID] > item.Qty {
				return store.Errorf(store.ErrInsufficientStock, "Qty to ship cannot exceed available stock for %s.", item.Label())
			}

			line.ProductIdentity = ledger.Normalize(item.ProductIdentity)
			if line.BuyPriceUSD == nil {
				line.BuyPriceUSD = item.BuyPriceUSD
			}
			if line.WeightG == nil {
				line.WeightG = item.WeightG
			}
			if err := line.Validate(); err != nil {
				return invalid("%s", err.Error())
			}
			staged = append(staged, line)
		}

		shipment.StockItems = staged
		updated, err := tx.UpdateShipment(ctx, *shipment)
		if err != nil {
			return err
		}
		resp.StockItems = updated.StockItems
		return nil
	})
	return resp, err
}

// GetStagedStock returns the staged lines next to the live qty and tags of
// the USA rows they reference.
func (s *Service) GetStagedStock(ctx context.Context, actor domain.Actor, id string) (view domain.StagedStockView, err error) {
	ctx, span, err := s.start(ctx, actor, "GetStagedStock", attribute.String("shipment.id", id))
	if err != nil {
		return view, err
	}
	defer func() { s.end(span, err) }()

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		shipment, err := tx.GetShipment(ctx, id)
		if err != nil {
			return notFound(err, "Shipment not found.")
		}
		ids := make([]string, 0, len(shipment.StockItems))
		for _, line := range shipment.StockItems {
			ids = append(ids, line.UsaInventoryID)
		}
		items, err := tx.GetUsaItems(ctx, ids)
		if err != nil {
			return err
		}

		view = domain.StagedStockView{
			ShipmentID: shipment.ID,
			Status:     shipment.Status,
			StockItems: make([]domain.StagedStockLine, 0, len(shipment.StockItems)),
		}
		for _, line := range shipment.StockItems {
			hydrated := domain.StagedStockLine{StockLine: line, Tags: []string{}}
			if item, ok := items[line.UsaInventoryID]; ok {
				hydrated.CurrentQty = item.Qty
				hydrated.Tags = item.Tags
			} else {
				hydrated.Missing = true
			}
			view.StockItems = append(view.StockItems, hydrated)
		}
		return nil
	})
	return view, err
}

// Dispatch sends a packing shipment on its way together with its unsettled
// orders. Staged stock stays staged until arrival.
func (s *Service) Dispatch(ctx context.Context, actor domain.Actor, id string) (shipment domain.Shipment, err error) {
	ctx, span, err := s.start(ctx, actor, "Dispatch", attribute.String("shipment.id", id))
	if err != nil {
		return shipment, err
	}
	defer func() { s.end(span, err) }()

	var updatedOrders int
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		current, err := tx.LockShipment(ctx, id)
		if err != nil {
			return notFound(err, "Shipment not found.")
		}
		if current.Status != domain.ShipmentPacking {
			return conflict("Only shipments in PACKING status can be dispatched.")
		}
		if updatedOrders, err = tx.SetBatchStatus(ctx, id, domain.OrderInTransit); err != nil {
			return err
		}
		current.Status = domain.ShipmentInTransit
		if current.DepartureDate == nil {
			now := s.now()
			current.DepartureDate = &now
		}
		updated, err := tx.UpdateShipment(ctx, *current)
		if err != nil {
			return err
		}
		shipment = *updated
		return nil
	})
	if err != nil {
		return domain.Shipment{}, err
	}

	s.logger.Info("shipment dispatched", zap.String("shipment_id", id), zap.Int("orders_updated", updatedOrders))
	s.publisher.Publish(ctx, events.ShipmentDispatched, id, events.ShipmentEvent{
		ShipmentID:    id,
		Status:        string(shipment.Status),
		OrdersUpdated: updatedOrders,
	})
	return shipment, nil
}

type arrivedLine struct {
	line     domain.StockLine
	transfer ledger.TransferResult
}

// Arrive lands the shipment in one transaction: orders move to IN_BANGLADESH,
// every staged line is transferred into BD stock, and the shipment is marked
// ARRIVED with its staged list cleared. Any line that cannot be honoured
// against live USA stock aborts all of it.
func (s *Service) Arrive(ctx context.Context, actor domain.Actor, id string) (resp domain.ArriveResponse, err error) {
	ctx, span, err := s.start(ctx, actor, "Arrive", attribute.String("shipment.id", id))
	if err != nil {
		return resp, err
	}
	defer func() { s.end(span, err) }()

	var moved []arrivedLine
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		shipment, err := tx.LockShipment(ctx, id)
		if err != nil {
			return notFound(err, "Shipment not found.")
		}
		if shipment.Status == domain.ShipmentArrived {
			return conflict("Shipment has already arrived.")
		}

		ordersUpdated, err := tx.SetBatchStatus(ctx, id, domain.OrderInBangladesh)
		if err != nil {
			return err
		}

		moved = make([]arrivedLine, 0, len(shipment.StockItems))
		for _, line := range shipment.StockItems {
			if err := line.Validate(); err != nil {
				return invalid("%s", err.Error())
			}
			item, err := tx.LockUsaItem(ctx, line.UsaInventoryID)
			if errors.Is(err, store.ErrNotFound) {
				return invalid("USA inventory item not found for %s.", line.Label())
			}
			if err != nil {
				return err
			}
			if line.QtyToShip > item.Qty {
				return store.Errorf(store.ErrInsufficientStock,
					"Qty to ship for %s (%d) exceeds available USA stock (%d).", line.Label(), line.QtyToShip, item.Qty)
			}
			result, err := s.ledger.Transfer(ctx, tx, item.ID, line.QtyToShip)
			if err != nil {
				return err
			}
			moved = append(moved, arrivedLine{line: line, transfer: result})
		}

		now := s.now()
		shipment.Status = domain.ShipmentArrived
		shipment.ArrivalDate = &now
		shipment.StockItems = []domain.StockLine{}
		if _, err := tx.UpdateShipment(ctx, *shipment); err != nil {
			return err
		}

		resp = domain.ArriveResponse{Arrived: true, OrdersUpdated: ordersUpdated, StockItemsMoved: len(moved)}
		return nil
	})
	if err != nil {
		return domain.ArriveResponse{}, err
	}

	s.logger.Info("shipment arrived",
		zap.String("shipment_id", id),
		zap.Int("orders_updated", resp.OrdersUpdated),
		zap.Int("stock_items_moved", resp.StockItemsMoved))
	for _, m := range moved {
		s.publisher.Publish(ctx, events.InventoryTransferred, m.line.UsaInventoryID, events.TransferEvent{
			UsaItemID:  m.line.UsaInventoryID,
			BdItemID:   m.transfer.BdItem.ID,
			Product:    m.line.Label(),
			Qty:        m.transfer.Moved,
			Remaining:  m.transfer.Source.Qty,
			ShipmentID: id,
		})
	}
	s.publisher.Publish(ctx, events.ShipmentArrived, id, events.ShipmentEvent{
		ShipmentID:      id,
		Status:          string(domain.ShipmentArrived),
		OrdersUpdated:   resp.OrdersUpdated,
		StockItemsMoved: resp.StockItemsMoved,
	})
	return resp, nil
}
