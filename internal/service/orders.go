package service

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"serene/backend/internal/domain"
	"serene/backend/internal/events"
	"serene/backend/internal/ledger"
	"serene/backend/internal/store"
	"serene/backend/internal/xid"
)

// CreateOrder writes the order and deducts its stock in one transaction.
// A deduction warning never fails the call.
func (s *Service) CreateOrder(ctx context.Context, actor domain.Actor, req domain.OrderCreateRequest) (resp domain.CreateOrderResponse, err error) {
	ctx, span, err := s.start(ctx, actor, "CreateOrder", attribute.String("order.source", string(req.Source)))
	if err != nil {
		return resp, err
	}
	defer func() { s.end(span, err) }()

	order, err := newOrder(req)
	if err != nil {
		return resp, err
	}

	var deduction ledger.Deduction
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetBuyer(ctx, order.BuyerID); err != nil {
			return notFound(err, "Buyer not found.")
		}
		created, err := tx.CreateOrder(ctx, order)
		if err != nil {
			return err
		}
		deduction, err = s.ledger.Deduct(ctx, tx, created.ProductIdentity, created.Qty, created.Source)
		if err != nil {
			return err
		}
		order = *created
		return nil
	})
	if err != nil {
		return resp, err
	}

	if deduction.Floored {
		s.logger.Warn("stock floored to zero",
			zap.String("order_id", order.ID),
			zap.String("item_id", deduction.ItemID),
			zap.String("location", string(deduction.Location)))
	}
	s.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("source", string(order.Source)),
		zap.String("status", string(order.Status)),
		zap.String("actor", actor.Username))
	s.publisher.Publish(ctx, events.OrderCreated, order.ID, orderEvent(order, deduction.Warning))

	return domain.CreateOrderResponse{Order: order, Warning: deduction.Warning}, nil
}

func newOrder(req domain.OrderCreateRequest) (domain.Order, error) {
	if strings.TrimSpace(req.BuyerID) == "" {
		return domain.Order{}, invalid("Buyer is required.")
	}
	identity := ledger.Normalize(domain.ProductIdentity{ProductName: req.ProductName, Brand: req.Brand, Shade: req.Shade})
	if identity.ProductName == "" {
		return domain.Order{}, invalid("Product name is required.")
	}
	if req.Qty < 1 {
		return domain.Order{}, invalid("Qty must be at least 1.")
	}
	if req.SellPriceBDT < 0 {
		return domain.Order{}, invalid("Sell price must be 0 or greater.")
	}
	if negative(req.DepositBDT) {
		return domain.Order{}, invalid("Deposit must be 0 or greater.")
	}
	if negative(req.BuyPriceUSD) {
		return domain.Order{}, invalid("Buy price must be 0 or greater.")
	}
	if !req.Source.Valid() {
		return domain.Order{}, invalid("Source must be one of BD_STOCK, USA_STOCK or PRE_ORDER.")
	}

	status := domain.DefaultStatus(req.Source)
	if req.Status != nil {
		if !req.Status.Valid() {
			return domain.Order{}, invalid("Invalid status.")
		}
		status = *req.Status
	}

	order := domain.Order{
		ID:              xid.New("ord"),
		BuyerID:         strings.TrimSpace(req.BuyerID),
		ProductIdentity: identity,
		Qty:             req.Qty,
		SellPriceBDT:    req.SellPriceBDT,
		BuyPriceUSD:     req.BuyPriceUSD,
		Source:          req.Source,
		Status:          status,
		Notes:           strings.TrimSpace(req.Notes),
	}
	if req.DepositBDT != nil {
		order.DepositBDT = *req.DepositBDT
	}
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, actor domain.Actor, id string) (order domain.Order, err error) {
	ctx, span, err := s.start(ctx, actor, "GetOrder", attribute.String("order.id", id))
	if err != nil {
		return order, err
	}
	defer func() { s.end(span, err) }()

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		found, err := tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		order = *found
		return nil
	})
	return order, notFound(err, "Order not found.")
}

func (s *Service) ListOrders(ctx context.Context, actor domain.Actor, filter domain.OrderFilter) (page domain.OrderPage, err error) {
	ctx, span, err := s.start(ctx, actor, "ListOrders")
	if err != nil {
		return page, err
	}
	defer func() { s.end(span, err) }()

	if filter.Page == 0 {
		filter.Page = 1
	}
	if filter.Page < 1 {
		return page, invalid("Invalid page.")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return page, invalid("Invalid status filter.")
	}
	if filter.Source != "" && !filter.Source.Valid() {
		return page, invalid("Invalid source filter.")
	}

	page = domain.OrderPage{Page: filter.Page, PageSize: domain.OrderPageSize}
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		orders, total, err := tx.ListOrders(ctx, filter, domain.OrderPageSize, (filter.Page-1)*domain.OrderPageSize)
		if err != nil {
			return err
		}
		page.Orders, page.Total = orders, total
		return nil
	})
	return page, err
}

// ConfirmPurchase moves a pre-order to PURCHASED. Extra units bought with it
// go into USA stock; the order itself never deducted anything.
func (s *Service) ConfirmPurchase(ctx context.Context, actor domain.Actor, id string, req domain.PurchaseRequest) (resp domain.PurchaseResponse, err error) {
	ctx, span, err := s.start(ctx, actor, "ConfirmPurchase", attribute.String("order.id", id))
	if err != nil {
		return resp, err
	}
	defer func() { s.end(span, err) }()

	if req.BuyPriceUSD <= 0 {
		return resp, invalid("Buy price must be a positive number.")
	}
	if req.WeightG <= 0 {
		return resp, invalid("Weight must be a positive number.")
	}
	if req.ExtraQty < 0 {
		return resp, invalid("Extra qty must be 0 or a positive integer.")
	}

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrder(ctx, id)
		if err != nil {
			return notFound(err, "Order not found.")
		}
		if order.Status != domain.OrderToBePurchased {
			return conflict("Order is not in To Be Purchased status.")
		}

		price := req.BuyPriceUSD
		order.Status = domain.OrderPurchased
		order.BuyPriceUSD = &price
		updated, err := tx.UpdateOrder(ctx, *order)
		if err != nil {
			return err
		}
		resp.Order = *updated

		if req.ExtraQty > 0 {
			item, err := s.stockExtraUnits(ctx, tx, updated.ProductIdentity, req)
			if err != nil {
				return err
			}
			resp.InventoryItem = item
		}
		return nil
	})
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	resp.Message = "Order marked as purchased."
	if req.ExtraQty > 0 {
		resp.Message += fmt.Sprintf(" %d extra units added to USA inventory.", req.ExtraQty)
	}
	event := orderEvent(resp.Order, "")
	event.ExtraQty = req.ExtraQty
	s.publisher.Publish(ctx, events.OrderPurchased, resp.Order.ID, event)
	return resp, nil
}

// stockExtraUnits increments the matching USA row and refreshes its unit
// price and weight, or creates a new row tagged Stocked.
func (s *Service) stockExtraUnits(ctx context.Context, tx store.Tx, identity domain.ProductIdentity, req domain.PurchaseRequest) (*domain.UsaInventoryItem, error) {
	price, weight := req.BuyPriceUSD, req.WeightG
	level, err := s.ledger.Lookup(ctx, tx, domain.LocationUSA, identity)
	if err != nil {
		return nil, err
	}
	if level == nil {
		return tx.CreateUsaItem(ctx, domain.UsaInventoryItem{
			ID:              xid.New("usa"),
			ProductIdentity: ledger.Normalize(identity),
			Qty:             req.ExtraQty,
			BuyPriceUSD:     &price,
			WeightG:         &weight,
			Tags:            []string{"Stocked"},
		})
	}
	item, err := tx.GetUsaItem(ctx, level.ItemID)
	if err != nil {
		return nil, err
	}
	item.Qty = level.Qty + req.ExtraQty
	item.BuyPriceUSD = &price
	item.WeightG = &weight
	return tx.UpdateUsaItem(ctx, *item)
}

// UpdateOrder applies the present fields verbatim. Moving into RETURNED
// restores the stock the order drew, using the order as it was before this
// update.
func (s *Service) UpdateOrder(ctx context.Context, actor domain.Actor, id string, req domain.OrderUpdateRequest) (order domain.Order, err error) {
	ctx, span, err := s.start(ctx, actor, "UpdateOrder", attribute.String("order.id", id))
	if err != nil {
		return order, err
	}
	defer func() { s.end(span, err) }()

	if err := validateOrderUpdate(req); err != nil {
		return order, err
	}

	var restored, returned bool
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		current, err := tx.LockOrder(ctx, id)
		if err != nil {
			return notFound(err, "Order not found.")
		}
		prev := *current
		next := applyOrderUpdate(prev, req)

		if next.BuyerID != prev.BuyerID {
			if _, err := tx.GetBuyer(ctx, next.BuyerID); err != nil {
				return notFound(err, "Buyer not found.")
			}
		}
		if next.Status == domain.OrderReturned && prev.Status != domain.OrderReturned {
			returned = true
			restored, err = s.ledger.Restore(ctx, tx, prev.ProductIdentity, prev.Qty, prev.Source)
			if err != nil {
				return err
			}
		}

		updated, err := tx.UpdateOrder(ctx, next)
		if err != nil {
			return err
		}
		order = *updated
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	if returned {
		event := orderEvent(order, "")
		event.Restored = restored
		s.publisher.Publish(ctx, events.OrderReturned, order.ID, event)
		s.logger.Info("order returned", zap.String("order_id", order.ID), zap.Bool("restored", restored))
	}
	return order, nil
}

func validateOrderUpdate(req domain.OrderUpdateRequest) error {
	if req.BuyerID != nil && strings.TrimSpace(*req.BuyerID) == "" {
		return invalid("Buyer is required.")
	}
	if req.ProductName != nil && strings.TrimSpace(*req.ProductName) == "" {
		return invalid("Product name is required.")
	}
	if req.Qty != nil && *req.Qty < 1 {
		return invalid("Qty must be at least 1.")
	}
	if negative(req.SellPriceBDT) {
		return invalid("Sell price must be 0 or greater.")
	}
	if negative(req.DepositBDT) {
		return invalid("Deposit must be 0 or greater.")
	}
	if negative(req.BuyPriceUSD) {
		return invalid("Buy price must be 0 or greater.")
	}
	if req.Source != nil && !req.Source.Valid() {
		return invalid("Source must be one of BD_STOCK, USA_STOCK or PRE_ORDER.")
	}
	if req.Status != nil && !req.Status.Valid() {
		return invalid("Invalid status.")
	}
	return nil
}

func applyOrderUpdate(order domain.Order, req domain.OrderUpdateRequest) domain.Order {
	if req.BuyerID != nil {
		order.BuyerID = strings.TrimSpace(*req.BuyerID)
	}
	if req.ProductName != nil {
		order.ProductName = *req.ProductName
	}
	if req.Brand != nil {
		order.Brand = req.Brand
	}
	if req.Shade != nil {
		order.Shade = req.Shade
	}
	order.ProductIdentity = ledger.Normalize(order.ProductIdentity)
	if req.Qty != nil {
		order.Qty = *req.Qty
	}
	if req.SellPriceBDT != nil {
		order.SellPriceBDT = *req.SellPriceBDT
	}
	if req.DepositBDT != nil {
		order.DepositBDT = *req.DepositBDT
	}
	if req.BuyPriceUSD != nil {
		order.BuyPriceUSD = req.BuyPriceUSD
	}
	if req.Source != nil {
		order.Source = *req.Source
	}
	if req.Status != nil {
		order.Status = *req.Status
	}
	if req.Notes != nil {
		order.Notes = *trimmed(req.Notes)
	}
	return order
}

// DeleteOrder gives back the stock of an order that still holds it, then
// removes the row. Delivered and returned orders hold nothing.
func (s *Service) DeleteOrder(ctx context.Context, actor domain.Actor, id string) (resp domain.DeleteResponse, err error) {
	ctx, span, err := s.start(ctx, actor, "DeleteOrder", attribute.String("order.id", id))
	if err != nil {
		return resp, err
	}
	defer func() { s.end(span, err) }()

	var deleted domain.Order
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrder(ctx, id)
		if err != nil {
			return notFound(err, "Order not found.")
		}
		if !order.Status.Settled() {
			resp.Restored, err = s.ledger.Restore(ctx, tx, order.ProductIdentity, order.Qty, order.Source)
			if err != nil {
				return err
			}
		}
		deleted = *order
		return tx.DeleteOrder(ctx, id)
	})
	if err != nil {
		return domain.DeleteResponse{}, err
	}

	resp.Deleted = true
	event := orderEvent(deleted, "")
	event.Restored = resp.Restored
	s.publisher.Publish(ctx, events.OrderDeleted, deleted.ID, event)
	return resp, nil
}

func orderEvent(order domain.Order, warning string) events.OrderEvent {
	return events.OrderEvent{
		OrderID: order.ID,
		BuyerID: order.BuyerID,
		Product: order.Label(),
		Qty:     order.Qty,
		Source:  string(order.Source),
		Status:  string(order.Status),
		Warning: warning,
	}
}
