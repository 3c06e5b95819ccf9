package service

import (
	"context"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"serene/backend/internal/domain"
	"serene/backend/internal/events"
	"serene/backend/internal/ledger"
	"serene/backend/internal/store"
	"serene/backend/internal/xid"
)

func (s *Service) ListBdItems(ctx context.Context, actor domain.Actor, search string) (items []domain.BdInventoryItem, err error) {
	ctx, span, err := s.start(ctx, actor, "ListBdItems")
	if err != nil {
		return nil, err
	}
	defer func() { s.end(span, err) }()

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		items, err = tx.ListBdItems(ctx, strings.TrimSpace(search))
		return err
	})
	return items, err
}

func (s *Service) GetBdItem(ctx context.Context, actor domain.Actor, id string) (item domain.BdInventoryItem, err error) {
	ctx, span, err := s.start(ctx, actor, "GetBdItem", attribute.String("item.id", id))
	if err != nil {
		return item, err
	}
	defer func() { s.end(span, err) }()

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		found, err := tx.GetBdItem(ctx, id)
		if err != nil {
			return notFound(err, "BD inventory item not found.")
		}
		item = *found
		return nil
	})
	return item, err
}

func (s *Service) CreateBdItem(ctx context.Context, actor domain.Actor, req domain.BdItemCreateRequest) (item domain.BdInventoryItem, err error) {
	ctx, span, err := s.start(ctx, actor, "CreateBdItem")
	if err != nil {
		return item, err
	}
	defer func() { s.end(span, err) }()

	item = domain.BdInventoryItem{
		ID:              xid.New("bd"),
		ProductIdentity: ledger.Normalize(domain.ProductIdentity{ProductName: req.ProductName, Brand: req.Brand, Shade: req.Shade}),
		Qty:             req.Qty,
		BuyPriceBDT:     req.BuyPriceBDT,
		SellPriceBDT:    req.SellPriceBDT,
		Tags:            cleanTags(req.Tags),
	}
	if err := validateStockRow(item.ProductIdentity, item.Qty, item.BuyPriceBDT, item.SellPriceBDT); err != nil {
		return domain.BdInventoryItem{}, err
	}

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		if err := s.ensureUniqueRow(ctx, tx, domain.LocationBD, item.ProductIdentity, ""); err != nil {
			return err
		}
		created, err := tx.CreateBdItem(ctx, item)
		if err != nil {
			return err
		}
		item = *created
		return nil
	})
	if err != nil {
		return domain.BdInventoryItem{}, err
	}
	return item, nil
}

func (s *Service) UpdateBdItem(ctx context.Context, actor domain.Actor, id string, req domain.BdItemUpdateRequest) (item domain.BdInventoryItem, err error) {
	ctx, span, err := s.start(ctx, actor, "UpdateBdItem", attribute.String("item.id", id))
	if err != nil {
		return item, err
	}
	defer func() { s.end(span, err) }()

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		current, err := tx.LockBdItem(ctx, id)
		if err != nil {
			return notFound(err, "BD inventory item not found.")
		}
		current.ProductIdentity = patchIdentity(current.ProductIdentity, req.ProductName, req.Brand, req.Shade)
		if req.Qty != nil {
			current.Qty = *req.Qty
		}
		if req.BuyPriceBDT != nil {
			current.BuyPriceBDT = req.BuyPriceBDT
		}
		if req.SellPriceBDT != nil {
			current.SellPriceBDT = req.SellPriceBDT
		}
		if req.Tags != nil {
			current.Tags = cleanTags(*req.Tags)
		}
		if err := validateStockRow(current.ProductIdentity, current.Qty, current.BuyPriceBDT, current.SellPriceBDT); err != nil {
			return err
		}
		if err := s.ensureUniqueRow(ctx, tx, domain.LocationBD, current.ProductIdentity, current.ID); err != nil {
			return err
		}
		updated, err := tx.UpdateBdItem(ctx, *current)
		if err != nil {
			return err
		}
		item = *updated
		return nil
	})
	return item, err
}

func (s *Service) DeleteBdItem(ctx context.Context, actor domain.Actor, id string) (resp domain.DeleteResponse, err error) {
	ctx, span, err := s.start(ctx, actor, "DeleteBdItem", attribute.String("item.id", id))
	if err != nil {
		return resp, err
	}
	defer func() { s.end(span, err) }()

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		return notFound(tx.DeleteBdItem(ctx, id), "BD inventory item not found.")
	})
	if err != nil {
		return resp, err
	}
	return domain.DeleteResponse{Deleted: true}, nil
}

func (s *Service) ListUsaItems(ctx context.Context, actor domain.Actor, search string) (items []domain.UsaInventoryItem, err error) {
	ctx, span, err := s.start(ctx, actor, "ListUsaItems")
	if err != nil {
		return nil, err
	}
	defer func() { s.end(span, err) }()

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		items, err = tx.ListUsaItems(ctx, strings.TrimSpace(search))
		return err
	})
	return items, err
}

func (s *Service) GetUsaItem(ctx context.Context, actor domain.Actor, id string) (item domain.UsaInventoryItem, err error) {
	ctx, span, err := s.start(ctx, actor, "GetUsaItem", attribute.String("item.id", id))
	if err != nil {
		return item, err
	}
	defer func() { s.end(span, err) }()

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		found, err := tx.GetUsaItem(ctx, id)
		if err != nil {
			return notFound(err, "USA inventory item not found.")
		}
		item = *found
		return nil
	})
	return item, err
}

func (s *Service) CreateUsaItem(ctx context.Context, actor domain.Actor, req domain.UsaItemCreateRequest) (item domain.UsaInventoryItem, err error) {
	ctx, span, err := s.start(ctx, actor, "CreateUsaItem")
	if err != nil {
		return item, err
	}
	defer func() { s.end(span, err) }()

	item = domain.UsaInventoryItem{
		ID:              xid.New("usa"),
		ProductIdentity: ledger.Normalize(domain.ProductIdentity{ProductName: req.ProductName, Brand: req.Brand, Shade: req.Shade}),
		Qty:             req.Qty,
		BuyPriceUSD:     req.BuyPriceUSD,
		WeightG:         req.WeightG,
		Tags:            cleanTags(req.Tags),
	}
	if err := validateStockRow(item.ProductIdentity, item.Qty, item.BuyPriceUSD, item.WeightG); err != nil {
		return domain.UsaInventoryItem{}, err
	}

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		if err := s.ensureUniqueRow(ctx, tx, domain.LocationUSA, item.ProductIdentity, ""); err != nil {
			return err
		}
		created, err := tx.CreateUsaItem(ctx, item)
		if err != nil {
			return err
		}
		item = *created
		return nil
	})
	if err != nil {
		return domain.UsaInventoryItem{}, err
	}
	return item, nil
}

func (s *Service) UpdateUsaItem(ctx context.Context, actor domain.Actor, id string, req domain.UsaItemUpdateRequest) (item domain.UsaInventoryItem, err error) {
	ctx, span, err := s.start(ctx, actor, "UpdateUsaItem", attribute.String("item.id", id))
	if err != nil {
		return item, err
	}
	defer func() { s.end(span, err) }()

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		current, err := tx.LockUsaItem(ctx, id)
		if err != nil {
			return notFound(err, "USA inventory item not found.")
		}
		current.ProductIdentity = patchIdentity(current.ProductIdentity, req.ProductName, req.Brand, req.Shade)
		if req.Qty != nil {
			current.Qty = *req.Qty
		}
		if req.BuyPriceUSD != nil {
			current.BuyPriceUSD = req.BuyPriceUSD
		}
		if req.WeightG != nil {
			current.WeightG = req.WeightG
		}
		if req.Tags != nil {
			current.Tags = cleanTags(*req.Tags)
		}
		if err := validateStockRow(current.ProductIdentity, current.Qty, current.BuyPriceUSD, current.WeightG); err != nil {
			return err
		}
		if err := s.ensureUniqueRow(ctx, tx, domain.LocationUSA, current.ProductIdentity, current.ID); err != nil {
			return err
		}
		updated, err := tx.UpdateUsaItem(ctx, *current)
		if err != nil {
			return err
		}
		item = *updated
		return nil
	})
	return item, err
}

func (s *Service) DeleteUsaItem(ctx context.Context, actor domain.Actor, id string) (resp domain.DeleteResponse, err error) {
	ctx, span, err := s.start(ctx, actor, "DeleteUsaItem", attribute.String("item.id", id))
	if err != nil {
		return resp, err
	}
	defer func() { s.end(span, err) }()

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		return notFound(tx.DeleteUsaItem(ctx, id), "USA inventory item not found.")
	})
	if err != nil {
		return resp, err
	}
	return domain.DeleteResponse{Deleted: true}, nil
}

// MoveUsaToBd is the ad-hoc form of the ledger transfer.
func (s *Service) MoveUsaToBd(ctx context.Context, actor domain.Actor, id string, qty int) (resp domain.MoveToBDResponse, err error) {
	ctx, span, err := s.start(ctx, actor, "MoveUsaToBd", attribute.String("item.id", id), attribute.Int("qty", qty))
	if err != nil {
		return resp, err
	}
	defer func() { s.end(span, err) }()

	var result ledger.TransferResult
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		result, err = s.ledger.Transfer(ctx, tx, id, qty)
		return err
	})
	if err != nil {
		return resp, err
	}

	s.logger.Info("moved usa stock to bd",
		zap.String("usa_item_id", id),
		zap.String("bd_item_id", result.BdItem.ID),
		zap.Int("qty", result.Moved))
	s.publisher.Publish(ctx, events.InventoryTransferred, id, events.TransferEvent{
		UsaItemID: id,
		BdItemID:  result.BdItem.ID,
		Product:   result.BdItem.Label(),
		Qty:       result.Moved,
		Remaining: result.Source.Qty,
	})
	return domain.MoveToBDResponse{Moved: result.Moved, BdItem: result.BdItem, Source: result.Source}, nil
}

func (s *Service) LowStockReport(ctx context.Context, actor domain.Actor) (report domain.LowStockReport, err error) {
	ctx, span, err := s.start(ctx, actor, "LowStockReport")
	if err != nil {
		return report, err
	}
	defer func() { s.end(span, err) }()

	report.Threshold = s.ledger.LowStockThreshold()
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		report.Items, err = s.ledger.LowStock(ctx, tx)
		return err
	})
	return report, err
}

// ensureUniqueRow keeps one row per identity at a location. self is the row
// being updated, if any.
func (s *Service) ensureUniqueRow(ctx context.Context, tx store.Tx, loc domain.Location, identity domain.ProductIdentity, self string) error {
	existing, err := s.ledger.Lookup(ctx, tx, loc, identity)
	if err != nil {
		return err
	}
	if existing != nil && existing.ItemID != self {
		return conflict("%s already exists in %s inventory.", identity.Label(), loc)
	}
	return nil
}

func validateStockRow(identity domain.ProductIdentity, qty int, prices ...*float64) error {
	if identity.ProductName == "" {
		return invalid("Product name is required.")
	}
	if qty < 0 {
		return invalid("Qty must be 0 or greater.")
	}
	for _, p := range prices {
		if negative(p) {
			return invalid("Prices and weight must be 0 or greater.")
		}
	}
	return nil
}

func patchIdentity(current domain.ProductIdentity, name, brand, shade *string) domain.ProductIdentity {
	if name != nil {
		current.ProductName = *name
	}
	if brand != nil {
		current.Brand = brand
	}
	if shade != nil {
		current.Shade = shade
	}
	return ledger.Normalize(current)
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" && !slices.Contains(out, tag) {
			out = append(out, tag)
		}
	}
	return out
}
