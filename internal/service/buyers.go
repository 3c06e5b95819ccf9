package service

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"serene/backend/internal/domain"
	"serene/backend/internal/store"
	"serene/backend/internal/xid"
)

const buyerOrderLimit = 200

func (s *Service) CreateBuyer(ctx context.Context, actor domain.Actor, req domain.BuyerCreateRequest) (buyer domain.Buyer, err error) {
	ctx, span, err := s.start(ctx, actor, "CreateBuyer")
	if err != nil {
		return buyer, err
	}
	defer func() { s.end(span, err) }()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return buyer, invalid("Name is required.")
	}

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		created, err := tx.CreateBuyer(ctx, domain.Buyer{
			ID:      xid.New("buyer"),
			Name:    name,
			Phone:   strings.TrimSpace(req.Phone),
			Address: strings.TrimSpace(req.Address),
			Notes:   strings.TrimSpace(req.Notes),
		})
		if err != nil {
			return err
		}
		buyer = *created
		return nil
	})
	return buyer, err
}

func (s *Service) ListBuyers(ctx context.Context, actor domain.Actor, search string) (out []domain.BuyerSummary, err error) {
	ctx, span, err := s.start(ctx, actor, "ListBuyers")
	if err != nil {
		return nil, err
	}
	defer func() { s.end(span, err) }()

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		out, err = tx.ListBuyers(ctx, strings.TrimSpace(search))
		return err
	})
	return out, err
}

// GetBuyer returns the buyer with their most recent orders.
func (s *Service) GetBuyer(ctx context.Context, actor domain.Actor, id string) (detail domain.BuyerDetail, err error) {
	ctx, span, err := s.start(ctx, actor, "GetBuyer", attribute.String("buyer.id", id))
	if err != nil {
		return detail, err
	}
	defer func() { s.end(span, err) }()

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		buyer, err := tx.GetBuyer(ctx, id)
		if err != nil {
			return notFound(err, "Buyer not found.")
		}
		orders, _, err := tx.ListOrders(ctx, domain.OrderFilter{BuyerID: id}, buyerOrderLimit, 0)
		if err != nil {
			return err
		}
		detail = domain.BuyerDetail{Buyer: *buyer, Orders: orders}
		return nil
	})
	return detail, err
}

func (s *Service) UpdateBuyer(ctx context.Context, actor domain.Actor, id string, req domain.BuyerUpdateRequest) (buyer domain.Buyer, err error) {
	ctx, span, err := s.start(ctx, actor, "UpdateBuyer", attribute.String("buyer.id", id))
	if err != nil {
		return buyer, err
	}
	defer func() { s.end(span, err) }()

	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return buyer, invalid("Name is required.")
	}

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		current, err := tx.GetBuyer(ctx, id)
		if err != nil {
			return notFound(err, "Buyer not found.")
		}
		if v := trimmed(req.Name); v != nil {
			current.Name = *v
		}
		if v := trimmed(req.Phone); v != nil {
			current.Phone = *v
		}
		if v := trimmed(req.Address); v != nil {
			current.Address = *v
		}
		if v := trimmed(req.Notes); v != nil {
			current.Notes = *v
		}
		updated, err := tx.UpdateBuyer(ctx, *current)
		if err != nil {
			return err
		}
		buyer = *updated
		return nil
	})
	return buyer, err
}

// DeleteBuyer refuses while any order still references the buyer.
func (s *Service) DeleteBuyer(ctx context.Context, actor domain.Actor, id string) (resp domain.DeleteResponse, err error) {
	ctx, span, err := s.start(ctx, actor, "DeleteBuyer", attribute.String("buyer.id", id))
	if err != nil {
		return resp, err
	}
	defer func() { s.end(span, err) }()

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetBuyer(ctx, id); err != nil {
			return notFound(err, "Buyer not found.")
		}
		return tx.DeleteBuyer(ctx, id)
	})
	if err != nil {
		return resp, err
	}
	s.logger.Info("buyer deleted", zap.String("buyer_id", id), zap.String("actor", actor.Username))
	return domain.DeleteResponse{Deleted: true}, nil
}
