package service

import (
	"context"
	"time"

	"serene/backend/internal/domain"
	"serene/backend/internal/store"
)

func (s *Service) Dashboard(ctx context.Context, actor domain.Actor) (out domain.Dashboard, err error) {
	ctx, span, err := s.start(ctx, actor, "Dashboard")
	if err != nil {
		return out, err
	}
	defer func() { s.end(span, err) }()

	now := s.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var stats store.OrderStats
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		stats, err = tx.OrderStats(ctx, monthStart)
		return err
	})
	if err != nil {
		return out, err
	}
	return domain.Dashboard{
		TotalThisMonth:     stats.CreatedSince,
		PendingPurchase:    stats.ByStatus[domain.OrderToBePurchased],
		InBangladesh:       stats.ByStatus[domain.OrderInBangladesh],
		OutstandingBalance: stats.Outstanding,
	}, nil
}
