// Package jobs runs scheduled background work against the service layer.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"serene/backend/internal/domain"
	"serene/backend/internal/events"
)

// systemActor is the identity scheduled jobs act as.
var systemActor = domain.Actor{Username: "scheduler", Role: domain.RoleSystem}

type LowStockReporter interface {
	LowStockReport(ctx context.Context, actor domain.Actor) (domain.LowStockReport, error)
}

type LowStockJob struct {
	reporter  LowStockReporter
	publisher events.Publisher
	logger    *zap.Logger
	timeout   time.Duration
}

func NewLowStockJob(reporter LowStockReporter, publisher events.Publisher, logger *zap.Logger) *LowStockJob {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LowStockJob{reporter: reporter, publisher: publisher, logger: logger, timeout: 30 * time.Second}
}

// Run publishes one inventory.low_stock event when any row is at or below
// the threshold. It reports how many rows that was.
func (j *LowStockJob) Run(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	report, err := j.reporter.LowStockReport(ctx, systemActor)
	if err != nil {
		return 0, fmt.Errorf("low stock report: %w", err)
	}
	if len(report.Items) == 0 {
		return 0, nil
	}

	payload := events.LowStockEvent{Threshold: report.Threshold, Items: make([]events.StockItem, 0, len(report.Items))}
	for _, level := range report.Items {
		payload.Items = append(payload.Items, events.StockItem{
			ItemID:   level.ItemID,
			Location: string(level.Location),
			Product:  level.Label(),
			Qty:      level.Qty,
		})
	}
	j.publisher.Publish(ctx, events.InventoryLowStock, "low-stock", payload)
	j.logger.Info("low stock report published", zap.Int("items", len(report.Items)), zap.Int("threshold", report.Threshold))
	return len(report.Items), nil
}

// Schedule registers the job on a new cron scheduler. The caller starts and
// stops it.
func Schedule(spec string, job *LowStockJob) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		if _, err := job.Run(context.Background()); err != nil {
			job.logger.Error("low stock job failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("register low stock job %q: %w", spec, err)
	}
	return c, nil
}
