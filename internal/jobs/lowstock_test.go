package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"serene/backend/internal/domain"
	"serene/backend/internal/events"
	"serene/backend/internal/ledger"
	"serene/backend/internal/service"
	"serene/backend/internal/store"
	"serene/backend/internal/store/memory"
)

type capturePublisher struct {
	eventType string
	payload   any
	calls     int
}

func (p *capturePublisher) Publish(_ context.Context, eventType string, _ string, payload any) {
	p.eventType, p.payload = eventType, payload
	p.calls++
}

func TestLowStockJobPublishesThroughService(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	require.NoError(t, repo.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.CreateBdItem(ctx, domain.BdInventoryItem{ID: "bd_1", ProductIdentity: domain.ProductIdentity{ProductName: "Butter Lip Balm"}, Qty: 1})
		return err
	}))
	svc := service.New(repo, ledger.New(2), nil, zap.NewNop())
	pub := &capturePublisher{}

	n, err := NewLowStockJob(svc, pub, zap.NewNop()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, events.InventoryLowStock, pub.eventType)

	payload, ok := pub.payload.(events.LowStockEvent)
	require.True(t, ok)
	assert.Equal(t, 2, payload.Threshold)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, "BD", payload.Items[0].Location)
	assert.Equal(t, "Butter Lip Balm", payload.Items[0].Product)
}

func TestLowStockJobStaysQuietWhenStocked(t *testing.T) {
	svc := service.New(memory.New(), ledger.New(2), nil, zap.NewNop())
	pub := &capturePublisher{}

	n, err := NewLowStockJob(svc, pub, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, pub.calls)
}

type failingReporter struct{}

func (failingReporter) LowStockReport(context.Context, domain.Actor) (domain.LowStockReport, error) {
	return domain.LowStockReport{}, errors.New("db down")
}

func TestLowStockJobWrapsErrors(t *testing.T) {
	_, err := NewLowStockJob(failingReporter{}, nil, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	job := NewLowStockJob(failingReporter{}, nil, nil)
	_, err := Schedule("not a cron spec", job)
	require.Error(t, err)

	c, err := Schedule("@every 1h", job)
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)
}
