package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"serene/backend/internal/domain"
)

const shipmentColumns = `id, name, status, departure_date, arrival_date, notes, stock_items, created_at, updated_at`

func scanShipment(row scanner, extra ...any) (*domain.Shipment, error) {
	var (
		s         domain.Shipment
		departure sql.NullTime
		arrival   sql.NullTime
		lines     []byte
	)
	dest := append([]any{&s.ID, &s.Name, &s.Status, &departure, &arrival, &s.Notes, &lines, &s.CreatedAt, &s.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, mapErr(err)
	}
	s.DepartureDate = nullTime(departure)
	s.ArrivalDate = nullTime(arrival)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()

	items, err := decodeStockLines(lines)
	if err != nil {
		return nil, fmt.Errorf("shipment %s: %w", s.ID, err)
	}
	s.StockItems = items
	return &s, nil
}

// decodeStockLines validates every staged line on the way out of storage.
func decodeStockLines(raw []byte) ([]domain.StockLine, error) {
	lines := []domain.StockLine{}
	if len(raw) == 0 {
		return lines, nil
	}
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, fmt.Errorf("decode stock items: %w", err)
	}
	for i, line := range lines {
		if err := line.Validate(); err != nil {
			return nil, fmt.Errorf("stock item %d: %w", i, err)
		}
	}
	return lines, nil
}

func encodeStockLines(lines []domain.StockLine) (string, error) {
	if lines == nil {
		lines = []domain.StockLine{}
	}
	raw, err := json.Marshal(lines)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (t *pgTx) CreateShipment(ctx context.Context, shipment domain.Shipment) (*domain.Shipment, error) {
	lines, err := encodeStockLines(shipment.StockItems)
	if err != nil {
		return nil, err
	}
	return scanShipment(t.tx.QueryRowContext(ctx, `
		INSERT INTO shipments (id, name, status, departure_date, arrival_date, notes, stock_items, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7::jsonb,now(),now())
		RETURNING `+shipmentColumns,
		shipment.ID, shipment.Name, shipment.Status, shipment.DepartureDate, shipment.ArrivalDate, shipment.Notes, lines))
}

func (t *pgTx) GetShipment(ctx context.Context, id string) (*domain.Shipment, error) {
	return scanShipment(t.tx.QueryRowContext(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = $1`, id))
}

func (t *pgTx) LockShipment(ctx context.Context, id string) (*domain.Shipment, error) {
	return scanShipment(t.tx.QueryRowContext(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) ListShipments(ctx context.Context) ([]domain.ShipmentSummary, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT s.id, s.name, s.status, s.departure_date, s.arrival_date, s.notes, s.stock_items, s.created_at, s.updated_at,
			(SELECT count(*) FROM orders o WHERE o.batch_id = s.id)
		FROM shipments s
		ORDER BY s.created_at DESC, s.id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ShipmentSummary, 0, 16)
	for rows.Next() {
		var count int
		shipment, err := scanShipment(rows, &count)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.ShipmentSummary{Shipment: *shipment, OrderCount: count})
	}
	return out, rows.Err()
}

func (t *pgTx) UpdateShipment(ctx context.Context, shipment domain.Shipment) (*domain.Shipment, error) {
	lines, err := encodeStockLines(shipment.StockItems)
	if err != nil {
		return nil, err
	}
	return scanShipment(t.tx.QueryRowContext(ctx, `
		UPDATE shipments
		SET name = $2, status = $3, departure_date = $4, arrival_date = $5, notes = $6, stock_items = $7::jsonb,
			updated_at = now()
		WHERE id = $1
		RETURNING `+shipmentColumns,
		shipment.ID, shipment.Name, shipment.Status, shipment.DepartureDate, shipment.ArrivalDate, shipment.Notes, lines))
}

func (t *pgTx) DeleteShipment(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM shipments WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	return expectOne(res)
}
