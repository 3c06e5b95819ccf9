package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"serene/backend/internal/domain"
	"serene/backend/internal/store"
)

const orderColumns = `id, buyer_id, product_name, brand, shade, qty, sell_price_bdt, deposit_bdt,
	buy_price_usd, source, status, batch_id, notes, created_at, updated_at`

func scanOrder(row scanner) (*domain.Order, error) {
	var (
		o        domain.Order
		brand    sql.NullString
		shade    sql.NullString
		buyPrice sql.NullFloat64
		batchID  sql.NullString
	)
	err := row.Scan(&o.ID, &o.BuyerID, &o.ProductName, &brand, &shade, &o.Qty, &o.SellPriceBDT, &o.DepositBDT,
		&buyPrice, &o.Source, &o.Status, &batchID, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	o.Brand = nullString(brand)
	o.Shade = nullString(shade)
	o.BuyPriceUSD = nullFloat(buyPrice)
	o.BatchID = nullString(batchID)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

func (t *pgTx) CreateBuyer(ctx context.Context, buyer domain.Buyer) (*domain.Buyer, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO buyers (id, name, phone, address, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now(),now())
		RETURNING created_at, updated_at
	`, buyer.ID, buyer.Name, buyer.Phone, buyer.Address, buyer.Notes).Scan(&buyer.CreatedAt, &buyer.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &buyer, nil
}

func (t *pgTx) GetBuyer(ctx context.Context, id string) (*domain.Buyer, error) {
	var b domain.Buyer
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name, phone, address, notes, created_at, updated_at
		FROM buyers
		WHERE id = $1
	`, id).Scan(&b.ID, &b.Name, &b.Phone, &b.Address, &b.Notes, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &b, nil
}

func (t *pgTx) ListBuyers(ctx context.Context, search string) ([]domain.BuyerSummary, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT b.id, b.name, b.phone, b.address, b.notes, b.created_at, b.updated_at,
			count(o.id),
			COALESCE(sum(o.sell_price_bdt - o.deposit_bdt) FILTER (WHERE o.status NOT IN ('DELIVERED', 'RETURNED')), 0)
		FROM buyers b
		LEFT JOIN orders o ON o.buyer_id = b.id
		WHERE $1 = '' OR b.name ILIKE $1 OR b.phone ILIKE $1
		GROUP BY b.id
		ORDER BY lower(b.name), b.id
	`, likePattern(search))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.BuyerSummary, 0, 32)
	for rows.Next() {
		var s domain.BuyerSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.Phone, &s.Address, &s.Notes, &s.CreatedAt, &s.UpdatedAt, &s.OrderCount, &s.OutstandingBalance); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *pgTx) UpdateBuyer(ctx context.Context, buyer domain.Buyer) (*domain.Buyer, error) {
	err := t.tx.QueryRowContext(ctx, `
		UPDATE buyers
		SET name = $2, phone = $3, address = $4, notes = $5, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at
	`, buyer.ID, buyer.Name, buyer.Phone, buyer.Address, buyer.Notes).Scan(&buyer.CreatedAt, &buyer.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &buyer, nil
}

func (t *pgTx) DeleteBuyer(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM buyers WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	return expectOne(res)
}

func (t *pgTx) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO orders (
			id, buyer_id, product_name, brand, shade, qty, sell_price_bdt, deposit_bdt,
			buy_price_usd, source, status, batch_id, notes, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now(),now())
		RETURNING `+orderColumns,
		order.ID, order.BuyerID, order.ProductName, order.Brand, order.Shade, order.Qty, order.SellPriceBDT, order.DepositBDT,
		order.BuyPriceUSD, order.Source, order.Status, order.BatchID, order.Notes)
	return scanOrder(row)
}

func (t *pgTx) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return scanOrder(t.tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	return scanOrder(t.tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) ListOrders(ctx context.Context, filter domain.OrderFilter, limit int, offset int) ([]domain.Order, int, error) {
	conds := make([]string, 0, 5)
	args := make([]any, 0, 7)
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Source != "" {
		add("source = $%d", filter.Source)
	}
	if filter.BuyerID != "" {
		add("buyer_id = $%d", filter.BuyerID)
	}
	if filter.BatchID != "" {
		add("batch_id = $%d", filter.BatchID)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		add("(product_name ILIKE $%[1]d OR brand ILIKE $%[1]d OR shade ILIKE $%[1]d OR notes ILIKE $%[1]d)", likePattern(search))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := t.tx.QueryRowContext(ctx, `SELECT count(*) FROM orders `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := t.tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM orders %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, orderColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *o)
	}
	return orders, total, rows.Err()
}

func (t *pgTx) UpdateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	row := t.tx.QueryRowContext(ctx, `
		UPDATE orders
		SET buyer_id = $2, product_name = $3, brand = $4, shade = $5, qty = $6, sell_price_bdt = $7,
			deposit_bdt = $8, buy_price_usd = $9, source = $10, status = $11, batch_id = $12, notes = $13,
			updated_at = now()
		WHERE id = $1
		RETURNING `+orderColumns,
		order.ID, order.BuyerID, order.ProductName, order.Brand, order.Shade, order.Qty, order.SellPriceBDT,
		order.DepositBDT, order.BuyPriceUSD, order.Source, order.Status, order.BatchID, order.Notes)
	return scanOrder(row)
}

func (t *pgTx) DeleteOrder(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	return expectOne(res)
}

func (t *pgTx) AssignOrders(ctx context.Context, shipmentID string, orderIDs []string) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET batch_id = $1, updated_at = now()
		WHERE id = ANY($2) AND status = $3
	`, shipmentID, orderIDs, domain.OrderPurchased)
	if err != nil {
		return 0, mapErr(err)
	}
	return rowsAffected(res)
}

func (t *pgTx) SetBatchStatus(ctx context.Context, shipmentID string, status domain.OrderStatus) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, updated_at = now()
		WHERE batch_id = $1 AND status NOT IN ($3, $4)
	`, shipmentID, status, domain.OrderDelivered, domain.OrderReturned)
	if err != nil {
		return 0, mapErr(err)
	}
	return rowsAffected(res)
}

func (t *pgTx) DetachBatch(ctx context.Context, shipmentID string, rollbackTo *domain.OrderStatus) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET batch_id = NULL,
			status = CASE
				WHEN $2::text IS NOT NULL AND status NOT IN ($3, $4) THEN $2::text
				ELSE status
			END,
			updated_at = now()
		WHERE batch_id = $1
	`, shipmentID, rollbackTo, domain.OrderDelivered, domain.OrderReturned)
	if err != nil {
		return 0, mapErr(err)
	}
	return rowsAffected(res)
}

func (t *pgTx) OrderStats(ctx context.Context, since time.Time) (store.OrderStats, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT status, count(*), count(*) FILTER (WHERE created_at >= $1), COALESCE(sum(sell_price_bdt - deposit_bdt), 0)
		FROM orders
		GROUP BY status
	`, since)
	if err != nil {
		return store.OrderStats{}, err
	}
	defer rows.Close()

	stats := store.OrderStats{ByStatus: make(map[domain.OrderStatus]int)}
	for rows.Next() {
		var (
			status  domain.OrderStatus
			count   int
			recent  int
			balance float64
		)
		if err := rows.Scan(&status, &count, &recent, &balance); err != nil {
			return store.OrderStats{}, err
		}
		stats.ByStatus[status] = count
		stats.CreatedSince += recent
		if !status.Settled() {
			stats.Outstanding += balance
		}
	}
	return stats, rows.Err()
}

func rowsAffected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
