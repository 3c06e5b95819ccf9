package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"serene/backend/internal/domain"
	"serene/backend/internal/store"
)

// identityPredicate is the SQL form of ledger.SameProduct: case-insensitive
// equality on every field, with NULL matching only NULL.
const identityPredicate = `lower(product_name) = lower($1)
	AND ((brand IS NULL AND $2::text IS NULL) OR lower(brand) = lower($2::text))
	AND ((shade IS NULL AND $3::text IS NULL) OR lower(shade) = lower($3::text))`

const (
	bdColumns  = `id, product_name, brand, shade, qty, buy_price_bdt, sell_price_bdt, tags, created_at, updated_at`
	usaColumns = `id, product_name, brand, shade, qty, buy_price_usd, weight_g, tags, created_at, updated_at`
)

func scanBd(row scanner) (*domain.BdInventoryItem, error) {
	var (
		item      domain.BdInventoryItem
		brand     sql.NullString
		shade     sql.NullString
		buyPrice  sql.NullFloat64
		sellPrice sql.NullFloat64
		tags      []byte
	)
	err := row.Scan(&item.ID, &item.ProductName, &brand, &shade, &item.Qty, &buyPrice, &sellPrice, &tags, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	item.Brand = nullString(brand)
	item.Shade = nullString(shade)
	item.BuyPriceBDT = nullFloat(buyPrice)
	item.SellPriceBDT = nullFloat(sellPrice)
	if item.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return &item, nil
}

func scanUsa(row scanner) (*domain.UsaInventoryItem, error) {
	var (
		item     domain.UsaInventoryItem
		brand    sql.NullString
		shade    sql.NullString
		buyPrice sql.NullFloat64
		weight   sql.NullFloat64
		tags     []byte
	)
	err := row.Scan(&item.ID, &item.ProductName, &brand, &shade, &item.Qty, &buyPrice, &weight, &tags, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	item.Brand = nullString(brand)
	item.Shade = nullString(shade)
	item.BuyPriceUSD = nullFloat(buyPrice)
	item.WeightG = nullFloat(weight)
	if item.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return &item, nil
}

func (t *pgTx) FindStock(ctx context.Context, loc domain.Location, identity domain.ProductIdentity) (*domain.StockLevel, error) {
	table, err := stockTable(loc)
	if err != nil {
		return nil, err
	}
	var (
		level domain.StockLevel
		brand sql.NullString
		shade sql.NullString
	)
	err = t.tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, product_name, brand, shade, qty
		FROM %s
		WHERE %s
		ORDER BY created_at, id
		LIMIT 1
		FOR UPDATE
	`, table, identityPredicate), identity.ProductName, identity.Brand, identity.Shade).
		Scan(&level.ItemID, &level.ProductName, &brand, &shade, &level.Qty)
	if err != nil {
		return nil, mapErr(err)
	}
	level.Location = loc
	level.Brand = nullString(brand)
	level.Shade = nullString(shade)
	return &level, nil
}

func (t *pgTx) SetStockQty(ctx context.Context, loc domain.Location, itemID string, qty int) error {
	table, err := stockTable(loc)
	if err != nil {
		return err
	}
	if qty < 0 {
		return store.Errorf(store.ErrInvalidInput, "Qty must not be negative.")
	}
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET qty = $2, updated_at = now() WHERE id = $1`, table), itemID, qty)
	if err != nil {
		return mapErr(err)
	}
	return expectOne(res)
}

func (t *pgTx) ListStock(ctx context.Context, loc domain.Location, maxQty int) ([]domain.StockLevel, error) {
	table, err := stockTable(loc)
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, product_name, brand, shade, qty
		FROM %s
		WHERE qty <= $1
		ORDER BY qty, lower(product_name), id
	`, table), maxQty)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	levels := make([]domain.StockLevel, 0, 16)
	for rows.Next() {
		var (
			level domain.StockLevel
			brand sql.NullString
			shade sql.NullString
		)
		if err := rows.Scan(&level.ItemID, &level.ProductName, &brand, &shade, &level.Qty); err != nil {
			return nil, err
		}
		level.Location = loc
		level.Brand = nullString(brand)
		level.Shade = nullString(shade)
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

func (t *pgTx) CreateBdItem(ctx context.Context, item domain.BdInventoryItem) (*domain.BdInventoryItem, error) {
	tags, err := encodeTags(item.Tags)
	if err != nil {
		return nil, err
	}
	return scanBd(t.tx.QueryRowContext(ctx, `
		INSERT INTO bd_inventory (id, product_name, brand, shade, qty, buy_price_bdt, sell_price_bdt, tags, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8::jsonb,now(),now())
		RETURNING `+bdColumns,
		item.ID, item.ProductName, item.Brand, item.Shade, item.Qty, item.BuyPriceBDT, item.SellPriceBDT, string(tags)))
}

func (t *pgTx) GetBdItem(ctx context.Context, id string) (*domain.BdInventoryItem, error) {
	return scanBd(t.tx.QueryRowContext(ctx, `SELECT `+bdColumns+` FROM bd_inventory WHERE id = $1`, id))
}

func (t *pgTx) LockBdItem(ctx context.Context, id string) (*domain.BdInventoryItem, error) {
	return scanBd(t.tx.QueryRowContext(ctx, `SELECT `+bdColumns+` FROM bd_inventory WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) ListBdItems(ctx context.Context, search string) ([]domain.BdInventoryItem, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+bdColumns+`
		FROM bd_inventory
		WHERE $1 = '' OR product_name ILIKE $1 OR brand ILIKE $1 OR shade ILIKE $1
		ORDER BY lower(product_name), created_at, id
	`, likePattern(search))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.BdInventoryItem, 0, 64)
	for rows.Next() {
		item, err := scanBd(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (t *pgTx) UpdateBdItem(ctx context.Context, item domain.BdInventoryItem) (*domain.BdInventoryItem, error) {
	tags, err := encodeTags(item.Tags)
	if err != nil {
		return nil, err
	}
	return scanBd(t.tx.QueryRowContext(ctx, `
		UPDATE bd_inventory
		SET product_name = $2, brand = $3, shade = $4, qty = $5, buy_price_bdt = $6, sell_price_bdt = $7,
			tags = $8::jsonb, updated_at = now()
		WHERE id = $1
		RETURNING `+bdColumns,
		item.ID, item.ProductName, item.Brand, item.Shade, item.Qty, item.BuyPriceBDT, item.SellPriceBDT, string(tags)))
}

func (t *pgTx) DeleteBdItem(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM bd_inventory WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	return expectOne(res)
}

func (t *pgTx) CreateUsaItem(ctx context.Context, item domain.UsaInventoryItem) (*domain.UsaInventoryItem, error) {
	tags, err := encodeTags(item.Tags)
	if err != nil {
		return nil, err
	}
	return scanUsa(t.tx.QueryRowContext(ctx, `
		INSERT INTO usa_inventory (id, product_name, brand, shade, qty, buy_price_usd, weight_g, tags, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8::jsonb,now(),now())
		RETURNING `+usaColumns,
		item.ID, item.ProductName, item.Brand, item.Shade, item.Qty, item.BuyPriceUSD, item.WeightG, string(tags)))
}

func (t *pgTx) GetUsaItem(ctx context.Context, id string) (*domain.UsaInventoryItem, error) {
	return scanUsa(t.tx.QueryRowContext(ctx, `SELECT `+usaColumns+` FROM usa_inventory WHERE id = $1`, id))
}

func (t *pgTx) LockUsaItem(ctx context.Context, id string) (*domain.UsaInventoryItem, error) {
	return scanUsa(t.tx.QueryRowContext(ctx, `SELECT `+usaColumns+` FROM usa_inventory WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) GetUsaItems(ctx context.Context, ids []string) (map[string]domain.UsaInventoryItem, error) {
	out := make(map[string]domain.UsaInventoryItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := t.tx.QueryContext(ctx, `SELECT `+usaColumns+` FROM usa_inventory WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanUsa(rows)
		if err != nil {
			return nil, err
		}
		out[item.ID] = *item
	}
	return out, rows.Err()
}

func (t *pgTx) ListUsaItems(ctx context.Context, search string) ([]domain.UsaInventoryItem, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+usaColumns+`
		FROM usa_inventory
		WHERE $1 = '' OR product_name ILIKE $1 OR brand ILIKE $1 OR shade ILIKE $1
		ORDER BY lower(product_name), created_at, id
	`, likePattern(search))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.UsaInventoryItem, 0, 64)
	for rows.Next() {
		item, err := scanUsa(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (t *pgTx) UpdateUsaItem(ctx context.Context, item domain.UsaInventoryItem) (*domain.UsaInventoryItem, error) {
	tags, err := encodeTags(item.Tags)
	if err != nil {
		return nil, err
	}
	return scanUsa(t.tx.QueryRowContext(ctx, `
		UPDATE usa_inventory
		SET product_name = $2, brand = $3, shade = $4, qty = $5, buy_price_usd = $6, weight_g = $7,
			tags = $8::jsonb, updated_at = now()
		WHERE id = $1
		RETURNING `+usaColumns,
		item.ID, item.ProductName, item.Brand, item.Shade, item.Qty, item.BuyPriceUSD, item.WeightG, string(tags)))
}

func (t *pgTx) DeleteUsaItem(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM usa_inventory WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	return expectOne(res)
}
