// Package ledger owns the BD and USA stock counts. Every primitive runs on
// the caller's transaction so that the read of a row and the write that
// depends on it share one handle and one row lock.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"serene/backend/internal/domain"
	"serene/backend/internal/store"
	"serene/backend/internal/xid"
)

const DefaultLowStockThreshold = 2

type Ledger struct {
	lowStock int
}

func New(lowStockThreshold int) *Ledger {
	if lowStockThreshold < 0 {
		lowStockThreshold = DefaultLowStockThreshold
	}
	return &Ledger{lowStock: lowStockThreshold}
}

func (l *Ledger) LowStockThreshold() int {
	return l.lowStock
}

// Deduction describes what Deduct did. Warning is for the operator and never
// signals failure.
type Deduction struct {
	Deducted  bool
	Location  domain.Location
	ItemID    string
	Remaining int
	Floored   bool
	Warning   string
}

type TransferResult struct {
	Moved  int
	BdItem domain.BdInventoryItem
	// Source is the USA row after the move. A drained row stays at qty 0.
	Source domain.UsaInventoryItem
}

// Normalize trims the identity and turns blank brand or shade into null.
func Normalize(id domain.ProductIdentity) domain.ProductIdentity {
	return domain.ProductIdentity{
		ProductName: strings.TrimSpace(id.ProductName),
		Brand:       normalizeOptional(id.Brand),
		Shade:       normalizeOptional(id.Shade),
	}
}

// SameProduct is the join key between orders, staged lines and inventory
// rows: every field compares case-insensitively and null only equals null.
func SameProduct(a, b domain.ProductIdentity) bool {
	a, b = Normalize(a), Normalize(b)
	return strings.EqualFold(a.ProductName, b.ProductName) &&
		sameOptional(a.Brand, b.Brand) &&
		sameOptional(a.Shade, b.Shade)
}

// Lookup returns the authoritative row for id at loc, or nil when none
// exists. The row stays locked for the rest of the transaction.
func (l *Ledger) Lookup(ctx context.Context, tx store.Tx, loc domain.Location, id domain.ProductIdentity) (*domain.StockLevel, error) {
	level, err := tx.FindStock(ctx, loc, Normalize(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return level, nil
}

func (l *Ledger) Deduct(ctx context.Context, tx store.Tx, id domain.ProductIdentity, qty int, source domain.Source) (Deduction, error) {
	loc, ok := domain.LocationOf(source)
	if !ok {
		return Deduction{}, nil
	}
	level, err := l.Lookup(ctx, tx, loc, id)
	if err != nil {
		return Deduction{}, err
	}
	if level == nil {
		return Deduction{
			Location: loc,
			Warning:  fmt.Sprintf("Product not found in %s inventory.", loc),
		}, nil
	}

	raw := level.Qty - qty
	remaining := max(raw, 0)
	if err := tx.SetStockQty(ctx, loc, level.ItemID, remaining); err != nil {
		return Deduction{}, err
	}

	result := Deduction{
		Deducted:  true,
		Location:  loc,
		ItemID:    level.ItemID,
		Remaining: remaining,
		Floored:   raw < 0,
	}
	switch {
	case raw < 0:
		result.Warning = fmt.Sprintf("Requested qty %d exceeded %s stock of %d; stock floored to 0 and needs reconciliation.", qty, loc, level.Qty)
	case remaining <= l.lowStock:
		result.Warning = fmt.Sprintf("Low stock: only %d units remaining in %s inventory.", remaining, loc)
	}
	return result, nil
}

// Restore adds qty back to the row the order drew from. A missing row is not
// recreated.
func (l *Ledger) Restore(ctx context.Context, tx store.Tx, id domain.ProductIdentity, qty int, source domain.Source) (bool, error) {
	loc, ok := domain.LocationOf(source)
	if !ok {
		return false, nil
	}
	level, err := l.Lookup(ctx, tx, loc, id)
	if err != nil || level == nil {
		return false, err
	}
	if err := tx.SetStockQty(ctx, loc, level.ItemID, level.Qty+qty); err != nil {
		return false, err
	}
	return true, nil
}

// Transfer moves qty units of a USA row into the matching BD row; a missing
// BD row is created without pricing. A drained USA row is not deleted: it
// stays at qty 0, the same as after Deduct, so a later Restore still finds it.
// Only an operator delete removes it.
func (l *Ledger) Transfer(ctx context.Context, tx store.Tx, usaItemID string, qty int) (TransferResult, error) {
	if qty < 1 {
		return TransferResult{}, store.Errorf(store.ErrInvalidInput, "Qty must be at least 1.")
	}
	src, err := tx.LockUsaItem(ctx, usaItemID)
	if errors.Is(err, store.ErrNotFound) {
		return TransferResult{}, store.Errorf(store.ErrNotFound, "USA inventory item not found.")
	}
	if err != nil {
		return TransferResult{}, err
	}
	if qty > src.Qty {
		return TransferResult{}, store.Errorf(store.ErrInsufficientStock, "Qty cannot exceed current USA inventory qty.")
	}

	if err := tx.SetStockQty(ctx, domain.LocationUSA, src.ID, src.Qty-qty); err != nil {
		return TransferResult{}, err
	}
	result := TransferResult{Moved: qty, Source: *src}
	result.Source.Qty = src.Qty - qty

	dest, err := l.Lookup(ctx, tx, domain.LocationBD, src.ProductIdentity)
	if err != nil {
		return TransferResult{}, err
	}
	if dest != nil {
		if err := tx.SetStockQty(ctx, domain.LocationBD, dest.ItemID, dest.Qty+qty); err != nil {
			return TransferResult{}, err
		}
		item, err := tx.GetBdItem(ctx, dest.ItemID)
		if err != nil {
			return TransferResult{}, err
		}
		result.BdItem = *item
		return result, nil
	}

	created, err := tx.CreateBdItem(ctx, domain.BdInventoryItem{
		ID:              xid.New("bd"),
		ProductIdentity: Normalize(src.ProductIdentity),
		Qty:             qty,
		Tags:            slices.Clone(src.Tags),
	})
	if err != nil {
		return TransferResult{}, err
	}
	result.BdItem = *created
	return result, nil
}

// LowStock lists the rows at or below the threshold in both ledgers.
func (l *Ledger) LowStock(ctx context.Context, tx store.Tx) ([]domain.StockLevel, error) {
	out := make([]domain.StockLevel, 0, 16)
	for _, loc := range []domain.Location{domain.LocationBD, domain.LocationUSA} {
		levels, err := tx.ListStock(ctx, loc, l.lowStock)
		if err != nil {
			return nil, err
		}
		out = append(out, levels...)
	}
	return out, nil
}

func normalizeOptional(val *string) *string {
	if val == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*val)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func sameOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return strings.EqualFold(*a, *b)
}
