package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"serene/backend/internal/domain"
	"serene/backend/internal/ledger"
	"serene/backend/internal/store"
)

// Store keeps everything in process. WithTx serializes units of work and
// applies them copy-on-write, so a failed unit leaves no trace.
type Store struct {
	mu   sync.Mutex
	data *dataset
	now  func() time.Time

	usersMu         sync.RWMutex
	usersByUsername map[string]domain.UserAccount
}

type dataset struct {
	buyers    map[string]domain.Buyer
	orders    map[string]domain.Order
	bd        map[string]domain.BdInventoryItem
	usa       map[string]domain.UsaInventoryItem
	shipments map[string]domain.Shipment
}

func New() *Store {
	return &Store{
		data: &dataset{
			buyers:    make(map[string]domain.Buyer),
			orders:    make(map[string]domain.Order),
			bd:        make(map[string]domain.BdInventoryItem),
			usa:       make(map[string]domain.UsaInventoryItem),
			shipments: make(map[string]domain.Shipment),
		},
		now:             func() time.Time { return time.Now().UTC() },
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(&memTx{data: work, now: s.now}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.Errorf(store.ErrConflict, "user %s already exists", user.Username)
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	users := slices.Collect(maps.Values(s.usersByUsername))
	slices.SortFunc(users, func(a, b domain.UserAccount) int { return cmp.Compare(a.Username, b.Username) })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (d *dataset) clone() *dataset {
	return &dataset{
		buyers:    maps.Clone(d.buyers),
		orders:    maps.Clone(d.orders),
		bd:        maps.Clone(d.bd),
		usa:       maps.Clone(d.usa),
		shipments: maps.Clone(d.shipments),
	}
}

// memTx stores values, never pointers, and clones slices on the way in and
// out, so a committed dataset is never aliased by a caller.
type memTx struct {
	data *dataset
	now  func() time.Time
}

func (t *memTx) CreateBuyer(_ context.Context, buyer domain.Buyer) (*domain.Buyer, error) {
	if _, exists := t.data.buyers[buyer.ID]; exists {
		return nil, store.Errorf(store.ErrConflict, "buyer %s already exists", buyer.ID)
	}
	now := t.now()
	buyer.CreatedAt, buyer.UpdatedAt = now, now
	t.data.buyers[buyer.ID] = buyer
	return &buyer, nil
}

func (t *memTx) GetBuyer(_ context.Context, id string) (*domain.Buyer, error) {
	buyer, ok := t.data.buyers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &buyer, nil
}

func (t *memTx) ListBuyers(_ context.Context, search string) ([]domain.BuyerSummary, error) {
	needle := strings.ToLower(strings.TrimSpace(search))
	summaries := make(map[string]*domain.BuyerSummary, len(t.data.buyers))
	for _, buyer := range t.data.buyers {
		if needle != "" && !containsFold(needle, buyer.Name, buyer.Phone) {
			continue
		}
		summaries[buyer.ID] = &domain.BuyerSummary{Buyer: buyer}
	}
	for _, order := range t.data.orders {
		summary, ok := summaries[order.BuyerID]
		if !ok {
			continue
		}
		summary.OrderCount++
		if !order.Status.Settled() {
			summary.OutstandingBalance += order.BalanceDue()
		}
	}

	out := make([]domain.BuyerSummary, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, *summary)
	}
	slices.SortFunc(out, func(a, b domain.BuyerSummary) int {
		return cmp.Or(cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (t *memTx) UpdateBuyer(_ context.Context, buyer domain.Buyer) (*domain.Buyer, error) {
	existing, ok := t.data.buyers[buyer.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	buyer.CreatedAt = existing.CreatedAt
	buyer.UpdatedAt = t.now()
	t.data.buyers[buyer.ID] = buyer
	return &buyer, nil
}

func (t *memTx) DeleteBuyer(_ context.Context, id string) error {
	if _, ok := t.data.buyers[id]; !ok {
		return store.ErrNotFound
	}
	for _, order := range t.data.orders {
		if order.BuyerID == id {
			return store.Errorf(store.ErrConflict, "Cannot delete buyer with existing orders.")
		}
	}
	delete(t.data.buyers, id)
	return nil
}

func (t *memTx) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if err := t.checkOrderRefs(order); err != nil {
		return nil, err
	}
	now := t.now()
	order.CreatedAt, order.UpdatedAt = now, now
	t.data.orders[order.ID] = order
	return &order, nil
}

func (t *memTx) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	order, ok := t.data.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &order, nil
}

func (t *memTx) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	return t.GetOrder(ctx, id)
}

func (t *memTx) ListOrders(_ context.Context, filter domain.OrderFilter, limit int, offset int) ([]domain.Order, int, error) {
	needle := strings.ToLower(strings.TrimSpace(filter.Search))
	matched := make([]domain.Order, 0, len(t.data.orders))
	for _, order := range t.data.orders {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if filter.Source != "" && order.Source != filter.Source {
			continue
		}
		if filter.BuyerID != "" && order.BuyerID != filter.BuyerID {
			continue
		}
		if filter.BatchID != "" && (order.BatchID == nil || *order.BatchID != filter.BatchID) {
			continue
		}
		if needle != "" && !containsFold(needle, order.ProductName, deref(order.Brand), deref(order.Shade), order.Notes) {
			continue
		}
		matched = append(matched, order)
	}
	slices.SortFunc(matched, func(a, b domain.Order) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})

	total := len(matched)
	if offset >= total {
		return []domain.Order{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (t *memTx) UpdateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	existing, ok := t.data.orders[order.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := t.checkOrderRefs(order); err != nil {
		return nil, err
	}
	order.CreatedAt = existing.CreatedAt
	order.UpdatedAt = t.now()
	t.data.orders[order.ID] = order
	return &order, nil
}

func (t *memTx) DeleteOrder(_ context.Context, id string) error {
	if _, ok := t.data.orders[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.data.orders, id)
	return nil
}

func (t *memTx) AssignOrders(_ context.Context, shipmentID string, orderIDs []string) (int, error) {
	if _, ok := t.data.shipments[shipmentID]; !ok {
		return 0, store.ErrNotFound
	}
	assigned := 0
	now := t.now()
	for _, id := range uniqueStrings(orderIDs) {
		order, ok := t.data.orders[id]
		if !ok || order.Status != domain.OrderPurchased {
			continue
		}
		batch := shipmentID
		order.BatchID = &batch
		order.UpdatedAt = now
		t.data.orders[id] = order
		assigned++
	}
	return assigned, nil
}

func (t *memTx) SetBatchStatus(_ context.Context, shipmentID string, status domain.OrderStatus) (int, error) {
	updated := 0
	now := t.now()
	for id, order := range t.data.orders {
		if order.BatchID == nil || *order.BatchID != shipmentID || order.Status.Settled() {
			continue
		}
		order.Status = status
		order.UpdatedAt = now
		t.data.orders[id] = order
		updated++
	}
	return updated, nil
}

func (t *memTx) DetachBatch(_ context.Context, shipmentID string, rollbackTo *domain.OrderStatus) (int, error) {
	detached := 0
	now := t.now()
	for id, order := range t.data.orders {
		if order.BatchID == nil || *order.BatchID != shipmentID {
			continue
		}
		order.BatchID = nil
		if rollbackTo != nil && !order.Status.Settled() {
			order.Status = *rollbackTo
		}
		order.UpdatedAt = now
		t.data.orders[id] = order
		detached++
	}
	return detached, nil
}

func (t *memTx) OrderStats(_ context.Context, since time.Time) (store.OrderStats, error) {
	stats := store.OrderStats{ByStatus: make(map[domain.OrderStatus]int)}
	for _, order := range t.data.orders {
		stats.ByStatus[order.Status]++
		if !order.CreatedAt.Before(since) {
			stats.CreatedSince++
		}
		if !order.Status.Settled() {
			stats.Outstanding += order.BalanceDue()
		}
	}
	return stats, nil
}

func (t *memTx) FindStock(_ context.Context, loc domain.Location, identity domain.ProductIdentity) (*domain.StockLevel, error) {
	var best *domain.StockLevel
	var bestCreated time.Time
	consider := func(id string, ident domain.ProductIdentity, qty int, created time.Time) {
		if !ledger.SameProduct(ident, identity) {
			return
		}
		if best != nil && (created.After(bestCreated) || (created.Equal(bestCreated) && id > best.ItemID)) {
			return
		}
		best = &domain.StockLevel{ItemID: id, Location: loc, ProductIdentity: ident, Qty: qty}
		bestCreated = created
	}

	switch loc {
	case domain.LocationBD:
		for id, item := range t.data.bd {
			consider(id, item.ProductIdentity, item.Qty, item.CreatedAt)
		}
	case domain.LocationUSA:
		for id, item := range t.data.usa {
			consider(id, item.ProductIdentity, item.Qty, item.CreatedAt)
		}
	default:
		return nil, store.Errorf(store.ErrInvalidInput, "unknown inventory location %q", loc)
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}

func (t *memTx) SetStockQty(_ context.Context, loc domain.Location, itemID string, qty int) error {
	if qty < 0 {
		return store.Errorf(store.ErrInvalidInput, "Qty must not be negative.")
	}
	now := t.now()
	switch loc {
	case domain.LocationBD:
		item, ok := t.data.bd[itemID]
		if !ok {
			return store.ErrNotFound
		}
		item.Qty, item.UpdatedAt = qty, now
		t.data.bd[itemID] = item
	case domain.LocationUSA:
		item, ok := t.data.usa[itemID]
		if !ok {
			return store.ErrNotFound
		}
		item.Qty, item.UpdatedAt = qty, now
		t.data.usa[itemID] = item
	default:
		return store.Errorf(store.ErrInvalidInput, "unknown inventory location %q", loc)
	}
	return nil
}

func (t *memTx) ListStock(_ context.Context, loc domain.Location, maxQty int) ([]domain.StockLevel, error) {
	levels := make([]domain.StockLevel, 0, 16)
	switch loc {
	case domain.LocationBD:
		for id, item := range t.data.bd {
			if item.Qty <= maxQty {
				levels = append(levels, domain.StockLevel{ItemID: id, Location: loc, ProductIdentity: item.ProductIdentity, Qty: item.Qty})
			}
		}
	case domain.LocationUSA:
		for id, item := range t.data.usa {
			if item.Qty <= maxQty {
				levels = append(levels, domain.StockLevel{ItemID: id, Location: loc, ProductIdentity: item.ProductIdentity, Qty: item.Qty})
			}
		}
	default:
		return nil, store.Errorf(store.ErrInvalidInput, "unknown inventory location %q", loc)
	}
	slices.SortFunc(levels, func(a, b domain.StockLevel) int {
		return cmp.Or(cmp.Compare(a.Qty, b.Qty), cmp.Compare(strings.ToLower(a.ProductName), strings.ToLower(b.ProductName)), cmp.Compare(a.ItemID, b.ItemID))
	})
	return levels, nil
}

func (t *memTx) CreateBdItem(_ context.Context, item domain.BdInventoryItem) (*domain.BdInventoryItem, error) {
	if _, exists := t.data.bd[item.ID]; exists {
		return nil, store.Errorf(store.ErrConflict, "BD inventory item %s already exists", item.ID)
	}
	now := t.now()
	item.CreatedAt, item.UpdatedAt = now, now
	item.Tags = cloneTags(item.Tags)
	t.data.bd[item.ID] = item
	return cloneBd(item), nil
}

func (t *memTx) GetBdItem(_ context.Context, id string) (*domain.BdInventoryItem, error) {
	item, ok := t.data.bd[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneBd(item), nil
}

func (t *memTx) LockBdItem(ctx context.Context, id string) (*domain.BdInventoryItem, error) {
	return t.GetBdItem(ctx, id)
}

func (t *memTx) ListBdItems(_ context.Context, search string) ([]domain.BdInventoryItem, error) {
	needle := strings.ToLower(strings.TrimSpace(search))
	items := make([]domain.BdInventoryItem, 0, len(t.data.bd))
	for _, item := range t.data.bd {
		if needle != "" && !containsFold(needle, item.ProductName, deref(item.Brand), deref(item.Shade)) {
			continue
		}
		items = append(items, *cloneBd(item))
	}
	slices.SortFunc(items, func(a, b domain.BdInventoryItem) int {
		return cmp.Or(cmp.Compare(strings.ToLower(a.ProductName), strings.ToLower(b.ProductName)), a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return items, nil
}

func (t *memTx) UpdateBdItem(_ context.Context, item domain.BdInventoryItem) (*domain.BdInventoryItem, error) {
	existing, ok := t.data.bd[item.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = t.now()
	item.Tags = cloneTags(item.Tags)
	t.data.bd[item.ID] = item
	return cloneBd(item), nil
}

func (t *memTx) DeleteBdItem(_ context.Context, id string) error {
	if _, ok := t.data.bd[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.data.bd, id)
	return nil
}

func (t *memTx) CreateUsaItem(_ context.Context, item domain.UsaInventoryItem) (*domain.UsaInventoryItem, error) {
	if _, exists := t.data.usa[item.ID]; exists {
		return nil, store.Errorf(store.ErrConflict, "USA inventory item %s already exists", item.ID)
	}
	now := t.now()
	item.CreatedAt, item.UpdatedAt = now, now
	item.Tags = cloneTags(item.Tags)
	t.data.usa[item.ID] = item
	return cloneUsa(item), nil
}

func (t *memTx) GetUsaItem(_ context.Context, id string) (*domain.UsaInventoryItem, error) {
	item, ok := t.data.usa[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUsa(item), nil
}

func (t *memTx) LockUsaItem(ctx context.Context, id string) (*domain.UsaInventoryItem, error) {
	return t.GetUsaItem(ctx, id)
}

func (t *memTx) GetUsaItems(_ context.Context, ids []string) (map[string]domain.UsaInventoryItem, error) {
	out := make(map[string]domain.UsaInventoryItem, len(ids))
	for _, id := range ids {
		if item, ok := t.data.usa[id]; ok {
			out[id] = *cloneUsa(item)
		}
	}
	return out, nil
}

func (t *memTx) ListUsaItems(_ context.Context, search string) ([]domain.UsaInventoryItem, error) {
	needle := strings.ToLower(strings.TrimSpace(search))
	items := make([]domain.UsaInventoryItem, 0, len(t.data.usa))
	for _, item := range t.data.usa {
		if needle != "" && !containsFold(needle, item.ProductName, deref(item.Brand), deref(item.Shade)) {
			continue
		}
		items = append(items, *cloneUsa(item))
	}
	slices.SortFunc(items, func(a, b domain.UsaInventoryItem) int {
		return cmp.Or(cmp.Compare(strings.ToLower(a.ProductName), strings.ToLower(b.ProductName)), a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return items, nil
}

func (t *memTx) UpdateUsaItem(_ context.Context, item domain.UsaInventoryItem) (*domain.UsaInventoryItem, error) {
	existing, ok := t.data.usa[item.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = t.now()
	item.Tags = cloneTags(item.Tags)
	t.data.usa[item.ID] = item
	return cloneUsa(item), nil
}

func (t *memTx) DeleteUsaItem(_ context.Context, id string) error {
	if _, ok := t.data.usa[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.data.usa, id)
	return nil
}

func (t *memTx) CreateShipment(_ context.Context, shipment domain.Shipment) (*domain.Shipment, error) {
	if _, exists := t.data.shipments[shipment.ID]; exists {
		return nil, store.Errorf(store.ErrConflict, "shipment %s already exists", shipment.ID)
	}
	now := t.now()
	shipment.CreatedAt, shipment.UpdatedAt = now, now
	shipment.StockItems = cloneLines(shipment.StockItems)
	t.data.shipments[shipment.ID] = shipment
	return cloneShipment(shipment), nil
}

func (t *memTx) GetShipment(_ context.Context, id string) (*domain.Shipment, error) {
	shipment, ok := t.data.shipments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneShipment(shipment), nil
}

func (t *memTx) LockShipment(ctx context.Context, id string) (*domain.Shipment, error) {
	return t.GetShipment(ctx, id)
}

func (t *memTx) ListShipments(_ context.Context) ([]domain.ShipmentSummary, error) {
	counts := make(map[string]int, len(t.data.shipments))
	for _, order := range t.data.orders {
		if order.BatchID != nil {
			counts[*order.BatchID]++
		}
	}
	out := make([]domain.ShipmentSummary, 0, len(t.data.shipments))
	for id, shipment := range t.data.shipments {
		out = append(out, domain.ShipmentSummary{Shipment: *cloneShipment(shipment), OrderCount: counts[id]})
	}
	slices.SortFunc(out, func(a, b domain.ShipmentSummary) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	return out, nil
}

func (t *memTx) UpdateShipment(_ context.Context, shipment domain.Shipment) (*domain.Shipment, error) {
	existing, ok := t.data.shipments[shipment.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	shipment.CreatedAt = existing.CreatedAt
	shipment.UpdatedAt = t.now()
	shipment.StockItems = cloneLines(shipment.StockItems)
	t.data.shipments[shipment.ID] = shipment
	return cloneShipment(shipment), nil
}

func (t *memTx) DeleteShipment(_ context.Context, id string) error {
	if _, ok := t.data.shipments[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.data.shipments, id)
	for orderID, order := range t.data.orders {
		if order.BatchID != nil && *order.BatchID == id {
			order.BatchID = nil
			t.data.orders[orderID] = order
		}
	}
	return nil
}

// checkOrderRefs mirrors the foreign keys of the relational schema.
func (t *memTx) checkOrderRefs(order domain.Order) error {
	if _, ok := t.data.buyers[order.BuyerID]; !ok {
		return store.Errorf(store.ErrInvalidInput, "Buyer not found.")
	}
	if order.BatchID != nil {
		if _, ok := t.data.shipments[*order.BatchID]; !ok {
			return store.Errorf(store.ErrInvalidInput, "Shipment not found.")
		}
	}
	return nil
}

func cloneTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return slices.Clone(tags)
}

func cloneLines(lines []domain.StockLine) []domain.StockLine {
	if lines == nil {
		return []domain.StockLine{}
	}
	return slices.Clone(lines)
}

func cloneBd(item domain.BdInventoryItem) *domain.BdInventoryItem {
	item.Tags = cloneTags(item.Tags)
	return &item
}

func cloneUsa(item domain.UsaInventoryItem) *domain.UsaInventoryItem {
	item.Tags = cloneTags(item.Tags)
	return &item
}

func cloneShipment(shipment domain.Shipment) *domain.Shipment {
	shipment.StockItems = cloneLines(shipment.StockItems)
	return &shipment
}

func containsFold(needle string, fields ...string) bool {
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func deref(val *string) string {
	if val == nil {
		return ""
	}
	return *val
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
