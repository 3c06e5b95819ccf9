package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"serene/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Error carries an operator-facing message while still matching its kind
// through errors.Is.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

func Errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Repository runs units of work. fn's Tx must not be used after fn returns.
// Returning an error from fn rolls back every write made through the Tx.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	UserStore
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Tx is the set of reads and writes available inside one transaction.
// Lock* and FindStock take row locks held until the transaction ends.
type Tx interface {
	CreateBuyer(ctx context.Context, buyer domain.Buyer) (*domain.Buyer, error)
	GetBuyer(ctx context.Context, id string) (*domain.Buyer, error)
	ListBuyers(ctx context.Context, search string) ([]domain.BuyerSummary, error)
	UpdateBuyer(ctx context.Context, buyer domain.Buyer) (*domain.Buyer, error)
	DeleteBuyer(ctx context.Context, id string) error

	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	LockOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter, limit int, offset int) ([]domain.Order, int, error)
	UpdateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	DeleteOrder(ctx context.Context, id string) error
	// AssignOrders sets batch_id on the given orders that are PURCHASED.
	AssignOrders(ctx context.Context, shipmentID string, orderIDs []string) (int, error)
	// SetBatchStatus moves every unsettled order of the batch to status.
	SetBatchStatus(ctx context.Context, shipmentID string, status domain.OrderStatus) (int, error)
	// DetachBatch clears batch_id on every order of the batch. When
	// rollbackTo is set, unsettled orders also take that status.
	DetachBatch(ctx context.Context, shipmentID string, rollbackTo *domain.OrderStatus) (int, error)
	OrderStats(ctx context.Context, since time.Time) (OrderStats, error)

	FindStock(ctx context.Context, loc domain.Location, identity domain.ProductIdentity) (*domain.StockLevel, error)
	SetStockQty(ctx context.Context, loc domain.Location, itemID string, qty int) error
	ListStock(ctx context.Context, loc domain.Location, maxQty int) ([]domain.StockLevel, error)

	CreateBdItem(ctx context.Context, item domain.BdInventoryItem) (*domain.BdInventoryItem, error)
	GetBdItem(ctx context.Context, id string) (*domain.BdInventoryItem, error)
	LockBdItem(ctx context.Context, id string) (*domain.BdInventoryItem, error)
	ListBdItems(ctx context.Context, search string) ([]domain.BdInventoryItem, error)
	UpdateBdItem(ctx context.Context, item domain.BdInventoryItem) (*domain.BdInventoryItem, error)
	DeleteBdItem(ctx context.Context, id string) error

	CreateUsaItem(ctx context.Context, item domain.UsaInventoryItem) (*domain.UsaInventoryItem, error)
	GetUsaItem(ctx context.Context, id string) (*domain.UsaInventoryItem, error)
	LockUsaItem(ctx context.Context, id string) (*domain.UsaInventoryItem, error)
	GetUsaItems(ctx context.Context, ids []string) (map[string]domain.UsaInventoryItem, error)
	ListUsaItems(ctx context.Context, search string) ([]domain.UsaInventoryItem, error)
	UpdateUsaItem(ctx context.Context, item domain.UsaInventoryItem) (*domain.UsaInventoryItem, error)
	DeleteUsaItem(ctx context.Context, id string) error

	CreateShipment(ctx context.Context, shipment domain.Shipment) (*domain.Shipment, error)
	GetShipment(ctx context.Context, id string) (*domain.Shipment, error)
	LockShipment(ctx context.Context, id string) (*domain.Shipment, error)
	ListShipments(ctx context.Context) ([]domain.ShipmentSummary, error)
	UpdateShipment(ctx context.Context, shipment domain.Shipment) (*domain.Shipment, error)
	DeleteShipment(ctx context.Context, id string) error
}

type OrderStats struct {
	CreatedSince int
	ByStatus     map[domain.OrderStatus]int
	// Outstanding sums sell minus deposit over orders that are not settled.
	Outstanding float64
}
