package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Source string

const (
	SourceBDStock  Source = "BD_STOCK"
	SourceUSAStock Source = "USA_STOCK"
	SourcePreOrder Source = "PRE_ORDER"
)

func (s Source) Valid() bool {
	switch s {
	case SourceBDStock, SourceUSAStock, SourcePreOrder:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderToBePurchased OrderStatus = "TO_BE_PURCHASED"
	OrderPurchased     OrderStatus = "PURCHASED"
	OrderInTransit     OrderStatus = "IN_TRANSIT"
	OrderInBangladesh  OrderStatus = "IN_BANGLADESH"
	OrderDelivered     OrderStatus = "DELIVERED"
	OrderReturned      OrderStatus = "RETURNED"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderToBePurchased, OrderPurchased, OrderInTransit, OrderInBangladesh, OrderDelivered, OrderReturned:
		return true
	}
	return false
}

// Settled reports whether the order's inventory effect is final: delivered
// goods are consumed and returned goods were already restored.
func (s OrderStatus) Settled() bool {
	return s == OrderDelivered || s == OrderReturned
}

// DefaultStatus is the status a new order takes when none is supplied.
func DefaultStatus(source Source) OrderStatus {
	switch source {
	case SourceBDStock:
		return OrderInBangladesh
	case SourceUSAStock:
		return OrderPurchased
	default:
		return OrderToBePurchased
	}
}

type ShipmentStatus string

const (
	ShipmentPacking   ShipmentStatus = "PACKING"
	ShipmentInTransit ShipmentStatus = "IN_TRANSIT"
	ShipmentArrived   ShipmentStatus = "ARRIVED"
)

type Location string

const (
	LocationBD  Location = "BD"
	LocationUSA Location = "USA"
)

// LocationOf maps an order source to the ledger it draws from. Pre-orders
// have no ledger.
func LocationOf(source Source) (Location, bool) {
	switch source {
	case SourceBDStock:
		return LocationBD, true
	case SourceUSAStock:
		return LocationUSA, true
	}
	return "", false
}

// ProductIdentity is the (productName, brand, shade) tuple that links orders
// and staged stock lines to inventory rows.
type ProductIdentity struct {
	ProductName string  `json:"productName"`
	Brand       *string `json:"brand"`
	Shade       *string `json:"shade"`
}

func (p ProductIdentity) Label() string {
	parts := make([]string, 0, 2)
	if p.Brand != nil {
		parts = append(parts, *p.Brand)
	}
	if p.Shade != nil {
		parts = append(parts, *p.Shade)
	}
	if len(parts) == 0 {
		return p.ProductName
	}
	return fmt.Sprintf("%s (%s)", p.ProductName, strings.Join(parts, ", "))
}

type Buyer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type BuyerSummary struct {
	Buyer
	OrderCount         int     `json:"orderCount"`
	OutstandingBalance float64 `json:"outstandingBalance"`
}

type BuyerDetail struct {
	Buyer
	Orders []Order `json:"orders"`
}

type Order struct {
	ID      string `json:"id"`
	BuyerID string `json:"buyerId"`
	ProductIdentity
	Qty          int         `json:"qty"`
	SellPriceBDT float64     `json:"sellPriceBdt"`
	DepositBDT   float64     `json:"depositBdt"`
	BuyPriceUSD  *float64    `json:"buyPriceUsd"`
	Source       Source      `json:"source"`
	Status       OrderStatus `json:"status"`
	BatchID      *string     `json:"batchId"`
	Notes        string      `json:"notes"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// BalanceDue may be negative when a deposit exceeds the sell price.
func (o Order) BalanceDue() float64 {
	return o.SellPriceBDT - o.DepositBDT
}

func (o Order) MarshalJSON() ([]byte, error) {
	type plain Order
	return json.Marshal(struct {
		plain
		BalanceDue float64 `json:"balanceDue"`
	}{plain: plain(o), BalanceDue: o.BalanceDue()})
}

type BdInventoryItem struct {
	ID string `json:"id"`
	ProductIdentity
	Qty          int       `json:"qty"`
	BuyPriceBDT  *float64  `json:"buyPriceBdt"`
	SellPriceBDT *float64  `json:"sellPriceBdt"`
	Tags         []string  `json:"tags"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type UsaInventoryItem struct {
	ID string `json:"id"`
	ProductIdentity
	Qty         int       `json:"qty"`
	BuyPriceUSD *float64  `json:"buyPriceUsd"`
	WeightG     *float64  `json:"weightG"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// StockLevel is the location-agnostic view of one inventory row.
type StockLevel struct {
	ItemID   string   `json:"itemId"`
	Location Location `json:"location"`
	ProductIdentity
	Qty int `json:"qty"`
}

// StockLine is one staged USA stock line inside a shipment.
type StockLine struct {
	UsaInventoryID string `json:"usaInventoryId"`
	ProductIdentity
	QtyToShip   int      `json:"qtyToShip"`
	BuyPriceUSD *float64 `json:"buyPriceUsd"`
	WeightG     *float64 `json:"weightG"`
}

func (l StockLine) Validate() error {
	if strings.TrimSpace(l.UsaInventoryID) == "" {
		return errors.New("Stock item usaInventoryId is required.")
	}
	if strings.TrimSpace(l.ProductName) == "" {
		return errors.New("Stock item productName is required.")
	}
	if l.QtyToShip < 1 {
		return fmt.Errorf("Qty to ship must be at least 1 for %s.", l.Label())
	}
	if l.BuyPriceUSD != nil && *l.BuyPriceUSD < 0 {
		return fmt.Errorf("Buy price must not be negative for %s.", l.Label())
	}
	if l.WeightG != nil && *l.WeightG < 0 {
		return fmt.Errorf("Weight must not be negative for %s.", l.Label())
	}
	return nil
}

type Shipment struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Status        ShipmentStatus `json:"status"`
	DepartureDate *time.Time     `json:"departureDate"`
	ArrivalDate   *time.Time     `json:"arrivalDate"`
	Notes         string         `json:"notes"`
	StockItems    []StockLine    `json:"stockItems"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

type ShipmentSummary struct {
	Shipment
	OrderCount int `json:"orderCount"`
}

type ShipmentDetail struct {
	Shipment
	Orders []Order `json:"orders"`
}

// StagedStockLine is a staged line hydrated with the live USA row.
type StagedStockLine struct {
	StockLine
	CurrentQty int      `json:"currentQty"`
	Tags       []string `json:"tags"`
	Missing    bool     `json:"missing"`
}

type Dashboard struct {
	TotalThisMonth     int     `json:"totalThisMonth"`
	PendingPurchase    int     `json:"pendingPurchase"`
	InBangladesh       int     `json:"inBangladesh"`
	OutstandingBalance float64 `json:"outstandingBalance"`
}

type LowStockReport struct {
	Threshold int          `json:"threshold"`
	Items     []StockLevel `json:"items"`
}

type Actor struct {
	Username string
	Role     string
}

func (a Actor) Authenticated() bool {
	return strings.TrimSpace(a.Username) != "" && a.Role != ""
}

const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleSystem    = "system"
)

// UserAccount is an internal persistence model for operator credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
