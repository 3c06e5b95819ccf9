package domain

import "time"

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type BuyerCreateRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Notes   string `json:"notes"`
}

type BuyerUpdateRequest struct {
	Name    *string `json:"name,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Address *string `json:"address,omitempty"`
	Notes   *string `json:"notes,omitempty"`
}

type OrderCreateRequest struct {
	BuyerID      string       `json:"buyerId"`
	ProductName  string       `json:"productName"`
	Brand        *string      `json:"brand,omitempty"`
	Shade        *string      `json:"shade,omitempty"`
	Qty          int          `json:"qty"`
	SellPriceBDT float64      `json:"sellPriceBdt"`
	DepositBDT   *float64     `json:"depositBdt,omitempty"`
	BuyPriceUSD  *float64     `json:"buyPriceUsd,omitempty"`
	Source       Source       `json:"source"`
	Status       *OrderStatus `json:"status,omitempty"`
	Notes        string       `json:"notes"`
}

// OrderUpdateRequest applies only the fields that are present. An empty
// brand or shade clears it.
type OrderUpdateRequest struct {
	BuyerID      *string      `json:"buyerId,omitempty"`
	ProductName  *string      `json:"productName,omitempty"`
	Brand        *string      `json:"brand,omitempty"`
	Shade        *string      `json:"shade,omitempty"`
	Qty          *int         `json:"qty,omitempty"`
	SellPriceBDT *float64     `json:"sellPriceBdt,omitempty"`
	DepositBDT   *float64     `json:"depositBdt,omitempty"`
	BuyPriceUSD  *float64     `json:"buyPriceUsd,omitempty"`
	Source       *Source      `json:"source,omitempty"`
	Status       *OrderStatus `json:"status,omitempty"`
	Notes        *string      `json:"notes,omitempty"`
}

type OrderFilter struct {
	Status  OrderStatus
	Source  Source
	BuyerID string
	BatchID string
	Search  string
	Page    int
}

const OrderPageSize = 50

type OrderPage struct {
	Orders   []Order `json:"orders"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"pageSize"`
}

type CreateOrderResponse struct {
	Order   Order  `json:"order"`
	Warning string `json:"warning,omitempty"`
}

type PurchaseRequest struct {
	BuyPriceUSD float64 `json:"buyPriceUsd"`
	WeightG     float64 `json:"weightG"`
	ExtraQty    int     `json:"extraQty"`
}

type PurchaseResponse struct {
	Order         Order             `json:"order"`
	InventoryItem *UsaInventoryItem `json:"inventoryItem,omitempty"`
	Message       string            `json:"message"`
}

type DeleteResponse struct {
	Deleted  bool `json:"deleted"`
	Restored bool `json:"restored,omitempty"`
}

type BdItemCreateRequest struct {
	ProductName  string   `json:"productName"`
	Brand        *string  `json:"brand,omitempty"`
	Shade        *string  `json:"shade,omitempty"`
	Qty          int      `json:"qty"`
	BuyPriceBDT  *float64 `json:"buyPriceBdt,omitempty"`
	SellPriceBDT *float64 `json:"sellPriceBdt,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

type BdItemUpdateRequest struct {
	ProductName  *string   `json:"productName,omitempty"`
	Brand        *string   `json:"brand,omitempty"`
	Shade        *string   `json:"shade,omitempty"`
	Qty          *int      `json:"qty,omitempty"`
	BuyPriceBDT  *float64  `json:"buyPriceBdt,omitempty"`
	SellPriceBDT *float64  `json:"sellPriceBdt,omitempty"`
	Tags         *[]string `json:"tags,omitempty"`
}

type UsaItemCreateRequest struct {
	ProductName string   `json:"productName"`
	Brand       *string  `json:"brand,omitempty"`
	Shade       *string  `json:"shade,omitempty"`
	Qty         int      `json:"qty"`
	BuyPriceUSD *float64 `json:"buyPriceUsd,omitempty"`
	WeightG     *float64 `json:"weightG,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type UsaItemUpdateRequest struct {
	ProductName *string   `json:"productName,omitempty"`
	Brand       *string   `json:"brand,omitempty"`
	Shade       *string   `json:"shade,omitempty"`
	Qty         *int      `json:"qty,omitempty"`
	BuyPriceUSD *float64  `json:"buyPriceUsd,omitempty"`
	WeightG     *float64  `json:"weightG,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
}

type MoveToBDRequest struct {
	Qty int `json:"qty"`
}

type MoveToBDResponse struct {
	Moved  int              `json:"moved"`
	BdItem BdInventoryItem  `json:"bdItem"`
	Source UsaInventoryItem `json:"usaItem"`
}

type ShipmentCreateRequest struct {
	Name          string     `json:"name"`
	DepartureDate *time.Time `json:"departureDate,omitempty"`
	Notes         string     `json:"notes"`
}

type ShipmentUpdateRequest struct {
	Name          *string    `json:"name,omitempty"`
	DepartureDate *time.Time `json:"departureDate,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
}

type AssignOrdersRequest struct {
	OrderIDs []string `json:"orderIds"`
}

type AssignOrdersResponse struct {
	Assigned int `json:"assigned"`
}

type StagedStockRequest struct {
	StockItems []StockLine `json:"stockItems"`
}

type StagedStockResponse struct {
	StockItems []StockLine `json:"stockItems"`
}

type StagedStockView struct {
	ShipmentID string            `json:"shipmentId"`
	Status     ShipmentStatus    `json:"status"`
	StockItems []StagedStockLine `json:"stockItems"`
}

type ArriveResponse struct {
	Arrived         bool `json:"arrived"`
	OrdersUpdated   int  `json:"ordersUpdated"`
	StockItemsMoved int  `json:"stockItemsMoved"`
}
