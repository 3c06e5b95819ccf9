package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"serene/backend/internal/cache"
	"serene/backend/internal/domain"
	"serene/backend/internal/ledger"
	"serene/backend/internal/service"
	"serene/backend/internal/store/memory"
)

const testAdminPassword = "correct-horse-battery"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	return newTestAPIWithCache(t, nil)
}

func newTestAPIWithCache(t *testing.T, idem cache.IdempotencyCache) *API {
	t.Helper()

	repo := memory.New()
	svc := service.New(repo, ledger.New(ledger.DefaultLowStockThreshold), nil, zap.NewNop())
	auth := NewAuthManager(strings.Repeat("t", 32), time.Hour, repo)
	if err := auth.EnsureOperator(context.Background(), "admin", testAdminPassword, domain.RoleAdmin); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}

	opts := Options{AllowedOrigin: "*", Logger: zap.NewNop()}
	if idem != nil {
		opts.Idempotency = idem
	}
	return New(svc, auth, opts)
}

// gatedIdempotency holds the first n lookups until all of them have
// arrived, so concurrent retries all miss before any of them creates.
type gatedIdempotency struct {
	cache.IdempotencyCache
	arrivals sync.WaitGroup
	seen     atomic.Int32
	n        int32
}

func newGatedIdempotency(n int) *gatedIdempotency {
	g := &gatedIdempotency{IdempotencyCache: cache.NewMemoryIdempotencyCache(), n: int32(n)}
	g.arrivals.Add(n)
	return g
}

func (g *gatedIdempotency) Get(ctx context.Context, key string) (*domain.CreateOrderResponse, bool, error) {
	if g.seen.Add(1) <= g.n {
		g.arrivals.Done()
		g.arrivals.Wait()
	}
	return g.IdempotencyCache.Get(ctx, key)
}

func login(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := do(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: testAdminPassword})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	decodeBody(t, rec, &resp)
	return resp.AccessToken
}

func do(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return doWithHeaders(t, handler, method, path, token, body, nil)
}

func doWithHeaders(t *testing.T, handler http.Handler, method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decodeBody(t, rec, &body)
	return body["error"]
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := do(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLoginAndMe(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler)

	rec := do(t, handler, http.MethodGet, "/api/v1/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var me map[string]string
	decodeBody(t, rec, &me)
	if me["username"] != "admin" || me["role"] != domain.RoleAdmin {
		t.Fatalf("unexpected identity %v", me)
	}

	rec = do(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "nope-nope"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	handler := newTestAPI(t).Handler()

	for _, path := range []string{"/api/v1/orders", "/api/v1/dashboard", "/api/v1/inventory/bd", "/api/v1/shipments"} {
		rec := do(t, handler, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rec.Code)
		}
	}

	rec := do(t, handler, http.MethodGet, "/api/v1/orders", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestOrderFlowOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler)

	rec := do(t, handler, http.MethodPost, "/api/v1/buyers", token, domain.BuyerCreateRequest{Name: "Rakib Hassan"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create buyer: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var buyer domain.Buyer
	decodeBody(t, rec, &buyer)

	rec = do(t, handler, http.MethodPost, "/api/v1/inventory/bd", token, domain.BdItemCreateRequest{ProductName: "Butter Lip Balm", Qty: 5})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create bd item: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var item domain.BdInventoryItem
	decodeBody(t, rec, &item)

	rec = do(t, handler, http.MethodPost, "/api/v1/orders", token, domain.OrderCreateRequest{
		BuyerID: buyer.ID, ProductName: "butter lip balm", Qty: 2, SellPriceBDT: 1200, Source: domain.SourceBDStock,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Order struct {
			ID         string  `json:"id"`
			Status     string  `json:"status"`
			BalanceDue float64 `json:"balanceDue"`
		} `json:"order"`
	}
	decodeBody(t, rec, &created)
	if created.Order.Status != string(domain.OrderInBangladesh) {
		t.Fatalf("expected IN_BANGLADESH, got %s", created.Order.Status)
	}
	if created.Order.BalanceDue != 1200 {
		t.Fatalf("expected balanceDue 1200, got %v", created.Order.BalanceDue)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/inventory/bd/"+item.ID, token, nil)
	decodeBody(t, rec, &item)
	if item.Qty != 3 {
		t.Fatalf("expected bd qty 3 after deduction, got %d", item.Qty)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/orders?status=IN_BANGLADESH", token, nil)
	var page domain.OrderPage
	decodeBody(t, rec, &page)
	if page.Total != 1 || page.PageSize != domain.OrderPageSize {
		t.Fatalf("unexpected page %+v", page)
	}

	rec = do(t, handler, http.MethodDelete, "/api/v1/buyers/"+buyer.ID, token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("delete buyer with orders: expected 400, got %d", rec.Code)
	}
	if msg := errorMessage(t, rec); msg != "Cannot delete buyer with existing orders." {
		t.Fatalf("unexpected message %q", msg)
	}

	rec = do(t, handler, http.MethodDelete, "/api/v1/orders/"+created.Order.ID, token, nil)
	var deleted domain.DeleteResponse
	decodeBody(t, rec, &deleted)
	if !deleted.Deleted || !deleted.Restored {
		t.Fatalf("expected delete with restore, got %+v", deleted)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler)

	rec := do(t, handler, http.MethodGet, "/api/v1/orders/ord_missing", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if msg := errorMessage(t, rec); msg != "Order not found." {
		t.Fatalf("unexpected message %q", msg)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/orders?page=0", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for page=0, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodPost, "/api/v1/orders", token, map[string]any{"buyerId": "x", "unknown": true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestCreateOrderReplaysIdempotencyKey(t *testing.T) {
	idem := cache.NewMemoryIdempotencyCache()
	handler := newTestAPIWithCache(t, idem).Handler()
	token := login(t, handler)

	rec := do(t, handler, http.MethodPost, "/api/v1/buyers", token, domain.BuyerCreateRequest{Name: "Suma Akter"})
	var buyer domain.Buyer
	decodeBody(t, rec, &buyer)

	req := domain.OrderCreateRequest{BuyerID: buyer.ID, ProductName: "Lip Oil", Qty: 1, SellPriceBDT: 900, Source: domain.SourcePreOrder}
	headers := map[string]string{"Idempotency-Key": "retry-1"}

	first := doWithHeaders(t, handler, http.MethodPost, "/api/v1/orders", token, req, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("first create: expected 201, got %d (%s)", first.Code, first.Body.String())
	}
	if first.Header().Get("Idempotent-Replay") != "" {
		t.Fatalf("first response must not be marked as replay")
	}

	second := doWithHeaders(t, handler, http.MethodPost, "/api/v1/orders", token, req, headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("replay: expected 201, got %d", second.Code)
	}
	if second.Header().Get("Idempotent-Replay") != "true" {
		t.Fatalf("expected Idempotent-Replay header on replay")
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/orders", token, nil)
	var page domain.OrderPage
	decodeBody(t, rec, &page)
	if page.Total != 1 {
		t.Fatalf("expected exactly one order after replay, got %d", page.Total)
	}
}

func TestConcurrentRetriesCreateOneOrder(t *testing.T) {
	const retries = 2
	handler := newTestAPIWithCache(t, newGatedIdempotency(retries)).Handler()
	token := login(t, handler)

	rec := do(t, handler, http.MethodPost, "/api/v1/buyers", token, domain.BuyerCreateRequest{Name: "Nusrat Jahan"})
	var buyer domain.Buyer
	decodeBody(t, rec, &buyer)
	rec = do(t, handler, http.MethodPost, "/api/v1/inventory/bd", token, domain.BdItemCreateRequest{ProductName: "Butter Lip Balm", Qty: 5})
	var item domain.BdInventoryItem
	decodeBody(t, rec, &item)

	req := domain.OrderCreateRequest{BuyerID: buyer.ID, ProductName: "Butter Lip Balm", Qty: 1, SellPriceBDT: 650, Source: domain.SourceBDStock}
	headers := map[string]string{"Idempotency-Key": "k1"}

	recs := make([]*httptest.ResponseRecorder, retries)
	var wg sync.WaitGroup
	for i := range recs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recs[i] = doWithHeaders(t, handler, http.MethodPost, "/api/v1/orders", token, req, headers)
		}()
	}
	wg.Wait()

	created := 0
	for _, rec := range recs {
		switch {
		case rec.Code == http.StatusCreated && rec.Header().Get("Idempotent-Replay") == "":
			created++
		case rec.Code == http.StatusCreated, rec.Code == http.StatusConflict:
		default:
			t.Fatalf("unexpected status %d (%s)", rec.Code, rec.Body.String())
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one fresh create, got %d", created)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/orders", token, nil)
	var page domain.OrderPage
	decodeBody(t, rec, &page)
	if page.Total != 1 {
		t.Fatalf("expected one order, got %d", page.Total)
	}
	rec = do(t, handler, http.MethodGet, "/api/v1/inventory/bd/"+item.ID, token, nil)
	decodeBody(t, rec, &item)
	if item.Qty != 4 {
		t.Fatalf("expected a single deduction leaving 4, got %d", item.Qty)
	}
}

func TestShipmentFlowOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler)

	rec := do(t, handler, http.MethodPost, "/api/v1/inventory/usa", token, domain.UsaItemCreateRequest{ProductName: "Hydro Boost Water Gel", Qty: 4})
	var usa domain.UsaInventoryItem
	decodeBody(t, rec, &usa)

	rec = do(t, handler, http.MethodPost, "/api/v1/shipments", token, domain.ShipmentCreateRequest{Name: "February Batch 1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create shipment: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var shipment domain.Shipment
	decodeBody(t, rec, &shipment)

	rec = do(t, handler, http.MethodPost, "/api/v1/shipments/"+shipment.ID+"/stock", token, domain.StagedStockRequest{
		StockItems: []domain.StockLine{{UsaInventoryID: usa.ID, QtyToShip: 5}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("over-staging: expected 400, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodPost, "/api/v1/shipments/"+shipment.ID+"/stock", token, domain.StagedStockRequest{
		StockItems: []domain.StockLine{{UsaInventoryID: usa.ID, QtyToShip: 4}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("stage stock: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/shipments/"+shipment.ID+"/stock", token, nil)
	var view domain.StagedStockView
	decodeBody(t, rec, &view)
	if len(view.StockItems) != 1 || view.StockItems[0].CurrentQty != 4 {
		t.Fatalf("unexpected staged view %+v", view)
	}

	if rec := do(t, handler, http.MethodPost, "/api/v1/shipments/"+shipment.ID+"/dispatch", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("dispatch: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = do(t, handler, http.MethodPost, "/api/v1/shipments/"+shipment.ID+"/arrive", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("arrive: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var arrived domain.ArriveResponse
	decodeBody(t, rec, &arrived)
	if !arrived.Arrived || arrived.StockItemsMoved != 1 {
		t.Fatalf("unexpected arrive response %+v", arrived)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/inventory/usa/"+usa.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("drained usa row: expected 200, got %d", rec.Code)
	}
	var drained domain.UsaInventoryItem
	decodeBody(t, rec, &drained)
	if drained.Qty != 0 {
		t.Fatalf("drained usa row: expected qty 0, got %d", drained.Qty)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/inventory/low-stock", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("low stock: expected 200, got %d", rec.Code)
	}
}
