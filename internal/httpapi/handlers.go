package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"serene/backend/internal/cache"
	"serene/backend/internal/domain"
	"serene/backend/internal/store"
)

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := a.service.Dashboard(r.Context(), actorFrom(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

func (a *API) handleListBuyers(w http.ResponseWriter, r *http.Request) {
	buyers, err := a.service.ListBuyers(r.Context(), actorFrom(r), r.URL.Query().Get("search"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"buyers": buyers})
}

func (a *API) handleCreateBuyer(w http.ResponseWriter, r *http.Request) {
	var req domain.BuyerCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	buyer, err := a.service.CreateBuyer(r.Context(), actorFrom(r), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, buyer)
}

func (a *API) handleGetBuyer(w http.ResponseWriter, r *http.Request) {
	detail, err := a.service.GetBuyer(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleUpdateBuyer(w http.ResponseWriter, r *http.Request) {
	var req domain.BuyerUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	buyer, err := a.service.UpdateBuyer(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buyer)
}

func (a *API) handleDeleteBuyer(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.DeleteBuyer(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.OrderFilter{
		Status:  domain.OrderStatus(strings.TrimSpace(query.Get("status"))),
		Source:  domain.Source(strings.TrimSpace(query.Get("source"))),
		BuyerID: strings.TrimSpace(query.Get("buyerId")),
		BatchID: strings.TrimSpace(query.Get("batchId")),
		Search:  query.Get("search"),
	}
	if raw := strings.TrimSpace(query.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			a.fail(w, r, store.Errorf(store.ErrInvalidInput, "Invalid page."))
			return
		}
		filter.Page = page
	}

	page, err := a.service.ListOrders(r.Context(), actorFrom(r), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleCreateOrder replays the stored response when the operator retries
// with the same Idempotency-Key. The key is reserved before the order is
// created, so a concurrent retry either replays or gets 409.
func (a *API) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	var cacheKey string
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		cacheKey = cache.OrderCreateKey(actor.Username, key)
		if a.replayOrder(w, r, cacheKey) {
			return
		}
		reserved, err := a.idempotency.Reserve(r.Context(), cacheKey, idempotencyPendingTTL)
		if err != nil {
			a.logger.Warn("idempotency reserve failed", zap.String("key", cacheKey), zap.Error(err))
			reserved = true
		}
		if !reserved {
			if a.replayOrder(w, r, cacheKey) {
				return
			}
			writeError(w, http.StatusConflict, errors.New("A request with this Idempotency-Key is already in progress."))
			return
		}
		defer func() {
			if err := a.idempotency.Release(context.WithoutCancel(r.Context()), cacheKey); err != nil {
				a.logger.Warn("idempotency release failed", zap.String("key", cacheKey), zap.Error(err))
			}
		}()
	}

	var req domain.OrderCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.CreateOrder(r.Context(), actor, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	if cacheKey != "" {
		if err := a.idempotency.Set(context.WithoutCancel(r.Context()), cacheKey, &resp, a.idempotencyTTL); err != nil {
			a.logger.Warn("idempotency store failed", zap.String("key", cacheKey), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

const idempotencyPendingTTL = 30 * time.Second

func (a *API) replayOrder(w http.ResponseWriter, r *http.Request, cacheKey string) bool {
	cached, ok, err := a.idempotency.Get(r.Context(), cacheKey)
	if err != nil {
		a.logger.Warn("idempotency lookup failed", zap.String("key", cacheKey), zap.Error(err))
	}
	if !ok {
		return false
	}
	w.Header().Set("Idempotent-Replay", "true")
	writeJSON(w, http.StatusCreated, cached)
	return true
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.GetOrder(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	order, err := a.service.UpdateOrder(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.DeleteOrder(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.ConfirmPurchase(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.LowStockReport(r.Context(), actorFrom(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleListBd(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.ListBdItems(r.Context(), actorFrom(r), r.URL.Query().Get("search"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCreateBd(w http.ResponseWriter, r *http.Request) {
	var req domain.BdItemCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	item, err := a.service.CreateBdItem(r.Context(), actorFrom(r), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (a *API) handleGetBd(w http.ResponseWriter, r *http.Request) {
	item, err := a.service.GetBdItem(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleUpdateBd(w http.ResponseWriter, r *http.Request) {
	var req domain.BdItemUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	item, err := a.service.UpdateBdItem(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleDeleteBd(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.DeleteBdItem(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListUsa(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.ListUsaItems(r.Context(), actorFrom(r), r.URL.Query().Get("search"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCreateUsa(w http.ResponseWriter, r *http.Request) {
	var req domain.UsaItemCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	item, err := a.service.CreateUsaItem(r.Context(), actorFrom(r), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (a *API) handleGetUsa(w http.ResponseWriter, r *http.Request) {
	item, err := a.service.GetUsaItem(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleUpdateUsa(w http.ResponseWriter, r *http.Request) {
	var req domain.UsaItemUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	item, err := a.service.UpdateUsaItem(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleDeleteUsa(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.DeleteUsaItem(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleMoveToBd(w http.ResponseWriter, r *http.Request) {
	var req domain.MoveToBDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.MoveUsaToBd(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.Qty)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListShipments(w http.ResponseWriter, r *http.Request) {
	shipments, err := a.service.ListShipments(r.Context(), actorFrom(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shipments": shipments})
}

func (a *API) handleCreateShipment(w http.ResponseWriter, r *http.Request) {
	var req domain.ShipmentCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	shipment, err := a.service.CreateShipment(r.Context(), actorFrom(r), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, shipment)
}

func (a *API) handleGetShipment(w http.ResponseWriter, r *http.Request) {
	detail, err := a.service.GetShipment(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleUpdateShipment(w http.ResponseWriter, r *http.Request) {
	var req domain.ShipmentUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	shipment, err := a.service.UpdateShipment(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shipment)
}

func (a *API) handleDeleteShipment(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.DeleteShipment(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAssignOrders(w http.ResponseWriter, r *http.Request) {
	var req domain.AssignOrdersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.AssignOrders(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.OrderIDs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetStagedStock(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.GetStagedStock(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleSetStagedStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StagedStockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.SetStagedStock(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.StockItems)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDispatch(w http.ResponseWriter, r *http.Request) {
	shipment, err := a.service.Dispatch(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shipment)
}

func (a *API) handleArrive(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.Arrive(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
