package httpx

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-cart-orders/internal/domain"
	"github.com/ariefcatur/go-cart-orders/internal/orders"
	"github.com/ariefcatur/go-cart-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"
)

// HeaderIdempotencyKey makes order placement replay-safe for 24 hours.
const HeaderIdempotencyKey = "Idempotency-Key"

const defaultPageSize = 5

type OrdersHandler struct {
	Service *orders.Service
	// Cache is optional; without it there is no idempotent replay and no order cache.
	Cache    *redisx.Cache
	PageSize int

	sf singleflight.Group
}

type directOrderReq struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type multiOrderReq struct {
	Items []orders.ItemQuantity `json:"items"`
}

type selectionOrderReq struct {
	Lines []orders.SelectedLine `json:"lines"`
}

type PlaceOrderResp struct {
	OrderID    string `json:"order_id"`
	TotalPrice int64  `json:"total_price"`
	Idempotent bool   `json:"idempotent"`
}

type OrderLineView struct {
	ID        string `json:"order_line_id"`
	ItemID    string `json:"item_id"`
	ItemName  string `json:"item_name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Subtotal  int64  `json:"subtotal"`
}

type OrderView struct {
	ID            string          `json:"order_id"`
	MemberID      string          `json:"member_id"`
	Status        domain.Status   `json:"status"`
	TotalQuantity int             `json:"total_quantity"`
	TotalPrice    int64           `json:"total_price"`
	Lines         []OrderLineView `json:"lines"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type HistoryResp struct {
	Orders     []OrderView `json:"orders"`
	Page       int         `json:"page"`
	TotalPages int         `json:"total_pages"`
}

func newOrderView(o domain.Order) OrderView {
	v := OrderView{
		ID:            o.ID,
		MemberID:      o.MemberID,
		Status:        o.Status,
		TotalQuantity: o.TotalQuantity(),
		TotalPrice:    o.Total(),
		Lines:         make([]OrderLineView, 0, len(o.Lines)),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	for _, l := range o.Lines {
		v.Lines = append(v.Lines, OrderLineView{
			ID:        l.ID,
			ItemID:    l.ItemID,
			ItemName:  l.ItemName,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Subtotal:  l.Subtotal(),
		})
	}
	return v
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Use(RequireMember)
		r.Get("/", h.history)
		r.Post("/direct", h.orderDirect)
		r.Post("/multi", h.orderMulti)
		r.Post("/cart-selection", h.orderSelection)
		r.Post("/cart", h.orderCart)
		r.Get("/{id}", h.getOrder)
		r.Post("/{id}/cancel", h.cancel)
	})
}

func (h *OrdersHandler) orderDirect(w http.ResponseWriter, r *http.Request) {
	var req directOrderReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid json")
		return
	}
	h.place(w, r, func(ctx context.Context, memberID string) (domain.Order, error) {
		return h.Service.OrderDirect(ctx, memberID, req.ItemID, req.Quantity)
	})
}

func (h *OrdersHandler) orderMulti(w http.ResponseWriter, r *http.Request) {
	var req multiOrderReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid json")
		return
	}
	h.place(w, r, func(ctx context.Context, memberID string) (domain.Order, error) {
		return h.Service.OrderDirectMulti(ctx, memberID, req.Items)
	})
}

func (h *OrdersHandler) orderSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionOrderReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid json")
		return
	}
	h.place(w, r, func(ctx context.Context, memberID string) (domain.Order, error) {
		return h.Service.OrderFromCartSelection(ctx, memberID, req.Lines)
	})
}

func (h *OrdersHandler) orderCart(w http.ResponseWriter, r *http.Request) {
	h.place(w, r, h.Service.OrderFromWholeCart)
}

// place runs one placement. With an Idempotency-Key a repeated request returns
// the order created by the first one instead of placing another.
func (h *OrdersHandler) place(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, memberID string) (domain.Order, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	memberID := memberFrom(ctx)
	key := r.Header.Get(HeaderIdempotencyKey)

	if key != "" && h.Cache != nil {
		if prev, ok := h.replay(ctx, memberID, key); ok {
			writeJSON(w, http.StatusOK, PlaceOrderResp{OrderID: prev.ID, TotalPrice: prev.Total(), Idempotent: true})
			return
		}
	}

	o, err := fn(ctx, memberID)
	if err != nil {
		writeErr(w, err)
		return
	}

	if key != "" && h.Cache != nil {
		stored, err := h.Cache.RememberOrder(ctx, memberID, key, o.ID)
		switch {
		case err != nil:
			log.Printf("httpx: remember idempotency key member=%s order=%s: %v", memberID, o.ID, err)
		case stored != o.ID:
			log.Printf("httpx: idempotency key %q raced, kept order=%s, also placed order=%s", key, stored, o.ID)
		}
	}
	writeJSON(w, http.StatusCreated, PlaceOrderResp{OrderID: o.ID, TotalPrice: o.Total()})
}

func (h *OrdersHandler) replay(ctx context.Context, memberID, key string) (domain.Order, bool) {
	orderID, err := h.Cache.LookupOrder(ctx, memberID, key)
	if err != nil {
		if !errors.Is(err, redisx.ErrCacheMiss) {
			log.Printf("httpx: idempotency lookup member=%s: %v", memberID, err)
		}
		return domain.Order{}, false
	}
	o, err := h.Service.GetOrder(ctx, orderID, memberID)
	if err != nil {
		log.Printf("httpx: idempotent order %s unreadable: %v", orderID, err)
		return domain.Order{}, false
	}
	return o, true
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	memberID := memberFrom(ctx)

	if h.Cache != nil {
		var v OrderView
		err := h.Cache.CachedOrder(ctx, orderID, &v)
		if err == nil {
			if v.MemberID != memberID {
				writeErr(w, domain.ErrNotOwner)
				return
			}
			writeJSON(w, http.StatusOK, v)
			return
		}
		if !errors.Is(err, redisx.ErrCacheMiss) {
			log.Printf("httpx: order cache read order=%s: %v", orderID, err)
		}
	}

	res, err, _ := h.sf.Do(orderID+"|"+memberID, func() (any, error) {
		o, err := h.Service.GetOrder(ctx, orderID, memberID)
		if err != nil {
			return nil, err
		}
		v := newOrderView(o)
		h.fillCache(ctx, v)
		return v, nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.(OrderView))
}

// fillCache caches a view loaded by a read. It never replaces a cached view, so
// a read that loaded the order before a concurrent cancel cannot undo the view
// the cancel stored.
func (h *OrdersHandler) fillCache(ctx context.Context, v OrderView) {
	if h.Cache == nil {
		return
	}
	if _, err := h.Cache.FillOrder(ctx, v.ID, v); err != nil {
		log.Printf("httpx: order cache fill order=%s: %v", v.ID, err)
	}
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.Cancel(ctx, orderID, memberFrom(ctx))
	if err != nil {
		writeErr(w, err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.CacheOrder(ctx, o.ID, newOrderView(o)); err != nil {
			log.Printf("httpx: order cache write order=%s: %v", o.ID, err)
			if err := h.Cache.InvalidateOrder(ctx, o.ID); err != nil {
				log.Printf("httpx: order cache invalidate order=%s: %v", o.ID, err)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_id": o.ID, "status": o.Status})
}

func (h *OrdersHandler) history(w http.ResponseWriter, r *http.Request) {
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, codeInvalidPage, "page must be a positive integer")
			return
		}
		page = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Service.OrderHistory(ctx, memberFrom(ctx))
	if err != nil {
		writeErr(w, err)
		return
	}
	size := h.PageSize
	if size < 1 {
		size = defaultPageSize
	}
	pageOrders, totalPages := paginate(list, page, size)
	resp := HistoryResp{Orders: make([]OrderView, 0, len(pageOrders)), Page: page, TotalPages: totalPages}
	for _, o := range pageOrders {
		resp.Orders = append(resp.Orders, newOrderView(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

// paginate returns the 1-based page of list and the page count. A page past the
// end is empty.
func paginate[T any](list []T, page, size int) ([]T, int) {
	totalPages := (len(list) + size - 1) / size
	if page > totalPages {
		return nil, totalPages
	}
	start := (page - 1) * size
	end := min(start+size, len(list))
	return list[start:end], totalPages
}
