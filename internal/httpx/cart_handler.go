package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-cart-orders/internal/cart"
	"github.com/go-chi/chi/v5"
)

type CartHandler struct {
	Service *cart.Service
}

type addLineReq struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type updateLineReq struct {
	Quantity int `json:"quantity"`
	Version  int `json:"version"`
}

func (h *CartHandler) Register(r chi.Router) {
	r.Route("/cart", func(r chi.Router) {
		r.Use(RequireMember)
		r.Delete("/", h.clear)
		r.Get("/summary", h.summary)
		r.Get("/count", h.count)
		r.Post("/lines", h.addLine)
		r.Get("/lines", h.listLines)
		r.Patch("/lines/{id}", h.updateLine)
		r.Delete("/lines/{id}", h.removeLine)
	})
}

func (h *CartHandler) addLine(w http.ResponseWriter, r *http.Request) {
	var req addLineReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id, err := h.Service.AddItem(ctx, memberFrom(ctx), req.ItemID, req.Quantity)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"cart_line_id": id})
}

func (h *CartHandler) listLines(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	lines, err := h.Service.ListLines(ctx, memberFrom(ctx))
	if err != nil {
		writeErr(w, err)
		return
	}
	if lines == nil {
		lines = []cart.LineView{}
	}
	writeJSON(w, http.StatusOK, lines)
}

func (h *CartHandler) summary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	sum, err := h.Service.Summarize(ctx, memberFrom(ctx))
	if err != nil {
		writeErr(w, err)
		return
	}
	if sum.Lines == nil {
		sum.Lines = []cart.LineView{}
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *CartHandler) count(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	n, err := h.Service.CountLines(ctx, memberFrom(ctx))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *CartHandler) updateLine(w http.ResponseWriter, r *http.Request) {
	var req updateLineReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	err := h.Service.UpdateQuantity(ctx, cart.UpdateQuantityInput{
		LineID:   chi.URLParam(r, "id"),
		MemberID: memberFrom(ctx),
		Quantity: req.Quantity,
		Version:  req.Version,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) removeLine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Service.RemoveLine(ctx, chi.URLParam(r, "id"), memberFrom(ctx)); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) clear(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Service.Clear(ctx, memberFrom(ctx)); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
