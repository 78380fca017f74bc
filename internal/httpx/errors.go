package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/ariefcatur/go-cart-orders/internal/domain"
)

const (
	codeInvalidRequestBody = "invalid_request_body"
	codeInvalidPage        = "invalid_page"
	codeMemberRequired     = "member_required"
	codeMemberNotFound     = "member_not_found"
	codeItemNotFound       = "item_not_found"
	codeCartNotFound       = "cart_not_found"
	codeCartLineNotFound   = "cart_line_not_found"
	codeOrderNotFound      = "order_not_found"
	codeNotFound           = "not_found"
	codeForbidden          = "forbidden"
	codeInvalidQuantity    = "invalid_quantity"
	codeEmptySelection     = "empty_selection"
	codeVersionRequired    = "version_required"
	codeInvalidArgument    = "invalid_argument"
	codeOrderCancelled     = "order_already_cancelled"
	codeInsufficientStock  = "insufficient_stock"
	codeInvalidState       = "invalid_state"
	codeVersionConflict    = "version_conflict"
	codeConflict           = "conflict"
	codeTimeout            = "timeout"
	codeInternalError      = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// specific errors are matched before their kinds.
var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrMemberNotFound, http.StatusNotFound, codeMemberNotFound},
	{domain.ErrItemNotFound, http.StatusNotFound, codeItemNotFound},
	{domain.ErrCartNotFound, http.StatusNotFound, codeCartNotFound},
	{domain.ErrCartLineNotFound, http.StatusNotFound, codeCartLineNotFound},
	{domain.ErrOrderNotFound, http.StatusNotFound, codeOrderNotFound},
	{domain.ErrNotFound, http.StatusNotFound, codeNotFound},
	{domain.ErrUnauthorized, http.StatusForbidden, codeForbidden},
	{domain.ErrInvalidQuantity, http.StatusBadRequest, codeInvalidQuantity},
	{domain.ErrEmptySelection, http.StatusBadRequest, codeEmptySelection},
	{domain.ErrVersionRequired, http.StatusBadRequest, codeVersionRequired},
	{domain.ErrInvalidArgument, http.StatusBadRequest, codeInvalidArgument},
	{domain.ErrOrderCancelled, http.StatusConflict, codeOrderCancelled},
	{domain.ErrInsufficientStock, http.StatusConflict, codeInsufficientStock},
	{domain.ErrInvalidState, http.StatusConflict, codeInvalidState},
	{domain.ErrVersionConflict, http.StatusConflict, codeVersionConflict},
	{domain.ErrConflict, http.StatusConflict, codeConflict},
}

// writeErr maps a service error onto a status code and a machine-readable code.
func writeErr(w http.ResponseWriter, err error) {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			writeError(w, ec.status, ec.code, err.Error())
			return
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, codeTimeout, "request timed out")
		return
	}
	log.Printf("httpx: internal error: %v", err)
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
