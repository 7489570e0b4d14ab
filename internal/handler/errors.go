package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/retail-ledger/internal/domain/coupon"
	"github.com/xenking/retail-ledger/internal/domain/pricing"
	"github.com/xenking/retail-ledger/internal/domain/product"
	"github.com/xenking/retail-ledger/internal/domain/sale"
)

// inputError is a malformed request.
type inputError struct {
	msg string
}

func (e *inputError) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return &inputError{msg: fmt.Sprintf(format, args...)}
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status and a message safe to show the caller.
// Unexpected errors are logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := mapError(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Code: status, Message: msg})
}

func mapError(err error) (int, string) {
	var (
		input       *inputError
		notCreated  *sale.NotCreatedError
		missingLine *sale.ProductNotFoundError
		badQuantity *sale.InvalidQuantityError
		noStock     *product.InsufficientStockError
	)
	switch {
	case errors.As(err, &notCreated):
		return http.StatusInternalServerError, notCreated.Error()
	case errors.As(err, &input):
		return http.StatusBadRequest, input.Error()
	case errors.Is(err, sale.ErrEmptyLines),
		errors.Is(err, sale.ErrInvalidPaymentMethod),
		errors.Is(err, sale.ErrInvalidRange):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, sale.ErrNotFound),
		errors.Is(err, sale.ErrStoreNotFound),
		errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, product.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.As(err, &missingLine):
		return http.StatusUnprocessableEntity, missingLine.Error()
	case errors.As(err, &badQuantity):
		return http.StatusUnprocessableEntity, badQuantity.Error()
	case errors.As(err, &noStock):
		return http.StatusUnprocessableEntity, noStock.Error()
	case errors.Is(err, coupon.ErrRejected),
		errors.Is(err, coupon.ErrDuplicateCode),
		errors.Is(err, sale.ErrNoLines),
		errors.Is(err, pricing.ErrNotPriced),
		errors.Is(err, pricing.ErrDuplicatePricePoint),
		errors.Is(err, product.ErrNegativePrice):
		return http.StatusUnprocessableEntity, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
