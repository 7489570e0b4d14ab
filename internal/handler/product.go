package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/retail-ledger/internal/domain/pricing"
)

// getProduct returns the product with the price point in effect now, if
// it has one.
func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	sid, pid, err := storeAnd(r, "productID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.products.GetByID(r.Context(), sid, pid)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var current *pricing.PricePoint
	pp, err := h.products.PriceAt(r.Context(), sid, pid, h.now())
	switch {
	case err == nil:
		current = &pp
	case !errors.Is(err, pricing.ErrNotPriced):
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProduct(p, current))
}

func (h *Handler) priceAt(w http.ResponseWriter, r *http.Request) {
	sid, pid, err := storeAnd(r, "productID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	at, err := h.instantParam(r, "at")
	if err != nil {
		writeError(w, r, err)
		return
	}
	pp, err := h.products.PriceAt(r.Context(), sid, pid, at)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPrice(pp))
}

func (h *Handler) priceHistory(w http.ResponseWriter, r *http.Request) {
	sid, pid, err := storeAnd(r, "productID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	history, err := h.products.History(r.Context(), sid, pid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]priceResponse, len(history))
	for i, pp := range history {
		out[i] = toPrice(pp)
	}
	writeJSON(w, http.StatusOK, out)
}

// changePrice handles POST /prices. A triplet equal to the current one is
// not recorded again and answers 200 with the existing price point.
func (h *Handler) changePrice(w http.ResponseWriter, r *http.Request) {
	sid, pid, err := storeAnd(r, "productID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req priceRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	pp, changed, err := h.products.ChangePrice(r.Context(), sid, pid, pricing.Triplet{
		Price:     req.Price,
		Wholesale: req.WholesalePrice,
		Retail:    req.RetailPrice,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if changed {
		status = http.StatusCreated
	}
	writeJSON(w, status, toPrice(pp))
}

// productCoupons handles GET /products/{productID}/coupons?at=: coupons
// valid at the instant that apply to the product or the whole cart.
func (h *Handler) productCoupons(w http.ResponseWriter, r *http.Request) {
	sid, pid, err := storeAnd(r, "productID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	at, err := h.instantParam(r, "at")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.products.GetByID(r.Context(), sid, pid); err != nil {
		writeError(w, r, err)
		return
	}
	cs, err := h.coupons.ApplicableTo(r.Context(), sid, pid, at)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCoupons(cs))
}
