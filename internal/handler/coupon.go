package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/retail-ledger/internal/domain/coupon"
)

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	sid, err := storeID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req couponRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.coupons.Add(r.Context(), sid, req.domain())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCoupon(c))
}

// validateCoupon handles POST /coupons/validate: whether the code can be
// applied to a sale right now.
func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	sid, err := storeID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req validateCouponRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.CouponCode) == "" {
		writeError(w, r, badRequestf("couponCode required"))
		return
	}
	ok, err := h.sales.ValidateCouponForSale(r.Context(), sid, req.CouponCode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validResponse{CouponCode: req.CouponCode, Valid: ok})
}

// listCoupons handles GET /coupons?category=&kind=&productIds=1,2. With
// productIds the listing also includes coupons without a product scope.
func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	sid, err := storeID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()

	var f coupon.Filter
	if q.Has("category") {
		category := q.Get("category")
		f.Category = &category
	}
	if raw := q.Get("kind"); raw != "" {
		if f.Kind, err = coupon.ParseKind(raw); err != nil {
			writeError(w, r, badRequestf("%v", err))
			return
		}
	}
	if raw := q.Get("productIds"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				writeError(w, r, badRequestf("invalid productIds %q", raw))
				return
			}
			f.ProductIDs = append(f.ProductIDs, id)
		}
		f.IncludeUnscoped = true
	}

	cs, err := h.coupons.List(r.Context(), sid, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCoupons(cs))
}

func (h *Handler) getCoupon(w http.ResponseWriter, r *http.Request) {
	sid, err := storeID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.coupons.GetByCode(r.Context(), sid, chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCoupon(c))
}

// updateCoupon handles PUT /coupons/{code}. The merged coupon must still
// carry exactly one discount.
func (h *Handler) updateCoupon(w http.ResponseWriter, r *http.Request) {
	sid, err := storeID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req couponPatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.coupons.Update(r.Context(), sid, chi.URLParam(r, "code"), req.domain())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCoupon(c))
}

func (h *Handler) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	sid, err := storeID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.coupons.Delete(r.Context(), sid, chi.URLParam(r, "code")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// couponValid handles GET /coupons/{code}/valid?at=. Unknown codes are
// reported as not valid.
func (h *Handler) couponValid(w http.ResponseWriter, r *http.Request) {
	sid, err := storeID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	at, err := h.instantParam(r, "at")
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := chi.URLParam(r, "code")
	ok, err := h.coupons.IsValid(r.Context(), sid, code, at)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validResponse{CouponCode: code, Valid: ok})
}
