package handler

import (
	"net/http"

	"github.com/xenking/retail-ledger/internal/domain/sale"
)

// createSale handles POST /sales. Only the id and number are returned; a
// failed sale never exposes a partial id.
func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	sid, err := storeID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createSaleRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	created, err := h.sales.AddSaleWithCoupon(r.Context(), sid, sale.Request{
		Lines:         toLines(req.Products),
		PaymentMethod: sale.PaymentMethod(req.PaymentMethod),
	}, req.CouponCode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSaleResponse{ID: created.ID, Number: created.Number})
}

// listSales handles GET /sales with at most one filter: a startDate and
// endDate pair, paymentMethod or productId.
func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	sid, err := storeID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	start, end := q.Get("startDate"), q.Get("endDate")
	method, productID := q.Get("paymentMethod"), q.Get("productId")

	filters := 0
	for _, set := range []bool{start != "" || end != "", method != "", productID != ""} {
		if set {
			filters++
		}
	}
	if filters > 1 {
		writeError(w, r, badRequestf("use one of date range, paymentMethod or productId"))
		return
	}

	var sales []sale.Sale
	switch {
	case start != "" || end != "":
		if start == "" || end == "" {
			writeError(w, r, badRequestf("startDate and endDate are required together"))
			return
		}
		from, perr := parseInstant("startDate", start)
		if perr != nil {
			writeError(w, r, perr)
			return
		}
		to, perr := parseInstant("endDate", end)
		if perr != nil {
			writeError(w, r, perr)
			return
		}
		sales, err = h.sales.ByDateRange(r.Context(), sid, from, to)
	case method != "":
		m, perr := sale.ParsePaymentMethod(method)
		if perr != nil {
			writeError(w, r, perr)
			return
		}
		sales, err = h.sales.ByPaymentMethod(r.Context(), sid, m)
	case productID != "":
		pid, perr := parseID("productId", productID)
		if perr != nil {
			writeError(w, r, perr)
			return
		}
		sales, err = h.sales.ByProduct(r.Context(), sid, pid)
	default:
		sales, err = h.sales.All(r.Context(), sid)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSales(sales))
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	sid, saleID, err := storeAnd(r, "saleID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.sales.Get(r.Context(), sid, saleID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSale(v))
}

// updateSale handles PUT /sales/{saleID}. Lines are re-priced at the
// sale's original time.
func (h *Handler) updateSale(w http.ResponseWriter, r *http.Request) {
	sid, saleID, err := storeAnd(r, "saleID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req updateSaleRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var c sale.Change
	if req.PaymentMethod != nil {
		m := sale.PaymentMethod(*req.PaymentMethod)
		c.PaymentMethod = &m
	}
	c.Lines = toLines(req.Products)

	v, err := h.sales.Update(r.Context(), sid, saleID, c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSale(v))
}

func (h *Handler) deleteSale(w http.ResponseWriter, r *http.Request) {
	sid, saleID, err := storeAnd(r, "saleID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.sales.Delete(r.Context(), sid, saleID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// applicableCoupons handles POST /sales/coupons: the coupons valid now for
// any product of a prospective sale.
func (h *Handler) applicableCoupons(w http.ResponseWriter, r *http.Request) {
	sid, err := storeID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req productsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cs, err := h.sales.GetApplicableCoupons(r.Context(), sid, toLines(req.Products))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCoupons(cs))
}
