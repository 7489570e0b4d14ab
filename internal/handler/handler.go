// Package handler exposes the ledger over HTTP. Every route is scoped to a
// store taken from the path; authentication happens in front of this
// service.
package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/retail-ledger/internal/domain/coupon"
	"github.com/xenking/retail-ledger/internal/domain/product"
	"github.com/xenking/retail-ledger/internal/domain/sale"
)

// Handler serves the store-scoped ledger API.
type Handler struct {
	sales    *sale.Service
	coupons  *coupon.Service
	products *product.Service
	now      func() time.Time
}

// NewHandler constructs a Handler with the required domain services.
func NewHandler(sales *sale.Service, coupons *coupon.Service, products *product.Service) *Handler {
	return &Handler{
		sales:    sales,
		coupons:  coupons,
		products: products,
		now:      time.Now,
	}
}

// Routes mounts the API on r under /api/stores/{storeID}.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/stores/{storeID}", func(r chi.Router) {
		r.Route("/sales", func(r chi.Router) {
			r.Post("/", h.createSale)
			r.Get("/", h.listSales)
			r.Post("/coupons", h.applicableCoupons)
			r.Get("/{saleID}", h.getSale)
			r.Put("/{saleID}", h.updateSale)
			r.Delete("/{saleID}", h.deleteSale)
		})
		r.Route("/coupons", func(r chi.Router) {
			r.Post("/", h.createCoupon)
			r.Get("/", h.listCoupons)
			r.Post("/validate", h.validateCoupon)
			r.Get("/{code}", h.getCoupon)
			r.Put("/{code}", h.updateCoupon)
			r.Delete("/{code}", h.deleteCoupon)
			r.Get("/{code}/valid", h.couponValid)
		})
		r.Route("/products/{productID}", func(r chi.Router) {
			r.Get("/", h.getProduct)
			r.Get("/price", h.priceAt)
			r.Get("/prices", h.priceHistory)
			r.Post("/prices", h.changePrice)
			r.Get("/coupons", h.productCoupons)
		})
	})
}

func parseID(name, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequestf("invalid %s %q", name, raw)
	}
	return id, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	return parseID(name, chi.URLParam(r, name))
}

func storeID(r *http.Request) (int64, error) {
	return pathID(r, "storeID")
}

// storeAnd parses the store id and one more numeric path parameter.
func storeAnd(r *http.Request, name string) (int64, int64, error) {
	sid, err := storeID(r)
	if err != nil {
		return 0, 0, err
	}
	id, err := pathID(r, name)
	if err != nil {
		return 0, 0, err
	}
	return sid, id, nil
}

// instantParam reads an optional instant from the query, defaulting to now.
func (h *Handler) instantParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return h.now(), nil
	}
	return parseInstant(name, raw)
}
