package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/retail-ledger/internal/domain/coupon"
	"github.com/xenking/retail-ledger/internal/domain/pricing"
	"github.com/xenking/retail-ledger/internal/domain/product"
	"github.com/xenking/retail-ledger/internal/domain/sale"
)

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequestf("request body required")
		}
		return badRequestf("invalid request body: %v", err)
	}
	return nil
}

// money renders amounts with two decimals as a JSON number.
type money decimal.Decimal

func (m money) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(m).StringFixed(2)), nil
}

// number renders a decimal as a JSON number without padding.
type number decimal.Decimal

func (n number) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(n).String()), nil
}

func optNumber(d *decimal.Decimal) *number {
	if d == nil {
		return nil
	}
	n := number(*d)
	return &n
}

// nullable tells an absent field from an explicit null.
type nullable[T any] coupon.Nullable[T]

func (n *nullable[T]) UnmarshalJSON(b []byte) error {
	n.Set = true
	if string(b) == "null" {
		n.Null = true
		return nil
	}
	return json.Unmarshal(b, &n.Value)
}

type lineRequest struct {
	ProductID int64           `json:"productId"`
	Quantity  decimal.Decimal `json:"quantity"`
}

func toLines(in []lineRequest) []sale.LineRequest {
	if in == nil {
		return nil
	}
	out := make([]sale.LineRequest, len(in))
	for i, l := range in {
		out[i] = sale.LineRequest{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	return out
}

type createSaleRequest struct {
	Products      []lineRequest `json:"products"`
	PaymentMethod string        `json:"paymentMethod"`
	CouponCode    string        `json:"couponCode,omitempty"`
}

type createSaleResponse struct {
	ID     int64 `json:"id"`
	Number int64 `json:"number"`
}

type updateSaleRequest struct {
	PaymentMethod *string `json:"paymentMethod,omitempty"`
	// Absent keeps the recorded lines.
	Products []lineRequest `json:"products,omitempty"`
}

type productsRequest struct {
	Products []lineRequest `json:"products"`
}

type lineResponse struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"productId"`
	Quantity  number `json:"quantity"`
	UnitPrice money  `json:"unitPrice"`
	Amount    money  `json:"amount"`
}

type saleResponse struct {
	ID            int64          `json:"id"`
	Number        int64          `json:"number"`
	CreatedAt     time.Time      `json:"createdAt"`
	PaymentMethod string         `json:"paymentMethod"`
	Subtotal      money          `json:"subtotal"`
	Discount      money          `json:"discount"`
	Total         money          `json:"total"`
	CouponCode    string         `json:"couponCode,omitempty"`
	Lines         []lineResponse `json:"lines"`
}

func toSale(s sale.Sale) saleResponse {
	lines := make([]lineResponse, len(s.Lines))
	for i, l := range s.Lines {
		lines[i] = lineResponse{
			ID:        l.ID,
			ProductID: l.ProductID,
			Quantity:  number(l.Quantity),
			UnitPrice: money(l.UnitPrice),
			Amount:    money(l.Amount()),
		}
	}
	return saleResponse{
		ID:            s.ID,
		Number:        s.Number,
		CreatedAt:     s.CreatedAt,
		PaymentMethod: string(s.PaymentMethod),
		Subtotal:      money(s.Subtotal),
		Discount:      money(s.Discount),
		Total:         money(s.Total),
		CouponCode:    s.CouponCode,
		Lines:         lines,
	}
}

func toSales(in []sale.Sale) []saleResponse {
	out := make([]saleResponse, len(in))
	for i, s := range in {
		out[i] = toSale(s)
	}
	return out
}

type couponRequest struct {
	CouponCode     string           `json:"couponCode"`
	Description    string           `json:"description,omitempty"`
	Category       string           `json:"category,omitempty"`
	Discount       *decimal.Decimal `json:"discount,omitempty"`
	DiscountAmount *decimal.Decimal `json:"discountAmount,omitempty"`
	ProdID         *int64           `json:"prodId,omitempty"`
	ValidFrom      *time.Time       `json:"validFrom,omitempty"`
	ValidUntil     *time.Time       `json:"validUntil,omitempty"`
}

func (c couponRequest) domain() coupon.Request {
	return coupon.Request{
		Code:        c.CouponCode,
		Description: c.Description,
		Category:    c.Category,
		ProductID:   c.ProdID,
		ValidFrom:   c.ValidFrom,
		ValidUntil:  c.ValidUntil,
		Percentage:  c.Discount,
		Amount:      c.DiscountAmount,
	}
}

// couponPatchRequest updates only the fields present in the body. An
// explicit null clears an optional field.
type couponPatchRequest struct {
	CouponCode     *string                   `json:"couponCode"`
	Description    *string                   `json:"description"`
	Category       *string                   `json:"category"`
	Discount       nullable[decimal.Decimal] `json:"discount"`
	DiscountAmount nullable[decimal.Decimal] `json:"discountAmount"`
	ProdID         nullable[int64]           `json:"prodId"`
	ValidFrom      *time.Time                `json:"validFrom"`
	ValidUntil     nullable[time.Time]       `json:"validUntil"`
}

func (p couponPatchRequest) domain() coupon.Patch {
	return coupon.Patch{
		Code:        p.CouponCode,
		Description: p.Description,
		Category:    p.Category,
		ProductID:   coupon.Nullable[int64](p.ProdID),
		ValidFrom:   p.ValidFrom,
		ValidUntil:  coupon.Nullable[time.Time](p.ValidUntil),
		Percentage:  coupon.Nullable[decimal.Decimal](p.Discount),
		Amount:      coupon.Nullable[decimal.Decimal](p.DiscountAmount),
	}
}

type validateCouponRequest struct {
	CouponCode string `json:"couponCode"`
}

type validResponse struct {
	CouponCode string `json:"couponCode"`
	Valid      bool   `json:"valid"`
}

type couponResponse struct {
	ID             int64      `json:"id"`
	CouponCode     string     `json:"couponCode"`
	Description    string     `json:"description,omitempty"`
	Category       string     `json:"category,omitempty"`
	Kind           string     `json:"kind"`
	Discount       *number    `json:"discount,omitempty"`
	DiscountAmount *number    `json:"discountAmount,omitempty"`
	ProdID         *int64     `json:"prodId,omitempty"`
	ValidFrom      time.Time  `json:"validFrom"`
	ValidUntil     *time.Time `json:"validUntil,omitempty"`
}

func toCoupon(c coupon.Coupon) couponResponse {
	return couponResponse{
		ID:             c.ID,
		CouponCode:     c.Code,
		Description:    c.Description,
		Category:       c.Category,
		Kind:           string(c.Kind()),
		Discount:       optNumber(c.Percentage),
		DiscountAmount: optNumber(c.Amount),
		ProdID:         c.ProductID,
		ValidFrom:      c.ValidFrom,
		ValidUntil:     c.ValidUntil,
	}
}

func toCoupons(in []coupon.Coupon) []couponResponse {
	out := make([]couponResponse, len(in))
	for i, c := range in {
		out[i] = toCoupon(c)
	}
	return out
}

type priceRequest struct {
	Price          decimal.Decimal `json:"price"`
	WholesalePrice decimal.Decimal `json:"wholesalePrice"`
	RetailPrice    decimal.Decimal `json:"retailPrice"`
}

type priceResponse struct {
	ID             int64     `json:"id"`
	Price          money     `json:"price"`
	WholesalePrice money     `json:"wholesalePrice"`
	RetailPrice    money     `json:"retailPrice"`
	EffectiveAt    time.Time `json:"effectiveAt"`
}

func toPrice(pp pricing.PricePoint) priceResponse {
	return priceResponse{
		ID:             pp.ID,
		Price:          money(pp.Triplet.Price),
		WholesalePrice: money(pp.Triplet.Wholesale),
		RetailPrice:    money(pp.Triplet.Retail),
		EffectiveAt:    pp.EffectiveAt,
	}
}

type productResponse struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Barcode      *string        `json:"barcode,omitempty"`
	Stock        number         `json:"stock"`
	MinStock     number         `json:"minStock"`
	BelowMinimum bool           `json:"belowMinimum"`
	Price        *priceResponse `json:"price,omitempty"`
}

func toProduct(p product.Product, current *pricing.PricePoint) productResponse {
	resp := productResponse{
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		Barcode:      p.Barcode,
		Stock:        number(p.Stock),
		MinStock:     number(p.MinStock),
		BelowMinimum: p.BelowMinimum(),
	}
	if current != nil {
		pr := toPrice(*current)
		resp.Price = &pr
	}
	return resp
}

// parseInstant accepts epoch seconds or RFC 3339.
func parseInstant(name, raw string) (time.Time, error) {
	if sec, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, badRequestf("invalid %s %q: want epoch seconds or RFC 3339", name, raw)
	}
	return t, nil
}
