// Package sale records point-of-sale transactions: multi-line sales with
// store-scoped sequential numbers, stock decrements and an optional coupon
// discount, written as one atomic unit.
package sale

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/retail-ledger/internal/domain/coupon"
	"github.com/xenking/retail-ledger/internal/domain/product"
)

// PaymentMethod is how the customer paid.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "CASH"
	PaymentCard     PaymentMethod = "CARD"
	PaymentTransfer PaymentMethod = "TRANSFER"
)

// ParsePaymentMethod accepts a payment method in any letter case.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(strings.ToUpper(strings.TrimSpace(s))); m {
	case PaymentCash, PaymentCard, PaymentTransfer:
		return m, nil
	default:
		return "", errors.Wrapf(ErrInvalidPaymentMethod, "%q", s)
	}
}

// Sentinel errors for sale validation and lookup.
var (
	ErrEmptyLines           = errors.New("at least one sale line required")
	ErrNoLines              = errors.New("no sale line references an existing product")
	ErrNotFound             = errors.New("sale not found")
	ErrStoreNotFound        = errors.New("store not found")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidRange         = errors.New("range start is after its end")
)

// ProductNotFoundError indicates a sale line references a product the store
// does not have. It is only returned under LineStrict.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// QuantityScale is the number of decimal places a line quantity may carry.
const QuantityScale = 3

// InvalidQuantityError indicates a line whose quantity is not positive or
// has more than QuantityScale decimal places.
type InvalidQuantityError struct {
	ProductID int64
	Quantity  decimal.Decimal
}

func (e *InvalidQuantityError) Error() string {
	if !e.Quantity.IsPositive() {
		return fmt.Sprintf("quantity must be greater than 0 for product %d", e.ProductID)
	}
	return fmt.Sprintf("quantity %s of product %d has more than %d decimal places",
		e.Quantity, e.ProductID, QuantityScale)
}

// NotCreatedError reports that the sale transaction failed and nothing was
// written. The storage cause is kept for diagnostics only.
type NotCreatedError struct {
	Err error
}

func (e *NotCreatedError) Error() string { return "sale not created" }

func (e *NotCreatedError) Unwrap() error { return e.Err }

// LinePolicy decides what happens to lines referencing unknown products.
type LinePolicy string

const (
	// LineSkip drops such lines and records the rest of the sale.
	LineSkip LinePolicy = "skip"
	// LineStrict aborts the sale with ProductNotFoundError.
	LineStrict LinePolicy = "strict"
)

// ParseLinePolicy validates a configured line policy. Empty means LineSkip.
func ParseLinePolicy(s string) (LinePolicy, error) {
	switch p := LinePolicy(s); p {
	case "":
		return LineSkip, nil
	case LineSkip, LineStrict:
		return p, nil
	default:
		return "", errors.Errorf("unknown line policy %q", s)
	}
}

// Policy groups the ledger behaviours that are deployment decisions.
type Policy struct {
	Lines LinePolicy
	Stock product.StockPolicy
	// RestoreStock gives stock back when lines are replaced or a sale is deleted.
	RestoreStock bool
}

// DefaultPolicy skips unknown lines, allows negative stock and never restores.
func DefaultPolicy() Policy {
	return Policy{Lines: LineSkip, Stock: product.StockAllowNegative}
}

// LineRequest is one requested product and quantity.
type LineRequest struct {
	ProductID int64
	Quantity  decimal.Decimal
}

// Line is a recorded sale line with the unit price charged.
type Line struct {
	ID        int64
	ProductID int64
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// Amount is quantity times unit price.
func (l Line) Amount() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// Sale is a recorded sale header with its lines in request order.
type Sale struct {
	ID            int64
	StoreID       int64
	Number        int64
	CreatedAt     time.Time
	PaymentMethod PaymentMethod
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
	CouponID      *int64
	CouponCode    string
	// CouponPercentage and CouponAmount are the coupon's discount terms at
	// the time of sale. Edits re-price from them, never from the coupon row.
	CouponPercentage *decimal.Decimal
	CouponAmount     *decimal.Decimal
	Lines            []Line
}

// ApplyCoupon records c on the sale together with a copy of its terms.
func (s *Sale) ApplyCoupon(c coupon.Coupon) {
	id := c.ID
	s.CouponID = &id
	s.CouponCode = c.Code
	s.CouponPercentage = copyDecimal(c.Percentage)
	s.CouponAmount = copyDecimal(c.Amount)
}

func copyDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

// Draft is everything the ledger needs to write a new sale.
type Draft struct {
	StoreID       int64
	Lines         []LineRequest
	PaymentMethod PaymentMethod
	// At is the sale time; prices and coupon validity are resolved against it.
	At     time.Time
	Coupon *coupon.Coupon
}

// Query filters sale listings. Zero fields do not filter.
type Query struct {
	From          *time.Time
	To            *time.Time
	PaymentMethod PaymentMethod
	ProductID     *int64
}

// Match reports whether s passes the query.
func (q Query) Match(s Sale) bool {
	if q.From != nil && s.CreatedAt.Before(*q.From) {
		return false
	}
	if q.To != nil && s.CreatedAt.After(*q.To) {
		return false
	}
	if q.PaymentMethod != "" && s.PaymentMethod != q.PaymentMethod {
		return false
	}
	if q.ProductID != nil {
		for _, l := range s.Lines {
			if l.ProductID == *q.ProductID {
				return true
			}
		}
		return false
	}
	return true
}

// Change is an update to an existing sale. Nil Lines keeps the current lines.
type Change struct {
	PaymentMethod *PaymentMethod
	Lines         []LineRequest
}

// Ledger is the store of record for sales. Create, Update and Delete each
// run in a single transaction.
type Ledger interface {
	Create(ctx context.Context, d Draft) (Sale, error)
	Get(ctx context.Context, storeID, saleID int64) (Sale, error)
	// List returns matching sales ordered by number.
	List(ctx context.Context, storeID int64, q Query) ([]Sale, error)
	Update(ctx context.Context, storeID, saleID int64, c Change) (Sale, error)
	Delete(ctx context.Context, storeID, saleID int64) error
}
