package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the two mutually exclusive discount models.
type Kind string

const (
	// KindPercentage discounts a share of the subtotal.
	KindPercentage Kind = "percentage"
	// KindAmount discounts a fixed monetary amount.
	KindAmount Kind = "amount"
)

// ParseKind validates a kind filter. Empty means any kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case "", KindPercentage, KindAmount:
		return k, nil
	default:
		return "", errors.Errorf("unknown coupon kind %q", s)
	}
}

var (
	// ErrNotFound is returned when no coupon with the code exists in the store.
	ErrNotFound = errors.New("coupon not found")
	// ErrDuplicateCode is returned when the store already has a coupon with the code.
	ErrDuplicateCode = errors.New("coupon code already exists")

	// ErrRejected is the root of every coupon invariant violation.
	ErrRejected = errors.New("coupon rejected")
	// ErrBothDiscounts is returned when percentage and amount are both set.
	ErrBothDiscounts = errors.Wrap(ErrRejected, "both percentage and amount set")
	// ErrNoDiscount is returned when neither percentage nor amount is set.
	ErrNoDiscount = errors.Wrap(ErrRejected, "one of percentage or amount required")
	// ErrNegativeDiscount is returned for discounts below zero.
	ErrNegativeDiscount = errors.Wrap(ErrRejected, "discount must not be negative")
	// ErrDiscountRange is returned for percentages above 100 and amounts
	// that do not fit MaxAmount.
	ErrDiscountRange = errors.Wrap(ErrRejected, "discount out of range")
	// ErrDiscountScale is returned for discounts with more than DiscountScale
	// decimal places.
	ErrDiscountScale = errors.Wrap(ErrRejected, "discount has too many decimal places")
	// ErrInvalidWindow is returned when ValidUntil precedes ValidFrom.
	ErrInvalidWindow = errors.Wrap(ErrRejected, "valid until precedes valid from")
	// ErrEmptyCode is returned when the coupon code is blank.
	ErrEmptyCode = errors.Wrap(ErrRejected, "coupon code required")
)

// DiscountScale is the number of decimal places a discount may carry.
const DiscountScale = 2

var (
	hundred = decimal.NewFromInt(100)
	// MaxAmount bounds fixed discounts.
	MaxAmount = decimal.New(1, 10)
)

// Coupon is a store-scoped promotion carrying exactly one discount model.
type Coupon struct {
	ID          int64
	StoreID     int64
	Code        string
	Description string
	Category    string
	// ProductID limits the coupon to one product. Nil applies to the whole cart.
	ProductID  *int64
	ValidFrom  time.Time
	ValidUntil *time.Time
	Percentage *decimal.Decimal
	Amount     *decimal.Decimal
	CreatedAt  time.Time
}

// Kind reports which discount model the coupon carries.
func (c Coupon) Kind() Kind {
	if c.Percentage != nil {
		return KindPercentage
	}
	return KindAmount
}

// ValidAt reports whether at falls inside the validity window. A nil
// ValidUntil leaves the window open.
func (c Coupon) ValidAt(at time.Time) bool {
	if at.Before(c.ValidFrom) {
		return false
	}
	return c.ValidUntil == nil || !at.After(*c.ValidUntil)
}

// AppliesTo reports whether the coupon scope covers the product.
func (c Coupon) AppliesTo(productID int64) bool {
	return c.ProductID == nil || *c.ProductID == productID
}

// Discount returns the raw discount for the subtotal, rounded to cents. It
// may exceed the subtotal; Total floors the result.
func (c Coupon) Discount(subtotal decimal.Decimal) decimal.Decimal {
	switch {
	case c.Percentage != nil:
		return floorAtZero(subtotal.Mul(*c.Percentage).Div(hundred)).Round(2)
	case c.Amount != nil:
		return floorAtZero(*c.Amount).Round(2)
	default:
		return decimal.Zero
	}
}

// Total applies discount to subtotal, flooring the result at zero.
func Total(subtotal, discount decimal.Decimal) decimal.Decimal {
	return floorAtZero(subtotal.Sub(discount)).Round(2)
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// CheckDiscounts enforces that exactly one non-negative discount is set, a
// percentage is at most 100 and the value has at most DiscountScale
// decimal places.
func CheckDiscounts(pct, amt *decimal.Decimal) error {
	switch {
	case pct != nil && amt != nil:
		return ErrBothDiscounts
	case pct == nil && amt == nil:
		return ErrNoDiscount
	case pct != nil && pct.IsNegative(), amt != nil && amt.IsNegative():
		return ErrNegativeDiscount
	case pct != nil && pct.GreaterThan(hundred), amt != nil && amt.GreaterThanOrEqual(MaxAmount):
		return ErrDiscountRange
	}
	v := pct
	if v == nil {
		v = amt
	}
	if !v.Truncate(DiscountScale).Equal(*v) {
		return ErrDiscountScale
	}
	return nil
}

// Check validates every invariant of a coupon about to be stored.
func (c Coupon) Check() error {
	if strings.TrimSpace(c.Code) == "" {
		return ErrEmptyCode
	}
	if err := CheckDiscounts(c.Percentage, c.Amount); err != nil {
		return err
	}
	if c.ValidUntil != nil && c.ValidUntil.Before(c.ValidFrom) {
		return ErrInvalidWindow
	}
	return nil
}

// SameCode compares coupon codes the way stores look them up.
func SameCode(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Request holds the input for creating a coupon.
type Request struct {
	Code        string
	Description string
	Category    string
	ProductID   *int64
	ValidFrom   *time.Time
	ValidUntil  *time.Time
	Percentage  *decimal.Decimal
	Amount      *decimal.Decimal
}

// Nullable is a patch field: unset keeps the stored value, Null clears it.
type Nullable[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Of returns a Nullable holding v.
func Of[T any](v T) Nullable[T] {
	return Nullable[T]{Set: true, Value: v}
}

// Null returns a Nullable that clears the field.
func Null[T any]() Nullable[T] {
	return Nullable[T]{Set: true, Null: true}
}

func (n Nullable[T]) applyPtr(dst **T) {
	switch {
	case !n.Set:
	case n.Null:
		*dst = nil
	default:
		v := n.Value
		*dst = &v
	}
}

// Patch describes a partial coupon update.
type Patch struct {
	Code        *string
	Description *string
	Category    *string
	ProductID   Nullable[int64]
	ValidFrom   *time.Time
	ValidUntil  Nullable[time.Time]
	Percentage  Nullable[decimal.Decimal]
	Amount      Nullable[decimal.Decimal]
}

// Apply merges the patch into c.
func (p Patch) Apply(c *Coupon) {
	if p.Code != nil {
		c.Code = strings.TrimSpace(*p.Code)
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Category != nil {
		c.Category = *p.Category
	}
	if p.ValidFrom != nil {
		c.ValidFrom = *p.ValidFrom
	}
	p.ProductID.applyPtr(&c.ProductID)
	p.ValidUntil.applyPtr(&c.ValidUntil)
	p.Percentage.applyPtr(&c.Percentage)
	p.Amount.applyPtr(&c.Amount)
}

// Filter narrows coupon listings. Zero fields do not filter.
type Filter struct {
	Category *string
	Kind     Kind
	// ProductIDs keeps coupons scoped to one of the products. Unscoped
	// coupons are kept only with IncludeUnscoped.
	ProductIDs      []int64
	IncludeUnscoped bool
	ValidAt         *time.Time
}

// Match reports whether c passes the filter.
func (f Filter) Match(c Coupon) bool {
	if f.Category != nil && c.Category != *f.Category {
		return false
	}
	if f.Kind != "" && c.Kind() != f.Kind {
		return false
	}
	if f.ValidAt != nil && !c.ValidAt(*f.ValidAt) {
		return false
	}
	if f.ProductIDs == nil {
		return true
	}
	if c.ProductID == nil {
		return f.IncludeUnscoped
	}
	for _, id := range f.ProductIDs {
		if id == *c.ProductID {
			return true
		}
	}
	return false
}

// Repository persists coupons. Every call is scoped to a store.
type Repository interface {
	Create(ctx context.Context, c Coupon) (Coupon, error)
	GetByCode(ctx context.Context, storeID int64, code string) (Coupon, error)
	// Modify loads the coupon under a row lock, hands it to fn and stores the
	// result unless fn fails.
	Modify(ctx context.Context, storeID int64, code string, fn func(*Coupon) error) (Coupon, error)
	Delete(ctx context.Context, storeID int64, code string) error
	// List returns matching coupons ordered by id.
	List(ctx context.Context, storeID int64, f Filter) ([]Coupon, error)
}
