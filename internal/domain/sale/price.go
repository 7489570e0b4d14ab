package sale

import (
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/retail-ledger/internal/domain/coupon"
	"github.com/xenking/retail-ledger/internal/domain/product"
)

// ValidateLines rejects empty requests and quantities that are not positive
// or cannot be stored without rounding.
func ValidateLines(reqs []LineRequest) error {
	if len(reqs) == 0 {
		return ErrEmptyLines
	}
	for _, r := range reqs {
		q := r.Quantity
		if !q.IsPositive() || !q.Truncate(QuantityScale).Equal(q) {
			return &InvalidQuantityError{ProductID: r.ProductID, Quantity: q}
		}
	}
	return nil
}

// PriceLookup returns the unit price of a product in the sale's store, or
// an error wrapping product.ErrNotFound when the store has no such product.
type PriceLookup func(productID int64) (decimal.Decimal, error)

// ResolveLines prices every request. Unknown products are skipped or
// rejected according to policy; ErrNoLines is returned when nothing is left.
func ResolveLines(reqs []LineRequest, lookup PriceLookup, policy LinePolicy) ([]Line, error) {
	if err := ValidateLines(reqs); err != nil {
		return nil, err
	}

	lines := make([]Line, 0, len(reqs))
	for _, r := range reqs {
		price, err := lookup(r.ProductID)
		if errors.Is(err, product.ErrNotFound) {
			if policy == LineStrict {
				return nil, &ProductNotFoundError{ProductID: r.ProductID}
			}
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "price product %d", r.ProductID)
		}
		lines = append(lines, Line{
			ProductID: r.ProductID,
			Quantity:  r.Quantity,
			UnitPrice: price,
		})
	}
	if len(lines) == 0 {
		return nil, ErrNoLines
	}
	return lines, nil
}

// Amounts are the monetary figures of a sale header.
type Amounts struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// DiscountFunc computes a raw discount for a subtotal.
type DiscountFunc func(subtotal decimal.Decimal) decimal.Decimal

// FixedDiscount always returns d.
func FixedDiscount(d decimal.Decimal) DiscountFunc {
	return func(decimal.Decimal) decimal.Decimal { return d }
}

// Price sums the lines and applies discount. The stored discount is capped
// at the subtotal so that total = subtotal - discount always holds.
func Price(lines []Line, discount DiscountFunc) Amounts {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Amount())
	}
	subtotal = subtotal.Round(2)

	d := decimal.Zero
	if discount != nil {
		d = decimal.Min(discount(subtotal), subtotal)
		if d.IsNegative() {
			d = decimal.Zero
		}
	}

	return Amounts{
		Subtotal: subtotal,
		Discount: d,
		Total:    coupon.Total(subtotal, d),
	}
}

// Reprice recomputes the amounts of s for a new set of lines using the
// coupon terms recorded with the sale. A sale recorded without a coupon
// stays undiscounted.
func Reprice(s Sale, lines []Line) Amounts {
	if s.CouponPercentage == nil && s.CouponAmount == nil {
		return Price(lines, nil)
	}
	terms := coupon.Coupon{Percentage: s.CouponPercentage, Amount: s.CouponAmount}
	return Price(lines, terms.Discount)
}

// StockDelta returns the per-product stock movement of replacing removed
// lines with added ones. Negative values take stock out.
func StockDelta(removed, added []Line) map[int64]decimal.Decimal {
	delta := make(map[int64]decimal.Decimal, len(removed)+len(added))
	for _, l := range removed {
		delta[l.ProductID] = delta[l.ProductID].Add(l.Quantity)
	}
	for _, l := range added {
		delta[l.ProductID] = delta[l.ProductID].Sub(l.Quantity)
	}
	return delta
}

// LockOrder returns the product ids of delta in ascending order. Stock rows
// are always locked in this order so concurrent sales cannot deadlock.
func LockOrder(delta map[int64]decimal.Decimal) []int64 {
	ids := make([]int64, 0, len(delta))
	for id := range delta {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
