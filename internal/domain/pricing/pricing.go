// Package pricing resolves which price a product carried at a given instant.
//
// Price history is append-only: every change produces a new PricePoint and
// existing points are never mutated, so historical sales can be re-priced
// with the figures that were actually in effect.
package pricing

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotPriced is returned when a product has no price point effective
	// at or before the requested instant.
	ErrNotPriced = errors.New("product not priced yet")
	// ErrDuplicatePricePoint is returned when a product already has a price
	// point with the same effective timestamp.
	ErrDuplicatePricePoint = errors.New("price point already exists for this timestamp")
)

// Triplet is the set of prices a product carries at one point in time.
type Triplet struct {
	Price     decimal.Decimal
	Wholesale decimal.Decimal
	Retail    decimal.Decimal
}

// Equal reports whether both triplets carry the same amounts.
func (t Triplet) Equal(o Triplet) bool {
	return t.Price.Equal(o.Price) && t.Wholesale.Equal(o.Wholesale) && t.Retail.Equal(o.Retail)
}

// PricePoint is an immutable price record for a product.
type PricePoint struct {
	ID          int64
	ProductID   int64
	Triplet     Triplet
	EffectiveAt time.Time
}

// Resolve returns the point with the latest EffectiveAt that is not after
// asOf. The input does not have to be sorted.
func Resolve(points []PricePoint, asOf time.Time) (PricePoint, error) {
	var (
		best  PricePoint
		found bool
	)
	for _, p := range points {
		if p.EffectiveAt.After(asOf) {
			continue
		}
		if !found || p.EffectiveAt.After(best.EffectiveAt) {
			best = p
			found = true
		}
	}
	if !found {
		return PricePoint{}, ErrNotPriced
	}
	return best, nil
}
