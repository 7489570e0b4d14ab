package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/retail-ledger/internal/domain/pricing"
	"github.com/xenking/retail-ledger/internal/domain/product"
	"github.com/xenking/retail-ledger/internal/domain/sale"
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository on a Store.
type ProductRepository struct {
	s *Store
}

// Create adds a product to an existing store.
func (r *ProductRepository) Create(_ context.Context, p product.Product) (product.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if !r.s.hasStore(p.StoreID) {
		return product.Product{}, fmt.Errorf("create product: %w", sale.ErrStoreNotFound)
	}
	if p.Barcode != nil {
		for _, other := range r.s.products {
			if other.StoreID == p.StoreID && other.Barcode != nil && *other.Barcode == *p.Barcode {
				return product.Product{}, product.ErrDuplicateBarcode
			}
		}
	}

	r.s.seq.product++
	p.ID = r.s.seq.product
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.s.now()
	}
	r.s.products[p.ID] = p
	return p, nil
}

// GetByID returns the product when it belongs to the store.
func (r *ProductRepository) GetByID(_ context.Context, storeID, productID int64) (product.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.s.product(storeID, productID)
}

// DecrementStock subtracts qty unconditionally and returns the new level.
func (r *ProductRepository) DecrementStock(_ context.Context, storeID, productID int64, qty decimal.Decimal) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, err := r.s.product(storeID, productID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	p.Stock = p.Stock.Sub(qty)
	r.s.products[productID] = p
	return p.Stock, nil
}

// PriceAt resolves the price point in effect at asOf.
func (r *ProductRepository) PriceAt(_ context.Context, storeID, productID int64, asOf time.Time) (pricing.PricePoint, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.s.priceAt(storeID, productID, asOf)
}

// PriceHistory returns all price points ordered by effective time.
func (r *ProductRepository) PriceHistory(_ context.Context, storeID, productID int64) ([]pricing.PricePoint, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, err := r.s.product(storeID, productID); err != nil {
		return nil, err
	}
	out := slices.Clone(r.s.prices[productID])
	slices.SortFunc(out, func(a, b pricing.PricePoint) int {
		return a.EffectiveAt.Compare(b.EffectiveAt)
	})
	return out, nil
}

// AddPricePoint appends a price point; effective timestamps are unique per product.
func (r *ProductRepository) AddPricePoint(_ context.Context, storeID, productID int64, t pricing.Triplet, at time.Time) (pricing.PricePoint, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, err := r.s.product(storeID, productID); err != nil {
		return pricing.PricePoint{}, err
	}
	if slices.ContainsFunc(r.s.prices[productID], func(p pricing.PricePoint) bool {
		return p.EffectiveAt.Equal(at)
	}) {
		return pricing.PricePoint{}, pricing.ErrDuplicatePricePoint
	}

	r.s.seq.price++
	pp := pricing.PricePoint{
		ID:          r.s.seq.price,
		ProductID:   productID,
		Triplet:     t,
		EffectiveAt: at,
	}
	r.s.prices[productID] = append(r.s.prices[productID], pp)
	return pp, nil
}
