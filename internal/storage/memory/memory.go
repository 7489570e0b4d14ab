// Package memory is an in-process store of record with the same semantics
// as the PostgreSQL storage. One mutex guards all state, so every ledger
// operation is trivially atomic and serialized.
package memory

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/xenking/retail-ledger/internal/domain/coupon"
	"github.com/xenking/retail-ledger/internal/domain/pricing"
	"github.com/xenking/retail-ledger/internal/domain/product"
	"github.com/xenking/retail-ledger/internal/domain/sale"
)

// Store holds stores, products, price history, coupons and sales.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	stores   map[int64]string
	products map[int64]product.Product
	prices   map[int64][]pricing.PricePoint
	coupons  map[int64]coupon.Coupon
	sales    map[int64]sale.Sale
	counters map[int64]int64

	seq struct {
		store, product, price, coupon, sale, line int64
	}
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		now:      time.Now,
		stores:   map[int64]string{},
		products: map[int64]product.Product{},
		prices:   map[int64][]pricing.PricePoint{},
		coupons:  map[int64]coupon.Coupon{},
		sales:    map[int64]sale.Sale{},
		counters: map[int64]int64{},
	}
}

// AddStore registers a store and returns its id.
func (s *Store) AddStore(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq.store++
	s.stores[s.seq.store] = name
	return s.seq.store
}

// Products returns the product repository view.
func (s *Store) Products() *ProductRepository {
	return &ProductRepository{s: s}
}

// Coupons returns the coupon repository view.
func (s *Store) Coupons() *CouponRepository {
	return &CouponRepository{s: s}
}

// Sales returns the sale ledger view using policy.
func (s *Store) Sales(policy sale.Policy) *SaleLedger {
	return &SaleLedger{s: s, policy: policy}
}

func (s *Store) hasStore(storeID int64) bool {
	_, ok := s.stores[storeID]
	return ok
}

// product returns a store-scoped product. Callers hold s.mu.
func (s *Store) product(storeID, productID int64) (product.Product, error) {
	p, ok := s.products[productID]
	if !ok || p.StoreID != storeID {
		return product.Product{}, fmt.Errorf("product %d: %w", productID, product.ErrNotFound)
	}
	return p, nil
}

// priceAt resolves a store-scoped product price. Callers hold s.mu.
func (s *Store) priceAt(storeID, productID int64, asOf time.Time) (pricing.PricePoint, error) {
	if _, err := s.product(storeID, productID); err != nil {
		return pricing.PricePoint{}, err
	}
	return pricing.Resolve(s.prices[productID], asOf)
}

func cloneSale(v sale.Sale) sale.Sale {
	v.Lines = slices.Clone(v.Lines)
	return v
}
