package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/xenking/retail-ledger/internal/domain/coupon"
	"github.com/xenking/retail-ledger/internal/domain/sale"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository on a Store.
type CouponRepository struct {
	s *Store
}

// byCode finds a coupon by case-insensitive code. Callers hold s.mu.
func (r *CouponRepository) byCode(storeID int64, code string) (coupon.Coupon, bool) {
	for _, c := range r.s.coupons {
		if c.StoreID == storeID && coupon.SameCode(c.Code, code) {
			return c, true
		}
	}
	return coupon.Coupon{}, false
}

// Create stores a new coupon; codes are unique per store.
func (r *CouponRepository) Create(_ context.Context, c coupon.Coupon) (coupon.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if !r.s.hasStore(c.StoreID) {
		return coupon.Coupon{}, fmt.Errorf("create coupon: %w", sale.ErrStoreNotFound)
	}
	if _, ok := r.byCode(c.StoreID, c.Code); ok {
		return coupon.Coupon{}, coupon.ErrDuplicateCode
	}

	r.s.seq.coupon++
	c.ID = r.s.seq.coupon
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.s.now()
	}
	r.s.coupons[c.ID] = c
	return c, nil
}

// GetByCode returns the coupon or coupon.ErrNotFound.
func (r *CouponRepository) GetByCode(_ context.Context, storeID int64, code string) (coupon.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.byCode(storeID, code)
	if !ok {
		return coupon.Coupon{}, coupon.ErrNotFound
	}
	return c, nil
}

// Modify applies fn to a copy of the coupon and stores it when fn succeeds.
func (r *CouponRepository) Modify(_ context.Context, storeID int64, code string, fn func(*coupon.Coupon) error) (coupon.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.byCode(storeID, code)
	if !ok {
		return coupon.Coupon{}, coupon.ErrNotFound
	}
	id := c.ID
	if err := fn(&c); err != nil {
		return coupon.Coupon{}, err
	}
	c.ID, c.StoreID = id, storeID

	if other, ok := r.byCode(storeID, c.Code); ok && other.ID != id {
		return coupon.Coupon{}, coupon.ErrDuplicateCode
	}
	r.s.coupons[id] = c
	return c, nil
}

// Delete removes the coupon. Sales that used it lose the reference but
// keep the recorded code and discount.
func (r *CouponRepository) Delete(_ context.Context, storeID int64, code string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.byCode(storeID, code)
	if !ok {
		return coupon.ErrNotFound
	}
	delete(r.s.coupons, c.ID)

	for id, v := range r.s.sales {
		if v.CouponID != nil && *v.CouponID == c.ID {
			v.CouponID = nil
			r.s.sales[id] = v
		}
	}
	return nil
}

// List returns the store's coupons that match f, ordered by id.
func (r *CouponRepository) List(_ context.Context, storeID int64, f coupon.Filter) ([]coupon.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []coupon.Coupon
	for _, c := range r.s.coupons {
		if c.StoreID == storeID && f.Match(c) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b coupon.Coupon) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}
