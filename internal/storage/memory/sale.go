package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/retail-ledger/internal/domain/coupon"
	"github.com/xenking/retail-ledger/internal/domain/sale"
)

var _ sale.Ledger = (*SaleLedger)(nil)

// SaleLedger implements sale.Ledger on a Store. Each call holds the store
// mutex for its whole duration and mutates state only after every check
// passed, which gives all-or-nothing writes.
type SaleLedger struct {
	s      *Store
	policy sale.Policy
}

func (l *SaleLedger) lookup(storeID int64, at time.Time) sale.PriceLookup {
	return func(productID int64) (decimal.Decimal, error) {
		pp, err := l.s.priceAt(storeID, productID, at)
		if err != nil {
			return decimal.Decimal{}, err
		}
		return pp.Triplet.Retail, nil
	}
}

// Create records a sale, decrements stock and assigns the next store number.
func (l *SaleLedger) Create(_ context.Context, d sale.Draft) (sale.Sale, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	if !l.s.hasStore(d.StoreID) {
		return sale.Sale{}, sale.ErrStoreNotFound
	}

	lines, err := sale.ResolveLines(d.Lines, l.lookup(d.StoreID, d.At), l.policy.Lines)
	if err != nil {
		return sale.Sale{}, err
	}

	v := sale.Sale{
		StoreID:       d.StoreID,
		CreatedAt:     d.At,
		PaymentMethod: d.PaymentMethod,
	}

	// The coupon may have been deleted or edited since the caller read it.
	var amounts sale.Amounts
	if c, ok := l.currentCoupon(d); ok {
		amounts = sale.Price(lines, c.Discount)
		v.ApplyCoupon(c)
	} else {
		amounts = sale.Price(lines, nil)
	}
	v.Subtotal, v.Discount, v.Total = amounts.Subtotal, amounts.Discount, amounts.Total

	if err := l.moveStock(d.StoreID, sale.StockDelta(nil, lines)); err != nil {
		return sale.Sale{}, err
	}

	l.s.counters[d.StoreID]++
	v.Number = l.s.counters[d.StoreID]
	l.s.seq.sale++
	v.ID = l.s.seq.sale
	v.Lines = l.numberLines(lines)
	l.s.sales[v.ID] = v

	return cloneSale(v), nil
}

func (l *SaleLedger) currentCoupon(d sale.Draft) (coupon.Coupon, bool) {
	if d.Coupon == nil {
		return coupon.Coupon{}, false
	}
	c, ok := l.s.coupons[d.Coupon.ID]
	if !ok || c.StoreID != d.StoreID || !c.ValidAt(d.At) {
		return coupon.Coupon{}, false
	}
	return c, true
}

func (l *SaleLedger) numberLines(lines []sale.Line) []sale.Line {
	out := make([]sale.Line, len(lines))
	for i, ln := range lines {
		l.s.seq.line++
		ln.ID = l.s.seq.line
		out[i] = ln
	}
	return out
}

// moveStock applies per-product stock deltas after checking all of them
// against the stock policy. Callers hold s.mu.
func (l *SaleLedger) moveStock(storeID int64, delta map[int64]decimal.Decimal) error {
	ids := sale.LockOrder(delta)
	after := make(map[int64]decimal.Decimal, len(ids))
	for _, id := range ids {
		p, err := l.s.product(storeID, id)
		if err != nil {
			return err
		}
		next := p.Stock.Add(delta[id])
		if delta[id].IsNegative() {
			if err := l.policy.Stock.Check(id, next, delta[id].Neg()); err != nil {
				return err
			}
		}
		after[id] = next
	}

	for id, stock := range after {
		p := l.s.products[id]
		p.Stock = stock
		l.s.products[id] = p
	}
	return nil
}

func (l *SaleLedger) get(storeID, saleID int64) (sale.Sale, error) {
	v, ok := l.s.sales[saleID]
	if !ok || v.StoreID != storeID {
		return sale.Sale{}, sale.ErrNotFound
	}
	return v, nil
}

// Get returns one sale of the store.
func (l *SaleLedger) Get(_ context.Context, storeID, saleID int64) (sale.Sale, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	v, err := l.get(storeID, saleID)
	if err != nil {
		return sale.Sale{}, err
	}
	return cloneSale(v), nil
}

// List returns the store's sales matching q, ordered by number.
func (l *SaleLedger) List(_ context.Context, storeID int64, q sale.Query) ([]sale.Sale, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	var out []sale.Sale
	for _, v := range l.s.sales {
		if v.StoreID == storeID && q.Match(v) {
			out = append(out, cloneSale(v))
		}
	}
	slices.SortFunc(out, func(a, b sale.Sale) int { return cmp.Compare(a.Number, b.Number) })
	return out, nil
}

// Update changes the payment method and optionally replaces the lines,
// re-pricing them at the sale's creation time.
func (l *SaleLedger) Update(_ context.Context, storeID, saleID int64, c sale.Change) (sale.Sale, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	v, err := l.get(storeID, saleID)
	if err != nil {
		return sale.Sale{}, err
	}

	if c.Lines != nil {
		lines, err := sale.ResolveLines(c.Lines, l.lookup(storeID, v.CreatedAt), l.policy.Lines)
		if err != nil {
			return sale.Sale{}, err
		}
		if l.policy.RestoreStock {
			if err := l.moveStock(storeID, sale.StockDelta(v.Lines, lines)); err != nil {
				return sale.Sale{}, err
			}
		}
		amounts := sale.Reprice(v, lines)
		v.Lines = l.numberLines(lines)
		v.Subtotal, v.Discount, v.Total = amounts.Subtotal, amounts.Discount, amounts.Total
	}

	if c.PaymentMethod != nil {
		v.PaymentMethod = *c.PaymentMethod
	}
	l.s.sales[saleID] = v

	return cloneSale(v), nil
}

// Delete removes the sale and its lines.
func (l *SaleLedger) Delete(_ context.Context, storeID, saleID int64) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	v, err := l.get(storeID, saleID)
	if err != nil {
		return err
	}
	if l.policy.RestoreStock {
		if err := l.moveStock(storeID, sale.StockDelta(v.Lines, nil)); err != nil {
			return err
		}
	}
	delete(l.s.sales, saleID)
	return nil
}
