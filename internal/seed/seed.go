// Package seed loads stores, priced products and coupons from a JSON
// document into any store of record.
package seed

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/retail-ledger/db"
	"github.com/xenking/retail-ledger/internal/domain/coupon"
	"github.com/xenking/retail-ledger/internal/domain/pricing"
	"github.com/xenking/retail-ledger/internal/domain/product"
	"github.com/xenking/retail-ledger/internal/storage/memory"
)

// Store is one store with its catalogue.
type Store struct {
	Name     string    `json:"name"`
	Products []Product `json:"products"`
	Coupons  []Coupon  `json:"coupons"`
}

// Product is a product with its price history.
type Product struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Barcode     *string         `json:"barcode"`
	Stock       decimal.Decimal `json:"stock"`
	MinStock    decimal.Decimal `json:"minStock"`
	Prices      []Price         `json:"prices"`
}

// Price is one price point.
type Price struct {
	Price          decimal.Decimal `json:"price"`
	WholesalePrice decimal.Decimal `json:"wholesalePrice"`
	RetailPrice    decimal.Decimal `json:"retailPrice"`
	EffectiveAt    time.Time       `json:"effectiveAt"`
}

// Coupon scopes itself to a product by the product's position in the
// store's list, since ids are only known after insertion.
type Coupon struct {
	CouponCode     string           `json:"couponCode"`
	Description    string           `json:"description"`
	Category       string           `json:"category"`
	Discount       *decimal.Decimal `json:"discount"`
	DiscountAmount *decimal.Decimal `json:"discountAmount"`
	Product        *int             `json:"product"`
	ValidFrom      *time.Time       `json:"validFrom"`
	ValidUntil     *time.Time       `json:"validUntil"`
}

// Read parses a seed document. Unknown fields are rejected.
func Read(r io.Reader) ([]Store, error) {
	var doc struct {
		Stores []Store `json:"stores"`
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "parse seed JSON")
	}
	return doc.Stores, nil
}

// ReadFile parses the seed document at path, or the bundled demo data when
// path is empty.
func ReadFile(path string) ([]Store, error) {
	if path == "" {
		return Read(bytes.NewReader(db.Seed))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open seed file")
	}
	defer func() { _ = f.Close() }()
	return Read(f)
}

// Summary counts what a load created.
type Summary struct {
	Stores   int
	Products int
	Coupons  int
}

// Target is where a seed is written.
type Target struct {
	CreateStore func(ctx context.Context, name string) (int64, error)
	Products    product.Repository
	Coupons     *coupon.Service
}

// MemoryTarget writes into an in-memory store.
func MemoryTarget(s *memory.Store) Target {
	return Target{
		CreateStore: func(_ context.Context, name string) (int64, error) {
			return s.AddStore(name), nil
		},
		Products: s.Products(),
		Coupons:  coupon.NewService(s.Coupons()),
	}
}

// Load writes every store in order. Coupons go through the coupon service
// so they are validated like any other.
func (t Target) Load(ctx context.Context, stores []Store) (Summary, error) {
	var sum Summary
	lg := zctx.From(ctx)

	for _, s := range stores {
		storeID, err := t.CreateStore(ctx, s.Name)
		if err != nil {
			return sum, errors.Wrapf(err, "create store %q", s.Name)
		}
		sum.Stores++
		lg.Debug("Created store", zap.Int64("store_id", storeID), zap.String("name", s.Name))

		ids := make([]int64, len(s.Products))
		for i, p := range s.Products {
			if ids[i], err = t.loadProduct(ctx, storeID, p); err != nil {
				return sum, errors.Wrapf(err, "seed product %q", p.Name)
			}
			sum.Products++
		}

		for _, c := range s.Coupons {
			req := coupon.Request{
				Code:        c.CouponCode,
				Description: c.Description,
				Category:    c.Category,
				ValidFrom:   c.ValidFrom,
				ValidUntil:  c.ValidUntil,
				Percentage:  c.Discount,
				Amount:      c.DiscountAmount,
			}
			if c.Product != nil {
				if *c.Product < 0 || *c.Product >= len(ids) {
					return sum, errors.Errorf("coupon %q: product index %d out of range", c.CouponCode, *c.Product)
				}
				req.ProductID = &ids[*c.Product]
			}
			if _, err := t.Coupons.Add(ctx, storeID, req); err != nil {
				return sum, errors.Wrapf(err, "add coupon %q", c.CouponCode)
			}
			sum.Coupons++
			lg.Debug("Added coupon", zap.Int64("store_id", storeID), zap.String("code", c.CouponCode))
		}
	}
	return sum, nil
}

func (t Target) loadProduct(ctx context.Context, storeID int64, p Product) (int64, error) {
	created, err := t.Products.Create(ctx, product.Product{
		StoreID:     storeID,
		Name:        p.Name,
		Description: p.Description,
		Barcode:     p.Barcode,
		Stock:       p.Stock,
		MinStock:    p.MinStock,
	})
	if err != nil {
		return 0, err
	}

	for _, pp := range p.Prices {
		if _, err := t.Products.AddPricePoint(ctx, storeID, created.ID, pricing.Triplet{
			Price:     pp.Price,
			Wholesale: pp.WholesalePrice,
			Retail:    pp.RetailPrice,
		}, pp.EffectiveAt); err != nil {
			return 0, errors.Wrapf(err, "price at %s", pp.EffectiveAt.Format(time.RFC3339))
		}
	}

	zctx.From(ctx).Debug("Created product",
		zap.Int64("product_id", created.ID),
		zap.String("name", created.Name),
		zap.Int("prices", len(p.Prices)),
	)
	return created.ID, nil
}
