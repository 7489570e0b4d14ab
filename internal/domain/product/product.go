package product

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/retail-ledger/internal/domain/pricing"
)

var (
	// ErrNotFound is returned when a requested product does not exist in the store.
	ErrNotFound = errors.New("product not found")
	// ErrDuplicateBarcode is returned when the store already has a product with the barcode.
	ErrDuplicateBarcode = errors.New("barcode already used in store")
	// ErrNegativePrice is returned for price changes with a negative component.
	ErrNegativePrice = errors.New("prices must not be negative")
)

// InsufficientStockError indicates a decrement would take stock below zero
// while the ledger rejects negative stock.
type InsufficientStockError struct {
	ProductID int64
	Stock     decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: have %s, want %s", e.ProductID, e.Stock, e.Requested)
}

// StockPolicy decides what happens when a sale drives stock below zero.
type StockPolicy string

const (
	// StockAllowNegative decrements unconditionally.
	StockAllowNegative StockPolicy = "allow-negative"
	// StockReject aborts the sale with InsufficientStockError.
	StockReject StockPolicy = "reject"
)

// ParseStockPolicy validates a configured stock policy. Empty means
// StockAllowNegative.
func ParseStockPolicy(s string) (StockPolicy, error) {
	switch p := StockPolicy(s); p {
	case "":
		return StockAllowNegative, nil
	case StockAllowNegative, StockReject:
		return p, nil
	default:
		return "", errors.Errorf("unknown stock policy %q", s)
	}
}

// Check returns InsufficientStockError when the policy forbids the resulting
// stock level.
func (p StockPolicy) Check(productID int64, after, requested decimal.Decimal) error {
	if p == StockReject && after.IsNegative() {
		return &InsufficientStockError{
			ProductID: productID,
			Stock:     after.Add(requested),
			Requested: requested,
		}
	}
	return nil
}

// Product is a store-scoped catalog item with a stock counter.
type Product struct {
	ID          int64
	StoreID     int64
	Name        string
	Description string
	Barcode     *string
	Stock       decimal.Decimal
	MinStock    decimal.Decimal
	CreatedAt   time.Time
}

// BelowMinimum reports whether the stock counter is under the configured threshold.
func (p Product) BelowMinimum() bool {
	return p.Stock.LessThan(p.MinStock)
}

// Repository owns products, their stock counters and price history.
type Repository interface {
	Create(ctx context.Context, p Product) (Product, error)
	GetByID(ctx context.Context, storeID, productID int64) (Product, error)
	DecrementStock(ctx context.Context, storeID, productID int64, qty decimal.Decimal) (decimal.Decimal, error)
	PriceAt(ctx context.Context, storeID, productID int64, asOf time.Time) (pricing.PricePoint, error)
	PriceHistory(ctx context.Context, storeID, productID int64) ([]pricing.PricePoint, error)
	AddPricePoint(ctx context.Context, storeID, productID int64, t pricing.Triplet, at time.Time) (pricing.PricePoint, error)
}
