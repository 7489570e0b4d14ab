package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/retail-ledger/internal/domain/pricing"
	"github.com/xenking/retail-ledger/internal/domain/product"
	"github.com/xenking/retail-ledger/internal/domain/sale"
)

const (
	productColumns = `id, store_id, name, description, barcode, stock, min_stock, created_at`

	createProductSQL = `INSERT INTO products (store_id, name, description, barcode, stock, min_stock)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + productColumns

	getProductSQL = `SELECT ` + productColumns + ` FROM products WHERE store_id = $1 AND id = $2`

	decrementStockSQL = `UPDATE products SET stock = stock - $3
		WHERE store_id = $1 AND id = $2
		RETURNING stock`

	// The lateral join tells a missing product (no row) from an unpriced one
	// (row with NULL price columns) in one round trip.
	priceAtSQL = `SELECT pp.id, pp.price, pp.wholesale_price, pp.retail_price, pp.effective_at
		FROM products p
		LEFT JOIN LATERAL (
			SELECT id, price, wholesale_price, retail_price, effective_at
			FROM price_points
			WHERE product_id = p.id AND effective_at <= $3
			ORDER BY effective_at DESC
			LIMIT 1
		) pp ON TRUE
		WHERE p.store_id = $1 AND p.id = $2`

	priceHistorySQL = `SELECT pp.id, pp.product_id, pp.price, pp.wholesale_price, pp.retail_price, pp.effective_at
		FROM price_points pp
		JOIN products p ON p.id = pp.product_id
		WHERE p.store_id = $1 AND pp.product_id = $2
		ORDER BY pp.effective_at`

	addPricePointSQL = `INSERT INTO price_points (product_id, price, wholesale_price, retail_price, effective_at)
		SELECT id, $3, $4, $5, $6 FROM products WHERE store_id = $1 AND id = $2
		RETURNING id, product_id, price, wholesale_price, retail_price, effective_at`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	db DBTX
}

// NewProductRepository returns a ProductRepository that uses the given pool
// or transaction.
func NewProductRepository(db DBTX) *ProductRepository {
	return &ProductRepository{db: db}
}

// Create inserts a product into an existing store.
func (r *ProductRepository) Create(ctx context.Context, p product.Product) (product.Product, error) {
	rows, err := r.db.Query(ctx, createProductSQL,
		p.StoreID, p.Name, p.Description, p.Barcode, p.Stock, p.MinStock,
	)
	if err != nil {
		return product.Product{}, fmt.Errorf("creating product %q: %w", p.Name, err)
	}

	created, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	switch {
	case err == nil:
		return created, nil
	case isViolation(err, codeUniqueViolation):
		return product.Product{}, product.ErrDuplicateBarcode
	case isViolation(err, codeForeignKeyViolation):
		return product.Product{}, fmt.Errorf("creating product %q: %w", p.Name, sale.ErrStoreNotFound)
	default:
		return product.Product{}, fmt.Errorf("creating product %q: %w", p.Name, err)
	}
}

// GetByID returns a single product of the store.
func (r *ProductRepository) GetByID(ctx context.Context, storeID, productID int64) (product.Product, error) {
	rows, err := r.db.Query(ctx, getProductSQL, storeID, productID)
	if err != nil {
		return product.Product{}, fmt.Errorf("getting product %d: %w", productID, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return product.Product{}, product.ErrNotFound
		}
		return product.Product{}, fmt.Errorf("getting product %d: %w", productID, err)
	}
	return p, nil
}

// DecrementStock subtracts qty in a single statement. The row lock taken by
// UPDATE serializes concurrent decrements of the same product.
func (r *ProductRepository) DecrementStock(ctx context.Context, storeID, productID int64, qty decimal.Decimal) (decimal.Decimal, error) {
	var stock decimal.Decimal
	err := r.db.QueryRow(ctx, decrementStockSQL, storeID, productID, qty).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Decimal{}, product.ErrNotFound
		}
		return decimal.Decimal{}, fmt.Errorf("decrementing stock of product %d: %w", productID, err)
	}
	return stock, nil
}

// PriceAt resolves the price point in effect at asOf.
func (r *ProductRepository) PriceAt(ctx context.Context, storeID, productID int64, asOf time.Time) (pricing.PricePoint, error) {
	var (
		id                       *int64
		price, wholesale, retail decimal.NullDecimal
		effectiveAt              *time.Time
	)
	err := r.db.QueryRow(ctx, priceAtSQL, storeID, productID, asOf).
		Scan(&id, &price, &wholesale, &retail, &effectiveAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pricing.PricePoint{}, fmt.Errorf("product %d: %w", productID, product.ErrNotFound)
		}
		return pricing.PricePoint{}, fmt.Errorf("resolving price of product %d: %w", productID, err)
	}
	if id == nil {
		return pricing.PricePoint{}, pricing.ErrNotPriced
	}

	return pricing.PricePoint{
		ID:        *id,
		ProductID: productID,
		Triplet: pricing.Triplet{
			Price:     price.Decimal,
			Wholesale: wholesale.Decimal,
			Retail:    retail.Decimal,
		},
		EffectiveAt: *effectiveAt,
	}, nil
}

// PriceHistory returns every price point of the product ordered by
// effective time.
func (r *ProductRepository) PriceHistory(ctx context.Context, storeID, productID int64) ([]pricing.PricePoint, error) {
	rows, err := r.db.Query(ctx, priceHistorySQL, storeID, productID)
	if err != nil {
		return nil, fmt.Errorf("listing prices of product %d: %w", productID, err)
	}
	return pgx.CollectRows(rows, scanPricePoint)
}

// AddPricePoint appends a price point to the product's history.
func (r *ProductRepository) AddPricePoint(ctx context.Context, storeID, productID int64, t pricing.Triplet, at time.Time) (pricing.PricePoint, error) {
	rows, err := r.db.Query(ctx, addPricePointSQL,
		storeID, productID, t.Price, t.Wholesale, t.Retail, at,
	)
	if err != nil {
		return pricing.PricePoint{}, fmt.Errorf("adding price of product %d: %w", productID, err)
	}

	pp, err := pgx.CollectExactlyOneRow(rows, scanPricePoint)
	switch {
	case err == nil:
		return pp, nil
	case errors.Is(err, pgx.ErrNoRows):
		return pricing.PricePoint{}, product.ErrNotFound
	case isViolation(err, codeUniqueViolation):
		return pricing.PricePoint{}, pricing.ErrDuplicatePricePoint
	default:
		return pricing.PricePoint{}, fmt.Errorf("adding price of product %d: %w", productID, err)
	}
}

// retailLookup prices sale lines with the retail price in effect at at.
func (r *ProductRepository) retailLookup(ctx context.Context, storeID int64, at time.Time) sale.PriceLookup {
	return func(productID int64) (decimal.Decimal, error) {
		pp, err := r.PriceAt(ctx, storeID, productID, at)
		if err != nil {
			return decimal.Decimal{}, err
		}
		return pp.Triplet.Retail, nil
	}
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.StoreID, &p.Name, &p.Description, &p.Barcode,
		&p.Stock, &p.MinStock, &p.CreatedAt,
	)
	return p, err
}

func scanPricePoint(row pgx.CollectableRow) (pricing.PricePoint, error) {
	var pp pricing.PricePoint
	err := row.Scan(
		&pp.ID, &pp.ProductID,
		&pp.Triplet.Price, &pp.Triplet.Wholesale, &pp.Triplet.Retail,
		&pp.EffectiveAt,
	)
	return pp, err
}
