package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/retail-ledger/internal/domain/coupon"
	"github.com/xenking/retail-ledger/internal/domain/product"
	"github.com/xenking/retail-ledger/internal/domain/sale"
)

const (
	couponColumns = `id, store_id, code, description, category, product_id,
		valid_from, valid_until, percentage, amount, created_at`

	createCouponSQL = `INSERT INTO coupons (store_id, code, description, category, product_id,
		valid_from, valid_until, percentage, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + couponColumns

	getCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE store_id = $1 AND UPPER(code) = UPPER($2)`

	lockCouponByCodeSQL = getCouponByCodeSQL + ` FOR UPDATE`

	// Read inside the sale transaction; FOR SHARE keeps the coupon from
	// being edited or deleted until the sale commits.
	shareCouponByIDSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE store_id = $1 AND id = $2 FOR SHARE`

	updateCouponSQL = `UPDATE coupons SET code = $3, description = $4, category = $5, product_id = $6,
		valid_from = $7, valid_until = $8, percentage = $9, amount = $10
		WHERE store_id = $1 AND id = $2
		RETURNING ` + couponColumns

	deleteCouponSQL = `DELETE FROM coupons WHERE store_id = $1 AND UPPER(code) = UPPER($2)`

	// NULL parameters disable their predicate.
	listCouponsSQL = `SELECT ` + couponColumns + `
		FROM coupons
		WHERE store_id = $1
			AND ($2::text IS NULL OR category = $2)
			AND ($3::text = '' OR ($3 = 'percentage') = (percentage IS NOT NULL))
			AND ($4::bigint[] IS NULL OR product_id = ANY($4) OR ($5 AND product_id IS NULL))
			AND ($6::timestamptz IS NULL OR (valid_from <= $6 AND (valid_until IS NULL OR valid_until >= $6)))
		ORDER BY id`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// Create inserts a coupon. Codes are unique per store regardless of case.
func (r *CouponRepository) Create(ctx context.Context, c coupon.Coupon) (coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, createCouponSQL,
		c.StoreID, c.Code, c.Description, c.Category, c.ProductID,
		c.ValidFrom, c.ValidUntil, c.Percentage, c.Amount,
	)
	if err != nil {
		return coupon.Coupon{}, fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}

	created, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		return coupon.Coupon{}, couponWriteError(c.Code, err)
	}
	return created, nil
}

// GetByCode looks up a coupon by its code (case-insensitive).
func (r *CouponRepository) GetByCode(ctx context.Context, storeID int64, code string) (coupon.Coupon, error) {
	return getCoupon(ctx, r.pool, getCouponByCodeSQL, storeID, code)
}

// Modify locks the coupon row, applies fn and writes the result in the same
// transaction.
func (r *CouponRepository) Modify(ctx context.Context, storeID int64, code string, fn func(*coupon.Coupon) error) (coupon.Coupon, error) {
	var updated coupon.Coupon
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		c, err := getCoupon(ctx, tx, lockCouponByCodeSQL, storeID, code)
		if err != nil {
			return err
		}
		if err := fn(&c); err != nil {
			return err
		}

		rows, err := tx.Query(ctx, updateCouponSQL,
			storeID, c.ID, c.Code, c.Description, c.Category, c.ProductID,
			c.ValidFrom, c.ValidUntil, c.Percentage, c.Amount,
		)
		if err != nil {
			return fmt.Errorf("updating coupon %q: %w", code, err)
		}
		updated, err = pgx.CollectExactlyOneRow(rows, scanCoupon)
		if err != nil {
			return couponWriteError(c.Code, err)
		}
		return nil
	})
	if err != nil {
		return coupon.Coupon{}, err
	}
	return updated, nil
}

// Delete removes the coupon. Sales that used it keep their code and discount.
func (r *CouponRepository) Delete(ctx context.Context, storeID int64, code string) error {
	tag, err := r.pool.Exec(ctx, deleteCouponSQL, storeID, code)
	if err != nil {
		return fmt.Errorf("deleting coupon %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// List returns the store's coupons matching f, ordered by id.
func (r *CouponRepository) List(ctx context.Context, storeID int64, f coupon.Filter) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL,
		storeID, f.Category, string(f.Kind), f.ProductIDs, f.IncludeUnscoped, f.ValidAt,
	)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

func getCoupon(ctx context.Context, db DBTX, sql string, storeID int64, key any) (coupon.Coupon, error) {
	rows, err := db.Query(ctx, sql, storeID, key)
	if err != nil {
		return coupon.Coupon{}, fmt.Errorf("getting coupon %v: %w", key, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coupon.Coupon{}, coupon.ErrNotFound
		}
		return coupon.Coupon{}, fmt.Errorf("getting coupon %v: %w", key, err)
	}
	return c, nil
}

func couponWriteError(code string, err error) error {
	switch {
	case isViolation(err, codeUniqueViolation):
		return coupon.ErrDuplicateCode
	case isViolation(err, codeCheckViolation):
		return fmt.Errorf("coupon %q: %w", code, coupon.ErrRejected)
	case isViolation(err, codeForeignKeyViolation):
		if violatedConstraint(err) == "coupons_product_id_fkey" {
			return fmt.Errorf("coupon %q: %w", code, product.ErrNotFound)
		}
		return fmt.Errorf("coupon %q: %w", code, sale.ErrStoreNotFound)
	default:
		return fmt.Errorf("writing coupon %q: %w", code, err)
	}
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(
		&c.ID, &c.StoreID, &c.Code, &c.Description, &c.Category, &c.ProductID,
		&c.ValidFrom, &c.ValidUntil, &c.Percentage, &c.Amount, &c.CreatedAt,
	)
	return c, err
}
