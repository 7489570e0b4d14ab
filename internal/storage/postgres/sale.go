package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/retail-ledger/internal/domain/coupon"
	"github.com/xenking/retail-ledger/internal/domain/sale"
)

const (
	// The counter row is seeded from the highest existing number and then
	// incremented under its row lock, which serializes numbering per store
	// until the sale transaction ends.
	nextSaleNumberSQL = `INSERT INTO sale_counters (store_id, last_number)
		SELECT $1, COALESCE(MAX(number), 0) + 1 FROM sales WHERE store_id = $1
		ON CONFLICT (store_id) DO UPDATE SET last_number = sale_counters.last_number + 1
		RETURNING last_number`

	saleColumns = `id, store_id, number, created_at, payment_method,
		subtotal, discount, total, coupon_id, coupon_code,
		coupon_percentage, coupon_amount`

	insertSaleSQL = `INSERT INTO sales (store_id, number, created_at, payment_method,
		subtotal, discount, total, coupon_id, coupon_code,
		coupon_percentage, coupon_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	insertSaleLineSQL = `INSERT INTO sale_lines (sale_id, position, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	getSaleSQL = `SELECT ` + saleColumns + ` FROM sales WHERE store_id = $1 AND id = $2`

	lockSaleSQL = getSaleSQL + ` FOR UPDATE`

	listSalesSQL = `SELECT ` + saleColumns + `
		FROM sales s
		WHERE store_id = $1
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at <= $3)
			AND ($4::text = '' OR payment_method = $4)
			AND ($5::bigint IS NULL OR EXISTS (
				SELECT 1 FROM sale_lines l WHERE l.sale_id = s.id AND l.product_id = $5
			))
		ORDER BY number`

	saleLinesSQL = `SELECT sale_id, id, product_id, quantity, unit_price
		FROM sale_lines WHERE sale_id = ANY($1)
		ORDER BY sale_id, position`

	updateSaleSQL = `UPDATE sales SET payment_method = $3, subtotal = $4, discount = $5, total = $6
		WHERE store_id = $1 AND id = $2`

	deleteSaleLinesSQL = `DELETE FROM sale_lines WHERE sale_id = $1`

	deleteSaleSQL = `DELETE FROM sales WHERE store_id = $1 AND id = $2`
)

var _ sale.Ledger = (*SaleLedger)(nil)

// SaleLedger implements sale.Ledger backed by PostgreSQL. Every write runs
// in one transaction that covers numbering, lines, stock and the header.
type SaleLedger struct {
	pool   *pgxpool.Pool
	policy sale.Policy
}

// NewSaleLedger returns a SaleLedger that applies policy.
func NewSaleLedger(pool *pgxpool.Pool, policy sale.Policy) *SaleLedger {
	return &SaleLedger{pool: pool, policy: policy}
}

// Create records a sale atomically.
func (l *SaleLedger) Create(ctx context.Context, d sale.Draft) (sale.Sale, error) {
	v := sale.Sale{
		StoreID:       d.StoreID,
		CreatedAt:     d.At,
		PaymentMethod: d.PaymentMethod,
	}

	err := pgx.BeginTxFunc(ctx, l.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		number, err := nextSaleNumber(ctx, tx, d.StoreID)
		if err != nil {
			return err
		}
		v.Number = number

		products := NewProductRepository(tx)
		lines, err := sale.ResolveLines(d.Lines, products.retailLookup(ctx, d.StoreID, d.At), l.policy.Lines)
		if err != nil {
			return err
		}

		c, err := l.couponInTx(ctx, tx, d)
		if err != nil {
			return err
		}
		var amounts sale.Amounts
		if c != nil {
			amounts = sale.Price(lines, c.Discount)
			v.ApplyCoupon(*c)
		} else {
			amounts = sale.Price(lines, nil)
		}
		v.Subtotal, v.Discount, v.Total = amounts.Subtotal, amounts.Discount, amounts.Total

		if err := l.moveStock(ctx, products, d.StoreID, sale.StockDelta(nil, lines)); err != nil {
			return err
		}

		err = tx.QueryRow(ctx, insertSaleSQL,
			v.StoreID, v.Number, v.CreatedAt, string(v.PaymentMethod),
			v.Subtotal, v.Discount, v.Total, v.CouponID, v.CouponCode,
			v.CouponPercentage, v.CouponAmount,
		).Scan(&v.ID)
		if err != nil {
			return fmt.Errorf("inserting sale header: %w", err)
		}

		v.Lines, err = insertLines(ctx, tx, v.ID, lines)
		return err
	})
	if err != nil {
		return sale.Sale{}, err
	}
	return v, nil
}

func nextSaleNumber(ctx context.Context, tx pgx.Tx, storeID int64) (int64, error) {
	var n int64
	if err := tx.QueryRow(ctx, nextSaleNumberSQL, storeID).Scan(&n); err != nil {
		if isViolation(err, codeForeignKeyViolation) {
			return 0, sale.ErrStoreNotFound
		}
		return 0, fmt.Errorf("allocating sale number: %w", err)
	}
	return n, nil
}

// couponInTx re-reads the draft coupon under a share lock and returns it
// only if it still exists and is valid at the sale time.
func (l *SaleLedger) couponInTx(ctx context.Context, tx pgx.Tx, d sale.Draft) (*coupon.Coupon, error) {
	if d.Coupon == nil {
		return nil, nil
	}
	c, err := getCoupon(ctx, tx, shareCouponByIDSQL, d.StoreID, d.Coupon.ID)
	if errors.Is(err, coupon.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !c.ValidAt(d.At) {
		return nil, nil
	}
	return &c, nil
}

// moveStock applies stock deltas in product id order and enforces the
// stock policy on every decrement.
func (l *SaleLedger) moveStock(ctx context.Context, products *ProductRepository, storeID int64, delta map[int64]decimal.Decimal) error {
	for _, id := range sale.LockOrder(delta) {
		change := delta[id]
		if change.IsZero() {
			continue
		}
		after, err := products.DecrementStock(ctx, storeID, id, change.Neg())
		if err != nil {
			return fmt.Errorf("moving stock of product %d: %w", id, err)
		}
		if change.IsNegative() {
			if err := l.policy.Stock.Check(id, after, change.Neg()); err != nil {
				return err
			}
		}
	}
	return nil
}

func insertLines(ctx context.Context, tx pgx.Tx, saleID int64, lines []sale.Line) ([]sale.Line, error) {
	b := &pgx.Batch{}
	for i, ln := range lines {
		b.Queue(insertSaleLineSQL, saleID, i, ln.ProductID, ln.Quantity, ln.UnitPrice)
	}

	br := tx.SendBatch(ctx, b)
	out := make([]sale.Line, len(lines))
	for i, ln := range lines {
		if err := br.QueryRow().Scan(&ln.ID); err != nil {
			_ = br.Close()
			return nil, fmt.Errorf("inserting sale line %d: %w", i, err)
		}
		out[i] = ln
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("inserting sale lines: %w", err)
	}
	return out, nil
}

// Get returns one sale with its lines.
func (l *SaleLedger) Get(ctx context.Context, storeID, saleID int64) (sale.Sale, error) {
	return getSale(ctx, l.pool, getSaleSQL, storeID, saleID)
}

func getSale(ctx context.Context, db DBTX, sql string, storeID, saleID int64) (sale.Sale, error) {
	rows, err := db.Query(ctx, sql, storeID, saleID)
	if err != nil {
		return sale.Sale{}, fmt.Errorf("getting sale %d: %w", saleID, err)
	}
	v, err := pgx.CollectExactlyOneRow(rows, scanSale)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sale.Sale{}, sale.ErrNotFound
		}
		return sale.Sale{}, fmt.Errorf("getting sale %d: %w", saleID, err)
	}

	withLines, err := attachLines(ctx, db, []sale.Sale{v})
	if err != nil {
		return sale.Sale{}, err
	}
	return withLines[0], nil
}

// List returns the store's sales matching q, ordered by number.
func (l *SaleLedger) List(ctx context.Context, storeID int64, q sale.Query) ([]sale.Sale, error) {
	rows, err := l.pool.Query(ctx, listSalesSQL,
		storeID, q.From, q.To, string(q.PaymentMethod), q.ProductID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sales: %w", err)
	}
	sales, err := pgx.CollectRows(rows, scanSale)
	if err != nil {
		return nil, fmt.Errorf("listing sales: %w", err)
	}
	return attachLines(ctx, l.pool, sales)
}

// attachLines loads the lines of all sales in one query.
func attachLines(ctx context.Context, db DBTX, sales []sale.Sale) ([]sale.Sale, error) {
	if len(sales) == 0 {
		return sales, nil
	}
	ids := make([]int64, len(sales))
	index := make(map[int64]int, len(sales))
	for i, v := range sales {
		ids[i] = v.ID
		index[v.ID] = i
	}

	rows, err := db.Query(ctx, saleLinesSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("loading sale lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			saleID int64
			ln     sale.Line
		)
		if err := rows.Scan(&saleID, &ln.ID, &ln.ProductID, &ln.Quantity, &ln.UnitPrice); err != nil {
			return nil, fmt.Errorf("scanning sale line: %w", err)
		}
		i := index[saleID]
		sales[i].Lines = append(sales[i].Lines, ln)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading sale lines: %w", err)
	}
	return sales, nil
}

// Update changes the payment method and optionally replaces the lines,
// re-pricing them at the sale's creation time.
func (l *SaleLedger) Update(ctx context.Context, storeID, saleID int64, c sale.Change) (sale.Sale, error) {
	var v sale.Sale
	err := pgx.BeginTxFunc(ctx, l.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var err error
		v, err = getSale(ctx, tx, lockSaleSQL, storeID, saleID)
		if err != nil {
			return err
		}

		if c.Lines != nil {
			products := NewProductRepository(tx)
			lines, err := sale.ResolveLines(c.Lines, products.retailLookup(ctx, storeID, v.CreatedAt), l.policy.Lines)
			if err != nil {
				return err
			}
			if l.policy.RestoreStock {
				if err := l.moveStock(ctx, products, storeID, sale.StockDelta(v.Lines, lines)); err != nil {
					return err
				}
			}
			if _, err := tx.Exec(ctx, deleteSaleLinesSQL, saleID); err != nil {
				return fmt.Errorf("replacing lines of sale %d: %w", saleID, err)
			}
			amounts := sale.Reprice(v, lines)
			if v.Lines, err = insertLines(ctx, tx, saleID, lines); err != nil {
				return err
			}
			v.Subtotal, v.Discount, v.Total = amounts.Subtotal, amounts.Discount, amounts.Total
		}

		if c.PaymentMethod != nil {
			v.PaymentMethod = *c.PaymentMethod
		}

		_, err = tx.Exec(ctx, updateSaleSQL,
			storeID, saleID, string(v.PaymentMethod), v.Subtotal, v.Discount, v.Total,
		)
		if err != nil {
			return fmt.Errorf("updating sale %d: %w", saleID, err)
		}
		return nil
	})
	if err != nil {
		return sale.Sale{}, err
	}
	return v, nil
}

// Delete removes the sale; its lines go with it.
func (l *SaleLedger) Delete(ctx context.Context, storeID, saleID int64) error {
	return pgx.BeginTxFunc(ctx, l.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if l.policy.RestoreStock {
			v, err := getSale(ctx, tx, lockSaleSQL, storeID, saleID)
			if err != nil {
				return err
			}
			if err := l.moveStock(ctx, NewProductRepository(tx), storeID, sale.StockDelta(v.Lines, nil)); err != nil {
				return err
			}
		}

		tag, err := tx.Exec(ctx, deleteSaleSQL, storeID, saleID)
		if err != nil {
			return fmt.Errorf("deleting sale %d: %w", saleID, err)
		}
		if tag.RowsAffected() == 0 {
			return sale.ErrNotFound
		}
		return nil
	})
}

func scanSale(row pgx.CollectableRow) (sale.Sale, error) {
	var (
		v      sale.Sale
		method string
	)
	err := row.Scan(
		&v.ID, &v.StoreID, &v.Number, &v.CreatedAt, &method,
		&v.Subtotal, &v.Discount, &v.Total, &v.CouponID, &v.CouponCode,
		&v.CouponPercentage, &v.CouponAmount,
	)
	v.PaymentMethod = sale.PaymentMethod(method)
	return v, err
}
