//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/retail-ledger/internal/domain/coupon"
	"github.com/xenking/retail-ledger/internal/domain/pricing"
	"github.com/xenking/retail-ledger/internal/domain/product"
	"github.com/xenking/retail-ledger/internal/domain/sale"
	"github.com/xenking/retail-ledger/internal/storage/postgres"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "ledger",
				"POSTGRES_PASSWORD": "ledger",
				"POSTGRES_DB":       "ledger",
			},
			// The server restarts once after running init scripts.
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := c.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := c.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://ledger:ledger@%s:%s/ledger?sslmode=disable", host, port.Port())
	pool, err = postgres.NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	return m.Run()
}

var t0 = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	storeID  int64
	products *postgres.ProductRepository
	coupons  *postgres.CouponRepository
	apple    product.Product
	bread    product.Product
}

// newFixture creates a fresh store so tests do not share numbering or stock.
func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	storeID, err := postgres.CreateStore(ctx, pool, t.Name())
	require.NoError(t, err)

	f := fixture{
		storeID:  storeID,
		products: postgres.NewProductRepository(pool),
		coupons:  postgres.NewCouponRepository(pool),
	}
	mk := func(name, stock, retail string) product.Product {
		p, err := f.products.Create(ctx, product.Product{StoreID: storeID, Name: name, Stock: dec(stock)})
		require.NoError(t, err)
		r := dec(retail)
		_, err = f.products.AddPricePoint(ctx, storeID, p.ID, pricing.Triplet{Price: r, Wholesale: r, Retail: r}, t0)
		require.NoError(t, err)
		return p
	}
	f.apple = mk("apple", "100", "2.50")
	f.bread = mk("bread", "20", "5.00")
	return f
}

func (f fixture) stock(t *testing.T, productID int64) decimal.Decimal {
	t.Helper()
	p, err := f.products.GetByID(context.Background(), f.storeID, productID)
	require.NoError(t, err)
	return p.Stock
}

func line(productID int64, qty string) sale.LineRequest {
	return sale.LineRequest{ProductID: productID, Quantity: dec(qty)}
}

func TestProductRepository_Prices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	later := t0.Add(24 * time.Hour)
	r := dec("3.00")
	_, err := f.products.AddPricePoint(ctx, f.storeID, f.apple.ID, pricing.Triplet{Price: r, Wholesale: r, Retail: r}, later)
	require.NoError(t, err)

	_, err = f.products.AddPricePoint(ctx, f.storeID, f.apple.ID, pricing.Triplet{Price: r, Wholesale: r, Retail: r}, later)
	require.ErrorIs(t, err, pricing.ErrDuplicatePricePoint)

	pp, err := f.products.PriceAt(ctx, f.storeID, f.apple.ID, later.Add(-time.Second))
	require.NoError(t, err)
	assert.True(t, dec("2.50").Equal(pp.Triplet.Retail))

	pp, err = f.products.PriceAt(ctx, f.storeID, f.apple.ID, later)
	require.NoError(t, err)
	assert.True(t, r.Equal(pp.Triplet.Retail))

	_, err = f.products.PriceAt(ctx, f.storeID, f.apple.ID, t0.Add(-time.Second))
	require.ErrorIs(t, err, pricing.ErrNotPriced)

	_, err = f.products.PriceAt(ctx, f.storeID, 999999, later)
	require.ErrorIs(t, err, product.ErrNotFound)

	history, err := f.products.PriceHistory(ctx, f.storeID, f.apple.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].EffectiveAt.Before(history[1].EffectiveAt))
}

func TestProductRepository_DuplicateBarcode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := "7790001"

	_, err := f.products.Create(ctx, product.Product{StoreID: f.storeID, Name: "a", Barcode: &code})
	require.NoError(t, err)
	_, err = f.products.Create(ctx, product.Product{StoreID: f.storeID, Name: "b", Barcode: &code})
	require.ErrorIs(t, err, product.ErrDuplicateBarcode)

	_, err = f.products.Create(ctx, product.Product{StoreID: 999999, Name: "c"})
	require.ErrorIs(t, err, sale.ErrStoreNotFound)
}

func TestCouponRepository(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pct := dec("20")
	amt := dec("5")

	created, err := f.coupons.Create(ctx, coupon.Coupon{
		StoreID:    f.storeID,
		Code:       "SPRING20",
		Category:   "seasonal",
		ValidFrom:  t0,
		Percentage: &pct,
	})
	require.NoError(t, err)

	_, err = f.coupons.Create(ctx, coupon.Coupon{StoreID: f.storeID, Code: "spring20", ValidFrom: t0, Amount: &amt})
	require.ErrorIs(t, err, coupon.ErrDuplicateCode)

	_, err = f.coupons.Create(ctx, coupon.Coupon{StoreID: f.storeID, Code: "BOTH", ValidFrom: t0, Amount: &amt, Percentage: &pct})
	require.ErrorIs(t, err, coupon.ErrRejected)

	_, err = f.coupons.Create(ctx, coupon.Coupon{
		StoreID:   f.storeID,
		Code:      "BREAD5",
		ValidFrom: t0,
		ProductID: &f.bread.ID,
		Amount:    &amt,
	})
	require.NoError(t, err)

	got, err := f.coupons.GetByCode(ctx, f.storeID, "spring20")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	t.Run("List", func(t *testing.T) {
		all, err := f.coupons.List(ctx, f.storeID, coupon.Filter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		byKind, err := f.coupons.List(ctx, f.storeID, coupon.Filter{Kind: coupon.KindAmount})
		require.NoError(t, err)
		require.Len(t, byKind, 1)
		assert.Equal(t, "BREAD5", byKind[0].Code)

		scoped, err := f.coupons.List(ctx, f.storeID, coupon.Filter{ProductIDs: []int64{f.apple.ID}})
		require.NoError(t, err)
		assert.Empty(t, scoped)

		withUnscoped, err := f.coupons.List(ctx, f.storeID, coupon.Filter{ProductIDs: []int64{f.apple.ID}, IncludeUnscoped: true})
		require.NoError(t, err)
		require.Len(t, withUnscoped, 1)
		assert.Equal(t, "SPRING20", withUnscoped[0].Code)

		before := t0.Add(-time.Hour)
		none, err := f.coupons.List(ctx, f.storeID, coupon.Filter{ValidAt: &before})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("Modify", func(t *testing.T) {
		updated, err := f.coupons.Modify(ctx, f.storeID, "SPRING20", func(c *coupon.Coupon) error {
			coupon.Patch{Percentage: coupon.Null[decimal.Decimal](), Amount: coupon.Of(dec("3"))}.Apply(c)
			return c.Check()
		})
		require.NoError(t, err)
		assert.Equal(t, coupon.KindAmount, updated.Kind())

		_, err = f.coupons.Modify(ctx, f.storeID, "SPRING20", func(c *coupon.Coupon) error {
			c.Code = "BREAD5"
			return nil
		})
		require.ErrorIs(t, err, coupon.ErrDuplicateCode)

		_, err = f.coupons.Modify(ctx, f.storeID, "NOPE", func(*coupon.Coupon) error { return nil })
		require.ErrorIs(t, err, coupon.ErrNotFound)
	})

	require.NoError(t, f.coupons.Delete(ctx, f.storeID, "bread5"))
	require.ErrorIs(t, f.coupons.Delete(ctx, f.storeID, "bread5"), coupon.ErrNotFound)
}

func TestSaleLedger_Create(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ledger := postgres.NewSaleLedger(pool, sale.DefaultPolicy())

	v, err := ledger.Create(ctx, sale.Draft{
		StoreID:       f.storeID,
		Lines:         []sale.LineRequest{line(f.apple.ID, "4"), line(999999, "1"), line(f.bread.ID, "2")},
		PaymentMethod: sale.PaymentCash,
		At:            t0.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Number)
	require.Len(t, v.Lines, 2)
	assert.True(t, dec("20").Equal(v.Subtotal), v.Subtotal.String())
	assert.True(t, v.Total.Equal(v.Subtotal))
	assert.True(t, dec("96").Equal(f.stock(t, f.apple.ID)))
	assert.True(t, dec("18").Equal(f.stock(t, f.bread.ID)))

	got, err := ledger.Get(ctx, f.storeID, v.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, f.apple.ID, got.Lines[0].ProductID)
	assert.Equal(t, f.bread.ID, got.Lines[1].ProductID)

	_, err = ledger.Create(ctx, sale.Draft{
		StoreID:       999999,
		Lines:         []sale.LineRequest{line(f.apple.ID, "1")},
		PaymentMethod: sale.PaymentCash,
		At:            t0.Add(time.Hour),
	})
	require.ErrorIs(t, err, sale.ErrStoreNotFound)

	_, err = ledger.Create(ctx, sale.Draft{
		StoreID:       f.storeID,
		Lines:         []sale.LineRequest{line(f.apple.ID, "1")},
		PaymentMethod: sale.PaymentCash,
		At:            t0.Add(-time.Hour),
	})
	require.ErrorIs(t, err, pricing.ErrNotPriced)
	assert.True(t, dec("96").Equal(f.stock(t, f.apple.ID)), "failed sale must not move stock")
}

func TestSaleLedger_RejectStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	policy := sale.DefaultPolicy()
	policy.Stock = product.StockReject
	ledger := postgres.NewSaleLedger(pool, policy)

	_, err := ledger.Create(ctx, sale.Draft{
		StoreID:       f.storeID,
		Lines:         []sale.LineRequest{line(f.apple.ID, "1"), line(f.bread.ID, "21")},
		PaymentMethod: sale.PaymentCard,
		At:            t0.Add(time.Hour),
	})
	var noStock *product.InsufficientStockError
	require.ErrorAs(t, err, &noStock)
	assert.Equal(t, f.bread.ID, noStock.ProductID)
	assert.True(t, dec("100").Equal(f.stock(t, f.apple.ID)))
	assert.True(t, dec("20").Equal(f.stock(t, f.bread.ID)))
}

func TestSaleLedger_Coupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ledger := postgres.NewSaleLedger(pool, sale.DefaultPolicy())
	pct := dec("20")

	c, err := f.coupons.Create(ctx, coupon.Coupon{StoreID: f.storeID, Code: "OFF20", ValidFrom: t0, Percentage: &pct})
	require.NoError(t, err)

	v, err := ledger.Create(ctx, sale.Draft{
		StoreID:       f.storeID,
		Lines:         []sale.LineRequest{line(f.bread.ID, "2")},
		PaymentMethod: sale.PaymentCard,
		At:            t0.Add(time.Hour),
		Coupon:        &c,
	})
	require.NoError(t, err)
	assert.True(t, dec("10").Equal(v.Subtotal))
	assert.True(t, dec("2").Equal(v.Discount))
	assert.True(t, dec("8").Equal(v.Total))
	assert.Equal(t, "OFF20", v.CouponCode)

	// Deleting the coupon keeps the recorded discount and code.
	require.NoError(t, f.coupons.Delete(ctx, f.storeID, "OFF20"))
	got, err := ledger.Get(ctx, f.storeID, v.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CouponID)
	assert.Equal(t, "OFF20", got.CouponCode)
	assert.True(t, dec("2").Equal(got.Discount))

	// Edits re-price from the terms recorded with the sale.
	amt := dec("9")
	edited, err := f.coupons.Create(ctx, coupon.Coupon{StoreID: f.storeID, Code: "EDIT", ValidFrom: t0, Percentage: &pct})
	require.NoError(t, err)
	withEdit, err := ledger.Create(ctx, sale.Draft{
		StoreID:       f.storeID,
		Lines:         []sale.LineRequest{line(f.bread.ID, "2")},
		PaymentMethod: sale.PaymentCash,
		At:            t0.Add(time.Hour),
		Coupon:        &edited,
	})
	require.NoError(t, err)
	_, err = f.coupons.Modify(ctx, f.storeID, "EDIT", func(c *coupon.Coupon) error {
		c.Percentage, c.Amount = nil, &amt
		return nil
	})
	require.NoError(t, err)
	card := sale.PaymentCard
	updated, err := ledger.Update(ctx, f.storeID, withEdit.ID, sale.Change{PaymentMethod: &card})
	require.NoError(t, err)
	assert.True(t, dec("2").Equal(updated.Discount), updated.Discount.String())
	assert.True(t, dec("8").Equal(updated.Total))
	updated, err = ledger.Update(ctx, f.storeID, withEdit.ID, sale.Change{
		Lines: []sale.LineRequest{line(f.bread.ID, "4")},
	})
	require.NoError(t, err)
	assert.True(t, dec("4").Equal(updated.Discount), updated.Discount.String())
	assert.True(t, dec("16").Equal(updated.Total))

	// A coupon deleted after the caller read it is not applied.
	v, err = ledger.Create(ctx, sale.Draft{
		StoreID:       f.storeID,
		Lines:         []sale.LineRequest{line(f.bread.ID, "2")},
		PaymentMethod: sale.PaymentCard,
		At:            t0.Add(time.Hour),
		Coupon:        &c,
	})
	require.NoError(t, err)
	assert.True(t, v.Discount.IsZero())
	assert.Empty(t, v.CouponCode)
}

func TestSaleLedger_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ledger := postgres.NewSaleLedger(pool, sale.DefaultPolicy())

	const n = 25
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make(map[int64]struct{}, n)
	)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := ledger.Create(ctx, sale.Draft{
				StoreID:       f.storeID,
				Lines:         []sale.LineRequest{line(f.bread.ID, "1"), line(f.apple.ID, "2")},
				PaymentMethod: sale.PaymentCash,
				At:            t0.Add(time.Hour),
			})
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			numbers[v.Number] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Len(t, numbers, n)
	for i := int64(1); i <= n; i++ {
		assert.Contains(t, numbers, i)
	}
	assert.True(t, dec("50").Equal(f.stock(t, f.apple.ID)))
	assert.True(t, dec("-5").Equal(f.stock(t, f.bread.ID)))
}

func TestSaleLedger_UpdateDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	policy := sale.DefaultPolicy()
	policy.RestoreStock = true
	ledger := postgres.NewSaleLedger(pool, policy)

	v, err := ledger.Create(ctx, sale.Draft{
		StoreID:       f.storeID,
		Lines:         []sale.LineRequest{line(f.apple.ID, "10")},
		PaymentMethod: sale.PaymentCash,
		At:            t0.Add(time.Hour),
	})
	require.NoError(t, err)

	// A later price must not affect the re-priced lines.
	r := dec("9.99")
	_, err = f.products.AddPricePoint(ctx, f.storeID, f.bread.ID, pricing.Triplet{Price: r, Wholesale: r, Retail: r}, t0.Add(2*time.Hour))
	require.NoError(t, err)

	card := sale.PaymentCard
	updated, err := ledger.Update(ctx, f.storeID, v.ID, sale.Change{
		PaymentMethod: &card,
		Lines:         []sale.LineRequest{line(f.apple.ID, "4"), line(f.bread.ID, "1")},
	})
	require.NoError(t, err)
	assert.Equal(t, sale.PaymentCard, updated.PaymentMethod)
	assert.True(t, dec("15").Equal(updated.Subtotal), updated.Subtotal.String())
	assert.True(t, dec("96").Equal(f.stock(t, f.apple.ID)))
	assert.True(t, dec("19").Equal(f.stock(t, f.bread.ID)))

	got, err := ledger.Get(ctx, f.storeID, v.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, v.Number, got.Number)

	sales, err := ledger.List(ctx, f.storeID, sale.Query{ProductID: &f.bread.ID})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	byMethod, err := ledger.List(ctx, f.storeID, sale.Query{PaymentMethod: sale.PaymentCash})
	require.NoError(t, err)
	assert.Empty(t, byMethod)

	require.NoError(t, ledger.Delete(ctx, f.storeID, v.ID))
	assert.True(t, dec("100").Equal(f.stock(t, f.apple.ID)))
	assert.True(t, dec("20").Equal(f.stock(t, f.bread.ID)))
	require.ErrorIs(t, ledger.Delete(ctx, f.storeID, v.ID), sale.ErrNotFound)
	_, err = ledger.Get(ctx, f.storeID, v.ID)
	require.ErrorIs(t, err, sale.ErrNotFound)

	// Numbers are never reused after a delete.
	next, err := ledger.Create(ctx, sale.Draft{
		StoreID:       f.storeID,
		Lines:         []sale.LineRequest{line(f.apple.ID, "1")},
		PaymentMethod: sale.PaymentCash,
		At:            t0.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.Number)
}
