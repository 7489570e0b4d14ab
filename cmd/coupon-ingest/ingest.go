package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/retail-ledger/internal/domain/coupon"
	"github.com/xenking/retail-ledger/internal/domain/product"
	"github.com/xenking/retail-ledger/internal/domain/sale"
)

const (
	maxLineBytes  = 1 << 20
	progressEvery = 10_000
)

type options struct {
	workers       int
	bloomCapacity uint
	bloomFPR      float64
}

// record is one line of an ingest file.
type record struct {
	StoreID        int64            `json:"storeId"`
	CouponCode     string           `json:"couponCode"`
	Description    string           `json:"description"`
	Category       string           `json:"category"`
	Discount       *decimal.Decimal `json:"discount"`
	DiscountAmount *decimal.Decimal `json:"discountAmount"`
	ProdID         *int64           `json:"prodId"`
	ValidFrom      *time.Time       `json:"validFrom"`
	ValidUntil     *time.Time       `json:"validUntil"`

	// Source position for log lines.
	file string
	line int
}

func (r record) request() coupon.Request {
	return coupon.Request{
		Code:        r.CouponCode,
		Description: r.Description,
		Category:    r.Category,
		ProductID:   r.ProdID,
		ValidFrom:   r.ValidFrom,
		ValidUntil:  r.ValidUntil,
		Percentage:  r.Discount,
		Amount:      r.DiscountAmount,
	}
}

func (r record) source() string {
	return r.file + ":" + strconv.Itoa(r.line)
}

// ingester creates coupons through the coupon service, which enforces the
// discount exclusivity of every record. Codes already seen in the input are
// remembered per store in a bloom filter; a positive answer is confirmed
// against the store before the record is dropped as a duplicate.
type ingester struct {
	coupons *coupon.Service
	opts    options

	mu   sync.Mutex
	seen map[int64]*bloom.BloomFilter

	added     atomic.Int64
	duplicate atomic.Int64
	rejected  atomic.Int64
}

func newIngester(coupons *coupon.Service, opts options) *ingester {
	if opts.workers < 1 {
		opts.workers = 1
	}
	return &ingester{
		coupons: coupons,
		opts:    opts,
		seen:    make(map[int64]*bloom.BloomFilter),
	}
}

func (in *ingester) maybeSeen(storeID int64, code string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	f, ok := in.seen[storeID]
	if !ok {
		f = bloom.NewWithEstimates(in.opts.bloomCapacity, in.opts.bloomFPR)
		in.seen[storeID] = f
	}
	return f.TestAndAddString(strings.ToUpper(strings.TrimSpace(code)))
}

// ingestFiles parses every file concurrently and feeds the records to the
// writers. Malformed or rejected records are counted and skipped; storage
// failures abort the run.
func (in *ingester) ingestFiles(ctx context.Context, files []string) error {
	records := make(chan record, 1024)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(records)
		rg, rctx := errgroup.WithContext(ctx)
		for _, f := range files {
			rg.Go(func() error {
				return in.readFile(rctx, f, records)
			})
		}
		return rg.Wait()
	})

	for range in.opts.workers {
		g.Go(func() error {
			for rec := range records {
				if err := in.ingest(ctx, rec); err != nil {
					return errors.Wrap(err, rec.source())
				}
			}
			return nil
		})
	}

	return g.Wait()
}

func (in *ingester) ingest(ctx context.Context, rec record) error {
	if in.maybeSeen(rec.StoreID, rec.CouponCode) {
		_, err := in.coupons.GetByCode(ctx, rec.StoreID, rec.CouponCode)
		switch {
		case err == nil:
			in.duplicate.Add(1)
			return nil
		case !errors.Is(err, coupon.ErrNotFound):
			return err
		}
	}

	_, err := in.coupons.Add(ctx, rec.StoreID, rec.request())
	switch {
	case err == nil:
		if n := in.added.Add(1); n%progressEvery == 0 {
			slog.Info("write progress", slog.Int64("added", n))
		}
		return nil
	case errors.Is(err, coupon.ErrDuplicateCode):
		in.duplicate.Add(1)
		return nil
	case errors.Is(err, coupon.ErrRejected),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, sale.ErrStoreNotFound):
		in.rejected.Add(1)
		slog.Warn("coupon rejected",
			slog.String("source", rec.source()),
			slog.String("code", rec.CouponCode),
			slog.String("error", err.Error()),
		)
		return nil
	default:
		return err
	}
}

// readFile streams a gzip-compressed JSON-lines file into out.
func (in *ingester) readFile(ctx context.Context, path string, out chan<- record) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var n int
	for scanner.Scan() {
		n++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		rec := record{file: path, line: n}
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			in.rejected.Add(1)
			slog.Warn("malformed record", slog.String("source", rec.source()), slog.String("error", err.Error()))
			continue
		}

		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	slog.Info("file complete", slog.String("file", path), slog.Int("lines", n))
	return nil
}
