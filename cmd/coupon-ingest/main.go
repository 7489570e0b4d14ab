package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/retail-ledger/internal/domain/coupon"
	"github.com/xenking/retail-ledger/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		opts        options
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&opts.workers, "workers", 4, "concurrent coupon writers")
	flag.UintVar(&opts.bloomCapacity, "bloom-capacity", 1_000_000, "expected distinct codes per store")
	flag.Float64Var(&opts.bloomFPR, "bloom-fpr", 0.001, "bloom filter false positive rate")
	flag.Usage = func() {
		_, _ = os.Stderr.WriteString("usage: coupon-ingest [flags] FILE.jsonl.gz...\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, files, opts); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string, opts options) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	in := newIngester(coupon.NewService(postgres.NewCouponRepository(pool)), opts)
	if err := in.ingestFiles(ctx, files); err != nil {
		return err
	}

	slog.Info("ingest summary",
		slog.Int64("added", in.added.Load()),
		slog.Int64("duplicate", in.duplicate.Load()),
		slog.Int64("rejected", in.rejected.Load()),
	)
	return nil
}
