package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/retail-ledger/internal/domain/coupon"
	"github.com/xenking/retail-ledger/internal/seed"
	"github.com/xenking/retail-ledger/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		seedFile    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedFile, "seed-file", "db/seed/ledger.json", "path to the stores JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedFile string) error {
	stores, err := seed.ReadFile(seedFile)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	t := seed.Target{
		CreateStore: func(ctx context.Context, name string) (int64, error) {
			return postgres.CreateStore(ctx, pool, name)
		},
		Products: postgres.NewProductRepository(pool),
		Coupons:  coupon.NewService(postgres.NewCouponRepository(pool)),
	}
	sum, err := t.Load(ctx, stores)
	if err != nil {
		return err
	}

	slog.Info("seed summary",
		slog.Int("stores", sum.Stores),
		slog.Int("products", sum.Products),
		slog.Int("coupons", sum.Coupons),
	)
	return nil
}
