package app

import (
	"cmp"
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/retail-ledger/internal/cache"
	"github.com/xenking/retail-ledger/internal/domain/coupon"
	"github.com/xenking/retail-ledger/internal/domain/product"
	"github.com/xenking/retail-ledger/internal/domain/sale"
	"github.com/xenking/retail-ledger/internal/handler"
	"github.com/xenking/retail-ledger/internal/seed"
	"github.com/xenking/retail-ledger/internal/storage/memory"
	"github.com/xenking/retail-ledger/internal/storage/postgres"
	"github.com/xenking/retail-ledger/pkg/health"
	"github.com/xenking/retail-ledger/pkg/httpmiddleware"
)

// repositories is the store of record selected by configuration.
type repositories struct {
	products product.Repository
	coupons  coupon.Repository
	sales    sale.Ledger
}

// wired is the assembled application before it starts listening.
type wired struct {
	handler http.Handler
	health  *health.Health
	closers []func()
}

func (w *wired) close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	w, err := wire(ctx, lg, cfg, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}
	defer w.close()

	healthSvc := w.health
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           w.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// wire opens the store of record and builds the services and router.
func wire(ctx context.Context, lg *zap.Logger, cfg *Config, tp trace.TracerProvider, mp metric.MeterProvider) (*wired, error) {
	policy, err := cfg.Ledger.Policy()
	if err != nil {
		return nil, errors.Wrap(err, "ledger policy")
	}

	w := &wired{health: health.New()}
	w.health.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	w.health.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second))

	var repos repositories
	switch cfg.Storage {
	case StorageMemory:
		if repos, err = openMemory(ctx, lg, cfg, policy); err != nil {
			return nil, err
		}
	default:
		// PostgreSQL pool + migrations.
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		w.closers = append(w.closers, pool.Close)

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			w.close()
			return nil, errors.Wrap(err, "run migrations")
		}
		w.health.AddReadinessCheck("postgres", 5*time.Second, health.PostgresCheck(pool))

		repos = repositories{
			products: postgres.NewProductRepository(pool),
			coupons:  postgres.NewCouponRepository(pool),
			sales:    postgres.NewSaleLedger(pool, policy),
		}
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		w.closers = append(w.closers, func() { _ = client.Close() })

		w.health.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(client))
		repos.coupons = cache.NewCouponRepository(repos.coupons, cache.NewRedisStore(client), cfg.Redis.TTL)
		lg.Info("Coupon cache enabled", zap.String("redis", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.TTL))
	}

	// Domain services.
	couponSvc := coupon.NewService(repos.coupons)
	productSvc := product.NewService(repos.products)
	saleSvc, err := sale.NewService(repos.sales, couponSvc,
		sale.WithMeterProvider(mp),
		sale.WithTracerProvider(tp),
	)
	if err != nil {
		w.close()
		return nil, errors.Wrap(err, "create sale service")
	}

	// Router: health endpoints + store-scoped API on one server.
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Instrument("ledger-api", tp, mp),
		httpmiddleware.LogRequests(),
	)
	r.Get("/livez", w.health.LiveEndpoint)
	r.Get("/readyz", w.health.ReadyEndpoint)
	handler.NewHandler(saleSvc, couponSvc, productSvc).Routes(r)
	w.handler = r

	return w, nil
}

// openMemory builds an in-memory store of record filled from the seed.
func openMemory(ctx context.Context, lg *zap.Logger, cfg *Config, policy sale.Policy) (repositories, error) {
	stores, err := seed.ReadFile(cfg.SeedFile)
	if err != nil {
		return repositories{}, errors.Wrap(err, "read seed")
	}
	store := memory.New()
	sum, err := seed.MemoryTarget(store).Load(zctx.Base(ctx, lg), stores)
	if err != nil {
		return repositories{}, errors.Wrap(err, "load seed")
	}

	lg.Warn("Using in-memory storage, data is lost on exit",
		zap.String("seed", cmp.Or(cfg.SeedFile, "bundled")),
		zap.Int("stores", sum.Stores),
		zap.Int("products", sum.Products),
		zap.Int("coupons", sum.Coupons),
	)
	return repositories{
		products: store.Products(),
		coupons:  store.Coupons(),
		sales:    store.Sales(policy),
	}, nil
}
