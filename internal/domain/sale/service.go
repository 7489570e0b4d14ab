package sale

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/retail-ledger/internal/domain/coupon"
	"github.com/xenking/retail-ledger/internal/domain/pricing"
	"github.com/xenking/retail-ledger/internal/domain/product"
)

// CouponSource is the part of the coupon store the sale service reads.
type CouponSource interface {
	GetByCode(ctx context.Context, storeID int64, code string) (coupon.Coupon, error)
	IsValid(ctx context.Context, storeID int64, code string, at time.Time) (bool, error)
	ApplicableTo(ctx context.Context, storeID, productID int64, at time.Time) ([]coupon.Coupon, error)
	ForProducts(ctx context.Context, storeID int64, productIDs []int64) ([]coupon.Coupon, error)
}

var _ CouponSource = (*coupon.Service)(nil)

// Request holds the caller input for a new sale.
type Request struct {
	Lines         []LineRequest
	PaymentMethod PaymentMethod
}

// Option configures a Service.
type Option func(*options)

type options struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// WithMeterProvider sets the provider for sale metrics.
func WithMeterProvider(p metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = p }
}

// WithTracerProvider sets the provider for sale spans.
func WithTracerProvider(p trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = p }
}

// Service orchestrates coupon lookup and the ledger write.
type Service struct {
	ledger  Ledger
	coupons CouponSource
	now     func() time.Time

	tracer  trace.Tracer
	created metric.Int64Counter
	failed  metric.Int64Counter
	totals  metric.Float64Histogram
}

// NewService creates a sale Service.
func NewService(ledger Ledger, coupons CouponSource, opts ...Option) (*Service, error) {
	o := options{
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	const scope = "github.com/xenking/retail-ledger/internal/domain/sale"
	meter := o.meterProvider.Meter(scope)
	s := &Service{
		ledger:  ledger,
		coupons: coupons,
		now:     time.Now,
		tracer:  o.tracerProvider.Tracer(scope),
	}

	var err error
	if s.created, err = meter.Int64Counter("ledger.sales.created",
		metric.WithDescription("Sales committed to the ledger"),
	); err != nil {
		return nil, errors.Wrap(err, "sales created counter")
	}
	if s.failed, err = meter.Int64Counter("ledger.sales.failed",
		metric.WithDescription("Sale transactions that did not commit"),
	); err != nil {
		return nil, errors.Wrap(err, "sales failed counter")
	}
	if s.totals, err = meter.Float64Histogram("ledger.sale.total",
		metric.WithDescription("Final sale totals"),
	); err != nil {
		return nil, errors.Wrap(err, "sale total histogram")
	}
	return s, nil
}

// AddSale records a sale without a discount.
func (s *Service) AddSale(ctx context.Context, storeID int64, req Request) (Sale, error) {
	return s.AddSaleWithCoupon(ctx, storeID, req, "")
}

// AddSaleWithCoupon records a sale, applying the coupon when it is valid
// now. Unknown or expired codes are ignored and the sale is recorded at
// full price.
func (s *Service) AddSaleWithCoupon(ctx context.Context, storeID int64, req Request, code string) (Sale, error) {
	ctx, span := s.tracer.Start(ctx, "sale.Create",
		trace.WithAttributes(attribute.Int64("store.id", storeID)),
	)
	defer span.End()

	if err := ValidateLines(req.Lines); err != nil {
		return Sale{}, err
	}
	method, err := ParsePaymentMethod(string(req.PaymentMethod))
	if err != nil {
		return Sale{}, err
	}

	d := Draft{
		StoreID:       storeID,
		Lines:         req.Lines,
		PaymentMethod: method,
		At:            s.now(),
	}

	if code = strings.TrimSpace(code); code != "" {
		c, err := s.usableCoupon(ctx, storeID, code, d.At)
		if err != nil {
			return Sale{}, s.notCreated(ctx, span, err)
		}
		d.Coupon = c
	}

	created, err := s.ledger.Create(ctx, d)
	if err != nil {
		if isDomainError(err) {
			return Sale{}, err
		}
		return Sale{}, s.notCreated(ctx, span, err)
	}

	attrs := metric.WithAttributes(attribute.String("payment_method", string(created.PaymentMethod)))
	s.created.Add(ctx, 1, attrs)
	s.totals.Record(ctx, created.Total.InexactFloat64(), attrs)
	span.SetAttributes(attribute.Int64("sale.number", created.Number))

	zctx.From(ctx).Debug("Sale created",
		zap.Int64("store_id", storeID),
		zap.Int64("sale_id", created.ID),
		zap.Int64("number", created.Number),
		zap.Stringer("total", created.Total),
		zap.String("coupon", created.CouponCode),
	)
	return created, nil
}

// usableCoupon returns the coupon when it is valid at at, nil otherwise.
func (s *Service) usableCoupon(ctx context.Context, storeID int64, code string, at time.Time) (*coupon.Coupon, error) {
	valid, err := s.coupons.IsValid(ctx, storeID, code, at)
	if err != nil {
		return nil, errors.Wrap(err, "check coupon")
	}
	if !valid {
		zctx.From(ctx).Info("Coupon ignored", zap.String("code", code), zap.Int64("store_id", storeID))
		return nil, nil
	}

	c, err := s.coupons.GetByCode(ctx, storeID, code)
	if errors.Is(err, coupon.ErrNotFound) {
		// Deleted between the two reads.
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get coupon")
	}
	return &c, nil
}

func (s *Service) notCreated(ctx context.Context, span trace.Span, err error) error {
	s.failed.Add(ctx, 1)
	span.RecordError(err)
	span.SetStatus(codes.Error, "sale not created")
	zctx.From(ctx).Error("Sale not created", zap.Error(err))
	return &NotCreatedError{Err: err}
}

// isDomainError reports whether err is a caller mistake that must reach the
// caller as is.
func isDomainError(err error) bool {
	var (
		notFound    *ProductNotFoundError
		badQuantity *InvalidQuantityError
		noStock     *product.InsufficientStockError
	)
	switch {
	case errors.Is(err, ErrEmptyLines),
		errors.Is(err, ErrNoLines),
		errors.Is(err, ErrStoreNotFound),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidPaymentMethod),
		errors.Is(err, pricing.ErrNotPriced),
		errors.As(err, &notFound),
		errors.As(err, &badQuantity),
		errors.As(err, &noStock):
		return true
	}
	return false
}

// ValidateCouponForSale reports whether the code can be applied right now.
func (s *Service) ValidateCouponForSale(ctx context.Context, storeID int64, code string) (bool, error) {
	return s.coupons.IsValid(ctx, storeID, code, s.now())
}

// GetApplicableCoupons returns the coupons valid now for any product in
// lines, de-duplicated and in first-seen order.
func (s *Service) GetApplicableCoupons(ctx context.Context, storeID int64, lines []LineRequest) ([]coupon.Coupon, error) {
	now := s.now()
	seenProduct := make(map[int64]struct{}, len(lines))
	seenCoupon := make(map[int64]struct{})
	var out []coupon.Coupon

	for _, l := range lines {
		if _, ok := seenProduct[l.ProductID]; ok {
			continue
		}
		seenProduct[l.ProductID] = struct{}{}

		cs, err := s.coupons.ApplicableTo(ctx, storeID, l.ProductID, now)
		if err != nil {
			return nil, errors.Wrapf(err, "coupons for product %d", l.ProductID)
		}
		for _, c := range cs {
			if _, ok := seenCoupon[c.ID]; ok {
				continue
			}
			seenCoupon[c.ID] = struct{}{}
			out = append(out, c)
		}
	}
	return out, nil
}

// GetCouponsForProducts returns coupons scoped to any of the products plus
// unscoped ones.
func (s *Service) GetCouponsForProducts(ctx context.Context, storeID int64, productIDs []int64) ([]coupon.Coupon, error) {
	return s.coupons.ForProducts(ctx, storeID, productIDs)
}

// Get returns one sale or ErrNotFound.
func (s *Service) Get(ctx context.Context, storeID, saleID int64) (Sale, error) {
	return s.ledger.Get(ctx, storeID, saleID)
}

// All lists every sale of the store.
func (s *Service) All(ctx context.Context, storeID int64) ([]Sale, error) {
	return s.ledger.List(ctx, storeID, Query{})
}

// ByDateRange lists sales created within [start, end].
func (s *Service) ByDateRange(ctx context.Context, storeID int64, start, end time.Time) ([]Sale, error) {
	if start.After(end) {
		return nil, ErrInvalidRange
	}
	return s.ledger.List(ctx, storeID, Query{From: &start, To: &end})
}

// ByPaymentMethod lists sales paid with m.
func (s *Service) ByPaymentMethod(ctx context.Context, storeID int64, m PaymentMethod) ([]Sale, error) {
	return s.ledger.List(ctx, storeID, Query{PaymentMethod: m})
}

// ByProduct lists sales with at least one line for the product.
func (s *Service) ByProduct(ctx context.Context, storeID, productID int64) ([]Sale, error) {
	return s.ledger.List(ctx, storeID, Query{ProductID: &productID})
}

// Update changes the payment method or replaces the lines of a sale.
func (s *Service) Update(ctx context.Context, storeID, saleID int64, c Change) (Sale, error) {
	ctx, span := s.tracer.Start(ctx, "sale.Update",
		trace.WithAttributes(attribute.Int64("store.id", storeID), attribute.Int64("sale.id", saleID)),
	)
	defer span.End()

	if c.PaymentMethod != nil {
		m, err := ParsePaymentMethod(string(*c.PaymentMethod))
		if err != nil {
			return Sale{}, err
		}
		c.PaymentMethod = &m
	}
	if c.Lines != nil {
		if err := ValidateLines(c.Lines); err != nil {
			return Sale{}, err
		}
	}

	updated, err := s.ledger.Update(ctx, storeID, saleID, c)
	if err != nil {
		span.RecordError(err)
		if isDomainError(err) {
			return Sale{}, err
		}
		return Sale{}, errors.Wrap(err, "update sale")
	}
	return updated, nil
}

// Delete removes a sale with its lines.
func (s *Service) Delete(ctx context.Context, storeID, saleID int64) error {
	ctx, span := s.tracer.Start(ctx, "sale.Delete",
		trace.WithAttributes(attribute.Int64("store.id", storeID), attribute.Int64("sale.id", saleID)),
	)
	defer span.End()

	if err := s.ledger.Delete(ctx, storeID, saleID); err != nil {
		span.RecordError(err)
		if isDomainError(err) {
			return err
		}
		return errors.Wrap(err, "delete sale")
	}
	return nil
}
