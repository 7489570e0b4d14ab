package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/retail-ledger/internal/domain/pricing"
)

// Service exposes catalog reads and price resolution to the rest of the
// application.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a product Service backed by the given Repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// GetByID returns the product or ErrNotFound.
func (s *Service) GetByID(ctx context.Context, storeID, productID int64) (Product, error) {
	return s.repo.GetByID(ctx, storeID, productID)
}

// DecrementStock atomically subtracts qty and returns the new stock level.
func (s *Service) DecrementStock(ctx context.Context, storeID, productID int64, qty decimal.Decimal) (decimal.Decimal, error) {
	return s.repo.DecrementStock(ctx, storeID, productID, qty)
}

// CurrentPriceTriplet returns the prices in effect right now.
func (s *Service) CurrentPriceTriplet(ctx context.Context, storeID, productID int64) (pricing.Triplet, error) {
	p, err := s.repo.PriceAt(ctx, storeID, productID, s.now())
	if err != nil {
		return pricing.Triplet{}, err
	}
	return p.Triplet, nil
}

// PriceAt returns the price point in effect at asOf.
func (s *Service) PriceAt(ctx context.Context, storeID, productID int64, asOf time.Time) (pricing.PricePoint, error) {
	return s.repo.PriceAt(ctx, storeID, productID, asOf)
}

// History returns every price point of the product, oldest first.
func (s *Service) History(ctx context.Context, storeID, productID int64) ([]pricing.PricePoint, error) {
	if _, err := s.repo.GetByID(ctx, storeID, productID); err != nil {
		return nil, err
	}
	return s.repo.PriceHistory(ctx, storeID, productID)
}

// ChangePrice appends a price point effective now. When the triplet equals
// the one currently in effect nothing is written and changed is false.
func (s *Service) ChangePrice(ctx context.Context, storeID, productID int64, t pricing.Triplet) (pp pricing.PricePoint, changed bool, err error) {
	if t.Price.IsNegative() || t.Wholesale.IsNegative() || t.Retail.IsNegative() {
		return pricing.PricePoint{}, false, ErrNegativePrice
	}

	now := s.now()
	current, err := s.repo.PriceAt(ctx, storeID, productID, now)
	switch {
	case err == nil:
		if current.Triplet.Equal(t) {
			return current, false, nil
		}
	case errors.Is(err, pricing.ErrNotPriced):
	default:
		return pricing.PricePoint{}, false, errors.Wrap(err, "resolve current price")
	}

	pp, err = s.repo.AddPricePoint(ctx, storeID, productID, t, now)
	if err != nil {
		return pricing.PricePoint{}, false, err
	}
	return pp, true, nil
}
