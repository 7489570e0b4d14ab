package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Service answers validity and applicability queries and guards the
// discount exclusivity invariant on writes.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a coupon Service backed by the given Repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Add creates a coupon. ValidFrom defaults to now.
func (s *Service) Add(ctx context.Context, storeID int64, req Request) (Coupon, error) {
	c := Coupon{
		StoreID:     storeID,
		Code:        strings.TrimSpace(req.Code),
		Description: req.Description,
		Category:    req.Category,
		ProductID:   req.ProductID,
		ValidUntil:  req.ValidUntil,
		Percentage:  req.Percentage,
		Amount:      req.Amount,
	}
	if req.ValidFrom != nil {
		c.ValidFrom = *req.ValidFrom
	} else {
		c.ValidFrom = s.now()
	}
	if err := c.Check(); err != nil {
		return Coupon{}, err
	}

	created, err := s.repo.Create(ctx, c)
	if err != nil {
		return Coupon{}, errors.Wrap(err, "create coupon")
	}
	return created, nil
}

// GetByCode returns the coupon or ErrNotFound. Codes match case-insensitively.
func (s *Service) GetByCode(ctx context.Context, storeID int64, code string) (Coupon, error) {
	return s.repo.GetByCode(ctx, storeID, strings.TrimSpace(code))
}

// IsValid reports whether the coupon exists and is inside its window at at.
func (s *Service) IsValid(ctx context.Context, storeID int64, code string, at time.Time) (bool, error) {
	c, err := s.GetByCode(ctx, storeID, code)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "lookup coupon")
	}
	return c.ValidAt(at), nil
}

// ApplicableTo lists coupons valid at at whose scope is unset or productID.
func (s *Service) ApplicableTo(ctx context.Context, storeID, productID int64, at time.Time) ([]Coupon, error) {
	return s.repo.List(ctx, storeID, Filter{
		ProductIDs:      []int64{productID},
		IncludeUnscoped: true,
		ValidAt:         &at,
	})
}

// ByCategory lists coupons tagged with category.
func (s *Service) ByCategory(ctx context.Context, storeID int64, category string) ([]Coupon, error) {
	return s.repo.List(ctx, storeID, Filter{Category: &category})
}

// PercentageCoupons lists coupons using the percentage model.
func (s *Service) PercentageCoupons(ctx context.Context, storeID int64) ([]Coupon, error) {
	return s.repo.List(ctx, storeID, Filter{Kind: KindPercentage})
}

// AmountCoupons lists coupons using the fixed amount model.
func (s *Service) AmountCoupons(ctx context.Context, storeID int64) ([]Coupon, error) {
	return s.repo.List(ctx, storeID, Filter{Kind: KindAmount})
}

// ForProducts lists coupons scoped to any of productIDs plus unscoped ones.
// Validity is not considered.
func (s *Service) ForProducts(ctx context.Context, storeID int64, productIDs []int64) ([]Coupon, error) {
	if productIDs == nil {
		productIDs = []int64{}
	}
	return s.repo.List(ctx, storeID, Filter{
		ProductIDs:      productIDs,
		IncludeUnscoped: true,
	})
}

// List returns coupons matching an arbitrary filter.
func (s *Service) List(ctx context.Context, storeID int64, f Filter) ([]Coupon, error) {
	return s.repo.List(ctx, storeID, f)
}

// Update merges the patch into the stored coupon and re-checks the merged
// result before it is written.
func (s *Service) Update(ctx context.Context, storeID int64, code string, p Patch) (Coupon, error) {
	return s.repo.Modify(ctx, storeID, strings.TrimSpace(code), func(c *Coupon) error {
		p.Apply(c)
		return c.Check()
	})
}

// Delete removes the coupon. Sales that used it keep their recorded discount.
func (s *Service) Delete(ctx context.Context, storeID int64, code string) error {
	return s.repo.Delete(ctx, storeID, strings.TrimSpace(code))
}
