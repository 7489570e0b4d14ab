package sale

import (
	"fmt"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/retail-ledger/internal/domain/coupon"
	"github.com/xenking/retail-ledger/internal/domain/pricing"
	"github.com/xenking/retail-ledger/internal/domain/product"
)

func req(productID int64, qty string) LineRequest {
	return LineRequest{ProductID: productID, Quantity: decimal.RequireFromString(qty)}
}

func catalog(prices map[int64]string) PriceLookup {
	return func(productID int64) (decimal.Decimal, error) {
		p, ok := prices[productID]
		if !ok {
			return decimal.Decimal{}, fmt.Errorf("product %d: %w", productID, product.ErrNotFound)
		}
		if p == "" {
			return decimal.Decimal{}, pricing.ErrNotPriced
		}
		return decimal.RequireFromString(p), nil
	}
}

func TestResolveLines(t *testing.T) {
	lookup := catalog(map[int64]string{1: "2.00", 2: "3.50", 3: ""})

	tests := []struct {
		name      string
		reqs      []LineRequest
		policy    LinePolicy
		wantIDs   []int64
		wantErr   error
		wantErrAs any
	}{
		{name: "empty", policy: LineSkip, wantErr: ErrEmptyLines},
		{name: "zero quantity", reqs: []LineRequest{req(1, "0")}, policy: LineSkip, wantErrAs: new(*InvalidQuantityError)},
		{name: "negative quantity", reqs: []LineRequest{req(1, "-1")}, policy: LineSkip, wantErrAs: new(*InvalidQuantityError)},
		{name: "quantity below storable scale", reqs: []LineRequest{req(1, "0.0004")}, policy: LineSkip, wantErrAs: new(*InvalidQuantityError)},
		{name: "quantity with four decimals", reqs: []LineRequest{req(2, "1"), req(1, "1.2345")}, policy: LineSkip, wantErrAs: new(*InvalidQuantityError)},
		{name: "trailing zeros within scale", reqs: []LineRequest{req(1, "1.2000"), req(2, "0.125")}, policy: LineSkip, wantIDs: []int64{1, 2}},
		{name: "all known", reqs: []LineRequest{req(2, "1"), req(1, "0.5")}, policy: LineSkip, wantIDs: []int64{2, 1}},
		{name: "skip unknown", reqs: []LineRequest{req(1, "1"), req(9, "1"), req(2, "1")}, policy: LineSkip, wantIDs: []int64{1, 2}},
		{name: "all unknown", reqs: []LineRequest{req(9, "1")}, policy: LineSkip, wantErr: ErrNoLines},
		{name: "strict unknown", reqs: []LineRequest{req(1, "1"), req(9, "1")}, policy: LineStrict, wantErrAs: new(*ProductNotFoundError)},
		{name: "unpriced aborts", reqs: []LineRequest{req(1, "1"), req(3, "1")}, policy: LineSkip, wantErr: pricing.ErrNotPriced},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, err := ResolveLines(tt.reqs, lookup, tt.policy)
			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
				return
			case tt.wantErrAs != nil:
				require.True(t, errors.As(err, tt.wantErrAs), "got %v", err)
				return
			}
			require.NoError(t, err)
			ids := make([]int64, len(lines))
			for i, l := range lines {
				ids[i] = l.ProductID
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestPrice(t *testing.T) {
	lines := []Line{
		{ProductID: 1, Quantity: decimal.RequireFromString("2"), UnitPrice: decimal.RequireFromString("25.00")},
		{ProductID: 2, Quantity: decimal.RequireFromString("0.5"), UnitPrice: decimal.RequireFromString("100.00")},
	}
	pct := decimal.NewFromInt(20)
	fixed := decimal.RequireFromString("150.00")

	tests := []struct {
		name         string
		discount     DiscountFunc
		wantDiscount string
		wantTotal    string
	}{
		{name: "no coupon", wantDiscount: "0", wantTotal: "100.00"},
		{name: "percentage", discount: coupon.Coupon{Percentage: &pct}.Discount, wantDiscount: "20.00", wantTotal: "80.00"},
		{name: "fixed above subtotal is capped", discount: coupon.Coupon{Amount: &fixed}.Discount, wantDiscount: "100.00", wantTotal: "0.00"},
		{name: "fixed", discount: FixedDiscount(decimal.RequireFromString("12.34")), wantDiscount: "12.34", wantTotal: "87.66"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Price(lines, tt.discount)
			assert.True(t, decimal.RequireFromString("100.00").Equal(a.Subtotal), "subtotal %s", a.Subtotal)
			assert.True(t, decimal.RequireFromString(tt.wantDiscount).Equal(a.Discount), "discount %s", a.Discount)
			assert.True(t, decimal.RequireFromString(tt.wantTotal).Equal(a.Total), "total %s", a.Total)
			assert.True(t, a.Total.Equal(a.Subtotal.Sub(a.Discount)))
			assert.False(t, a.Discount.IsNegative())
			assert.False(t, a.Total.IsNegative())
		})
	}
}

func TestReprice(t *testing.T) {
	lines := []Line{{ProductID: 1, Quantity: decimal.NewFromInt(3), UnitPrice: decimal.NewFromInt(10)}}
	pct := decimal.NewFromInt(10)
	amt := decimal.NewFromInt(50)

	var recorded Sale
	recorded.ApplyCoupon(coupon.Coupon{ID: 4, Code: "TEN", Percentage: &pct})
	a := Reprice(recorded, lines)
	assert.True(t, decimal.NewFromInt(3).Equal(a.Discount))

	// The recorded terms are a copy of the coupon's.
	pct = decimal.NewFromInt(90)
	a = Reprice(recorded, lines)
	assert.True(t, decimal.NewFromInt(3).Equal(a.Discount))

	a = Reprice(Sale{CouponAmount: &amt}, lines)
	assert.True(t, decimal.NewFromInt(30).Equal(a.Discount))
	assert.True(t, a.Total.IsZero())

	a = Reprice(Sale{Discount: decimal.NewFromInt(4)}, lines)
	assert.True(t, a.Discount.IsZero())
	assert.True(t, decimal.NewFromInt(30).Equal(a.Total))
}

func TestStockDelta(t *testing.T) {
	removed := []Line{
		{ProductID: 7, Quantity: decimal.NewFromInt(1)},
		{ProductID: 3, Quantity: decimal.NewFromInt(2)},
	}
	added := []Line{
		{ProductID: 7, Quantity: decimal.RequireFromString("0.5")},
		{ProductID: 9, Quantity: decimal.NewFromInt(4)},
		{ProductID: 9, Quantity: decimal.NewFromInt(1)},
	}

	delta := StockDelta(removed, added)
	assert.Equal(t, []int64{3, 7, 9}, LockOrder(delta))
	assert.True(t, decimal.NewFromInt(2).Equal(delta[3]))
	assert.True(t, decimal.RequireFromString("0.5").Equal(delta[7]))
	assert.True(t, decimal.NewFromInt(-5).Equal(delta[9]))

	sold := StockDelta(nil, added)
	assert.True(t, decimal.RequireFromString("-0.5").Equal(sold[7]))
}

func TestParsePaymentMethod(t *testing.T) {
	for in, want := range map[string]PaymentMethod{
		"CASH":      PaymentCash,
		"card":      PaymentCard,
		" Transfer": PaymentTransfer,
	} {
		got, err := ParsePaymentMethod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParsePaymentMethod("CHEQUE")
	require.ErrorIs(t, err, ErrInvalidPaymentMethod)
	_, err = ParsePaymentMethod("")
	require.ErrorIs(t, err, ErrInvalidPaymentMethod)
}

func TestParseLinePolicy(t *testing.T) {
	p, err := ParseLinePolicy("")
	require.NoError(t, err)
	assert.Equal(t, LineSkip, p)

	p, err = ParseLinePolicy("strict")
	require.NoError(t, err)
	assert.Equal(t, LineStrict, p)

	_, err = ParseLinePolicy("lenient")
	require.Error(t, err)
}

func TestNotCreatedError(t *testing.T) {
	cause := errors.New("connection reset")
	var err error = &NotCreatedError{Err: cause}

	assert.Equal(t, "sale not created", err.Error())
	assert.ErrorIs(t, err, cause)
}
