package coupon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestCheckDiscounts(t *testing.T) {
	tests := []struct {
		name    string
		pct     *decimal.Decimal
		amt     *decimal.Decimal
		wantErr error
	}{
		{name: "percentage only", pct: dec("20")},
		{name: "amount only", amt: dec("5.50")},
		{name: "zero amount is allowed", amt: dec("0")},
		{name: "both set", pct: dec("20"), amt: dec("5"), wantErr: ErrBothDiscounts},
		{name: "neither set", wantErr: ErrNoDiscount},
		{name: "negative percentage", pct: dec("-1"), wantErr: ErrNegativeDiscount},
		{name: "negative amount", amt: dec("-0.01"), wantErr: ErrNegativeDiscount},
		{name: "full percentage", pct: dec("100")},
		{name: "percentage above 100", pct: dec("1000"), wantErr: ErrDiscountRange},
		{name: "amount too large", amt: dec("10000000000"), wantErr: ErrDiscountRange},
		{name: "largest amount", amt: dec("9999999999.99")},
		{name: "percentage with three decimals", pct: dec("12.345"), wantErr: ErrDiscountScale},
		{name: "amount with trailing zeros", amt: dec("5.5000")},
		{name: "amount with three decimals", amt: dec("0.005"), wantErr: ErrDiscountScale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckDiscounts(tt.pct, tt.amt)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			require.ErrorIs(t, err, ErrRejected)
		})
	}
}

func TestCoupon_ValidAt(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	until := from.Add(30 * 24 * time.Hour)

	bounded := Coupon{ValidFrom: from, ValidUntil: &until}
	open := Coupon{ValidFrom: from}

	tests := []struct {
		name string
		c    Coupon
		at   time.Time
		want bool
	}{
		{name: "before window", c: bounded, at: from.Add(-time.Second), want: false},
		{name: "at start", c: bounded, at: from, want: true},
		{name: "inside", c: bounded, at: from.Add(time.Hour), want: true},
		{name: "at end", c: bounded, at: until, want: true},
		{name: "after end", c: bounded, at: until.Add(time.Second), want: false},
		{name: "open ended far future", c: open, at: from.Add(10 * 365 * 24 * time.Hour), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.ValidAt(tt.at))
		})
	}
}

func TestCoupon_DiscountAndTotal(t *testing.T) {
	tests := []struct {
		name         string
		c            Coupon
		subtotal     string
		wantDiscount string
		wantTotal    string
	}{
		{
			name:         "percentage 20 of 100",
			c:            Coupon{Percentage: dec("20")},
			subtotal:     "100.00",
			wantDiscount: "20.00",
			wantTotal:    "80.00",
		},
		{
			name:         "fixed larger than subtotal floors at zero",
			c:            Coupon{Amount: dec("150.00")},
			subtotal:     "100.00",
			wantDiscount: "150.00",
			wantTotal:    "0.00",
		},
		{
			name:         "fixed smaller than subtotal",
			c:            Coupon{Amount: dec("7.25")},
			subtotal:     "30.00",
			wantDiscount: "7.25",
			wantTotal:    "22.75",
		},
		{
			name:         "percentage rounds to cents",
			c:            Coupon{Percentage: dec("15")},
			subtotal:     "9.99",
			wantDiscount: "1.50",
			wantTotal:    "8.49",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := decimal.RequireFromString(tt.subtotal)
			d := tt.c.Discount(sub)
			assert.True(t, decimal.RequireFromString(tt.wantDiscount).Equal(d), "discount: got %s", d)

			total := Total(sub, d)
			assert.True(t, decimal.RequireFromString(tt.wantTotal).Equal(total), "total: got %s", total)
			assert.False(t, total.IsNegative())
		})
	}
}

func TestTotal_NeverNegative(t *testing.T) {
	for _, s := range []string{"0", "0.01", "10", "99.99", "1000"} {
		for _, d := range []string{"0", "0.02", "10", "100", "5000"} {
			total := Total(decimal.RequireFromString(s), decimal.RequireFromString(d))
			assert.False(t, total.IsNegative(), "S=%s D=%s", s, d)
		}
	}
}

func TestPatch_Apply(t *testing.T) {
	pid := int64(3)
	until := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	c := Coupon{Code: "A", ProductID: &pid, ValidUntil: &until, Percentage: dec("10")}

	p := Patch{
		ProductID:  Null[int64](),
		Percentage: Null[decimal.Decimal](),
		Amount:     Of(decimal.RequireFromString("4")),
	}
	p.Apply(&c)

	assert.Nil(t, c.ProductID)
	assert.Nil(t, c.Percentage)
	require.NotNil(t, c.Amount)
	assert.True(t, decimal.NewFromInt(4).Equal(*c.Amount))
	require.NotNil(t, c.ValidUntil, "unset fields are kept")
	assert.Equal(t, KindAmount, c.Kind())
	require.NoError(t, c.Check())
}

func TestFilter_Match(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	p1, p2 := int64(1), int64(2)
	food := "food"

	scoped := Coupon{Category: food, ProductID: &p1, ValidFrom: now, Amount: dec("1")}
	general := Coupon{ValidFrom: now, Percentage: dec("5")}

	tests := []struct {
		name string
		f    Filter
		c    Coupon
		want bool
	}{
		{name: "empty filter", c: scoped, want: true},
		{name: "category match", f: Filter{Category: &food}, c: scoped, want: true},
		{name: "category mismatch", f: Filter{Category: &food}, c: general, want: false},
		{name: "kind", f: Filter{Kind: KindPercentage}, c: general, want: true},
		{name: "kind mismatch", f: Filter{Kind: KindPercentage}, c: scoped, want: false},
		{name: "product scope hit", f: Filter{ProductIDs: []int64{p1}}, c: scoped, want: true},
		{name: "product scope miss", f: Filter{ProductIDs: []int64{p2}}, c: scoped, want: false},
		{name: "unscoped excluded", f: Filter{ProductIDs: []int64{p2}}, c: general, want: false},
		{name: "unscoped included", f: Filter{ProductIDs: []int64{p2}, IncludeUnscoped: true}, c: general, want: true},
		{name: "not yet valid", f: Filter{ValidAt: ptr(now.Add(-time.Hour))}, c: general, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.f.Match(tt.c))
		})
	}
}

func ptr[T any](v T) *T { return &v }
