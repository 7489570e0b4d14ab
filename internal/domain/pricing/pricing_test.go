package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func point(id int64, retail string, at time.Time) PricePoint {
	r := decimal.RequireFromString(retail)
	return PricePoint{
		ID:          id,
		ProductID:   1,
		Triplet:     Triplet{Price: r, Wholesale: r, Retail: r},
		EffectiveAt: at,
	}
}

func TestResolve(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	history := []PricePoint{
		point(3, "12.00", base.Add(48*time.Hour)),
		point(1, "10.00", base),
		point(2, "11.00", base.Add(24*time.Hour)),
	}

	tests := []struct {
		name    string
		points  []PricePoint
		asOf    time.Time
		wantID  int64
		wantErr error
	}{
		{
			name:    "empty history is not priced",
			asOf:    base,
			wantErr: ErrNotPriced,
		},
		{
			name:    "all points in the future",
			points:  history,
			asOf:    base.Add(-time.Second),
			wantErr: ErrNotPriced,
		},
		{
			name:   "exact effective timestamp is included",
			points: history,
			asOf:   base,
			wantID: 1,
		},
		{
			name:   "between points picks the earlier one",
			points: history,
			asOf:   base.Add(36 * time.Hour),
			wantID: 2,
		},
		{
			name:   "after last point picks the latest",
			points: history,
			asOf:   base.Add(365 * 24 * time.Hour),
			wantID: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.points, tt.asOf)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestResolve_Monotonic(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	history := []PricePoint{
		point(1, "10.00", base),
		point(2, "11.00", base.Add(time.Hour)),
	}

	// No point lies in (t1, t2], so both instants resolve identically.
	t1 := base.Add(time.Minute)
	t2 := base.Add(59 * time.Minute)

	p1, err := Resolve(history, t1)
	require.NoError(t, err)
	p2, err := Resolve(history, t2)
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
	assert.True(t, p1.Triplet.Equal(p2.Triplet))
}
