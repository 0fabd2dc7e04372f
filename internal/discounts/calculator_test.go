package discounts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestCalculate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name     string
		base     int64
		discount *Discount
		want     Calculation
	}{
		{
			name: "no discount",
			base: 110000,
			want: Calculation{BaseAmount: 110000, FinalAmount: 110000, SupplyAmount: 100000, VATAmount: 10000},
		},
		{
			name:     "percent floors to the won",
			base:     99999,
			discount: &Discount{ID: 1, Type: TypePercent, Value: 15, IsActive: true},
			want:     Calculation{BaseAmount: 99999, DiscountID: ptr(int64(1)), DiscountAmount: 14999, FinalAmount: 85000, SupplyAmount: 77273, VATAmount: 7727},
		},
		{
			name:     "percent capped by max discount",
			base:     500000,
			discount: &Discount{ID: 2, Type: TypePercent, Value: 20, MaxDiscount: ptr(int64(50000)), IsActive: true},
			want:     Calculation{BaseAmount: 500000, DiscountID: ptr(int64(2)), DiscountAmount: 50000, FinalAmount: 450000, SupplyAmount: 409091, VATAmount: 40909},
		},
		{
			name:     "fixed capped by base",
			base:     30000,
			discount: &Discount{ID: 3, Type: TypeFixed, Value: 50000, IsActive: true},
			want:     Calculation{BaseAmount: 30000, DiscountID: ptr(int64(3)), DiscountAmount: 30000},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Calculate(tc.base, tc.discount, now)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, got.FinalAmount, got.SupplyAmount+got.VATAmount)
		})
	}
}

func TestCalculateRejectsInapplicableDiscounts(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	later := now.Add(24 * time.Hour)
	earlier := now.Add(-24 * time.Hour)

	_, err := Calculate(0, nil, now)
	require.ErrorIs(t, err, ErrInvalidAmount)

	cases := map[string]struct {
		d    Discount
		want error
	}{
		"inactive":    {Discount{Type: TypeFixed, Value: 1}, ErrInactive},
		"not started": {Discount{Type: TypeFixed, Value: 1, IsActive: true, ValidFrom: &later}, ErrNotStarted},
		"expired":     {Discount{Type: TypeFixed, Value: 1, IsActive: true, ValidTo: &earlier}, ErrExpired},
		"exhausted":   {Discount{Type: TypeFixed, Value: 1, IsActive: true, UsageLimit: ptr(2), UsageCount: 2}, ErrUsageExhausted},
		"minimum":     {Discount{Type: TypeFixed, Value: 1, IsActive: true, MinAmount: 100001}, ErrBelowMinimum},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			d := tc.d
			_, err := Calculate(100000, &d, now)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSplitVAT(t *testing.T) {
	for total, want := range map[int64][2]int64{
		0:      {0, 0},
		1000:   {909, 91},
		1005:   {914, 91},
		55000:  {50000, 5000},
		100001: {90910, 9091},
	} {
		supply, vat := SplitVAT(total)
		assert.Equal(t, want, [2]int64{supply, vat}, "total %d", total)
	}
}

func TestVerify(t *testing.T) {
	d := &Discount{ID: 9, Type: TypePercent, Value: 10, IsActive: true}
	ok := Verify(Calculation{BaseAmount: 100000, DiscountAmount: 10000, FinalAmount: 90000, SupplyAmount: 81818, VATAmount: 8182}, d)
	assert.True(t, ok.Consistent)
	assert.Empty(t, ok.Mismatches)

	bad := Verify(Calculation{BaseAmount: 100000, DiscountAmount: 10000, FinalAmount: 91000, SupplyAmount: 81818, VATAmount: 8182}, d)
	assert.False(t, bad.Consistent)
	fields := make([]string, 0, len(bad.Mismatches))
	for _, m := range bad.Mismatches {
		fields = append(fields, m.Field)
	}
	assert.ElementsMatch(t, []string{"final_amount", "supply_plus_vat"}, fields)
}
