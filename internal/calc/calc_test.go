package calc

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRoundCashHalfEven(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1.005", "1.00"},  // ties go to the even cent
		{"1.015", "1.02"},
		{"1.025", "1.02"},
		{"1.035", "1.04"},
		{"2.675", "2.68"},
		{"-1.005", "-1.00"},
		{"100", "100"},
	}
	for _, tc := range cases {
		got := RoundCash(dec(tc.in))
		assert.True(t, dec(tc.want).Equal(got), "RoundCash(%s) = %s, want %s", tc.in, got, tc.want)
	}
}

func TestFrequencyPeriodsPerYear(t *testing.T) {
	for freq, want := range map[Frequency]int64{
		Monthly:    12,
		Quarterly:  4,
		SemiAnnual: 2,
		Annual:     1,
	} {
		n, err := freq.PeriodsPerYear()
		require.NoError(t, err)
		assert.Equal(t, want, n)
		assert.True(t, freq.Valid())
	}

	_, err := Frequency("W").PeriodsPerYear()
	require.Error(t, err)
	assert.False(t, Frequency("W").Valid())
}

func TestAccrueInterest(t *testing.T) {
	// 40,000,000 at 5% annual, quarterly: 500,000 per period.
	got, err := AccrueInterest(dec("40000000"), dec("0.05"), Quarterly)
	require.NoError(t, err)
	assert.True(t, dec("500000").Equal(got), "got %s", got)

	// Monthly accrual of an awkward rate rounds half-even.
	got, err = AccrueInterest(dec("1000"), dec("0.0365"), Monthly)
	require.NoError(t, err)
	assert.True(t, dec("3.04").Equal(got), "got %s", got)

	_, err = AccrueInterest(dec("1000"), dec("0.05"), Frequency("X"))
	require.Error(t, err)
}

func TestDeannualize(t *testing.T) {
	got, err := Deannualize(dec("120000"), Monthly)
	require.NoError(t, err)
	assert.True(t, dec("10000").Equal(got))

	got, err = Deannualize(dec("100"), Quarterly)
	require.NoError(t, err)
	assert.True(t, dec("25").Equal(got))
}

func TestProRataExact(t *testing.T) {
	claims := []Claim{
		{ID: "a", Amount: dec("300")},
		{ID: "b", Amount: dec("100")},
	}
	out := ProRata(claims, dec("200"))
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.True(t, dec("150").Equal(out[0].Amount))
	assert.True(t, dec("50").Equal(out[1].Amount))
}

func TestProRataRemainderToLargestClaim(t *testing.T) {
	claims := []Claim{
		{ID: "a", Amount: dec("100")},
		{ID: "b", Amount: dec("100")},
		{ID: "c", Amount: dec("100")},
	}
	out := ProRata(claims, dec("100"))

	total := decimal.Zero
	for _, al := range out {
		total = total.Add(al.Amount)
	}
	// Shares sum to exactly the distributed amount, remainder included.
	assert.True(t, dec("100").Equal(total), "total %s", total)
	// With equal claims the first is the largest and takes the remainder.
	assert.True(t, dec("33.34").Equal(out[0].Amount), "got %s", out[0].Amount)
	assert.True(t, dec("33.33").Equal(out[1].Amount))
	assert.True(t, dec("33.33").Equal(out[2].Amount))
}

func TestProRataZeroCases(t *testing.T) {
	claims := []Claim{
		{ID: "a", Amount: decimal.Zero},
		{ID: "b", Amount: decimal.Zero},
	}
	for _, al := range ProRata(claims, dec("100")) {
		assert.True(t, al.Amount.IsZero())
	}

	claims = []Claim{{ID: "a", Amount: dec("50")}}
	for _, al := range ProRata(claims, decimal.Zero) {
		assert.True(t, al.Amount.IsZero())
	}

	assert.Empty(t, ProRata(nil, dec("100")))
}
