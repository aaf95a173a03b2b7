package rules

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestTickSize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		price string
		tick  string
	}{
		{"999", "1"},
		{"1000", "5"},
		{"4999", "5"},
		{"5000", "10"},
		{"9999", "10"},
		{"10000", "50"},
		{"49999", "50"},
		{"50000", "100"},
		{"99999", "100"},
		{"100000", "500"},
		{"499999", "500"},
		{"500000", "1000"},
		{"1000000", "1000"},
	}
	for _, tc := range cases {
		got := TickSize(d(tc.price))
		require.True(t, got.Equal(d(tc.tick)), "price %s: want tick %s, got %s", tc.price, tc.tick, got)
	}
}

func TestSellLimitPrice(t *testing.T) {
	t.Parallel()

	// Grid-aligned input: exactly two ticks below.
	limit, err := SellLimitPrice(d("10000"))
	require.NoError(t, err)
	require.True(t, limit.Equal(d("9900")))

	// Off-grid input: two ticks below, then floored onto the grid.
	limit, err = SellLimitPrice(d("10010"))
	require.NoError(t, err)
	require.True(t, limit.Equal(d("9900")))

	limit, err = SellLimitPrice(d("1500"))
	require.NoError(t, err)
	require.True(t, limit.Equal(d("1490")))

	// Result must stay positive.
	_, err = SellLimitPrice(d("2"))
	require.Error(t, err)

	_, err = SellLimitPrice(decimal.Zero)
	require.Error(t, err)
}

func TestBuyLimitPrice(t *testing.T) {
	t.Parallel()

	limit, err := BuyLimitPrice(d("10000"), 2)
	require.NoError(t, err)
	require.True(t, limit.Equal(d("10100")))

	// Crossing the 1000-won band boundary picks up the bigger tick mid-walk.
	limit, err = BuyLimitPrice(d("999"), 2)
	require.NoError(t, err)
	require.True(t, limit.Equal(d("1005")))

	limit, err = BuyLimitPrice(d("999"), 0)
	require.NoError(t, err)
	require.True(t, limit.Equal(d("999")))

	_, err = BuyLimitPrice(decimal.Zero, 2)
	require.Error(t, err)

	_, err = BuyLimitPrice(d("100"), -1)
	require.Error(t, err)
}
