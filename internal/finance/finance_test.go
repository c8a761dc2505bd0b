package finance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSplit(t *testing.T) {
	cases := []struct {
		gross, rate     string
		commission, net string
	}{
		{"189.90", "0.10", "18.99", "170.91"},
		{"100.00", "0.10", "10.00", "90.00"},
		{"99.99", "0.10", "10.00", "89.99"},
		{"0.01", "0.10", "0.00", "0.01"},
		{"50.00", "0.00", "0.00", "50.00"},
		{"10.00", "0.15", "1.50", "8.50"},
	}
	for _, tc := range cases {
		commission, net := Split(dec(tc.gross), dec(tc.rate))
		assert.True(t, dec(tc.commission).Equal(commission),
			"gross=%s rate=%s commission want %s got %s", tc.gross, tc.rate, tc.commission, commission)
		assert.True(t, dec(tc.net).Equal(net),
			"gross=%s rate=%s net want %s got %s", tc.gross, tc.rate, tc.net, net)
	}
}

func TestSplitBankersRounding(t *testing.T) {
	// Half-cent values round to the even cent.
	commission, _ := Split(dec("100.50"), dec("0.105")) // 10.5525 -> 10.55
	assert.True(t, dec("10.55").Equal(commission), "got %s", commission)

	commission, _ = Split(dec("1.25"), dec("0.10")) // 0.125 -> 0.12 (even)
	assert.True(t, dec("0.12").Equal(commission), "got %s", commission)

	commission, _ = Split(dec("1.75"), dec("0.10")) // 0.175 -> 0.18 (even)
	assert.True(t, dec("0.18").Equal(commission), "got %s", commission)
}

func TestSplitSumsToGross(t *testing.T) {
	for _, gross := range []string{"189.90", "0.03", "1234.56", "7.77"} {
		g := dec(gross)
		commission, net := Split(g, dec("0.10"))
		assert.True(t, g.Equal(commission.Add(net)),
			"gross=%s commission=%s net=%s", gross, commission, net)
	}
}

func TestDefaultCommissionRate(t *testing.T) {
	assert.True(t, dec("0.10").Equal(DefaultCommissionRate))
}
