package slave

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecimalBinSize(t *testing.T) {
	tests := []struct {
		precision, scale, want int
	}{
		{10, 4, 5},
		{10, 0, 5},
		{5, 2, 3},
		{18, 9, 8},
		{9, 9, 4},
		{65, 30, 30},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, decimalBinSize(tc.precision, tc.scale),
			"decimal(%d,%d)", tc.precision, tc.scale)
	}
}

func TestDecimal_RoundTrip(t *testing.T) {
	tests := []struct {
		precision, scale int
		value            string
	}{
		{10, 4, "-1234.5678"},
		{10, 4, "1234.5678"},
		{10, 4, "0.0000"},
		{10, 4, "-0.0001"},
		{10, 4, "999999.9999"},
		{10, 4, "-999999.9999"},
		{10, 0, "1234567890"},
		{10, 0, "-1234567890"},
		{5, 2, "123.45"},
		{5, 2, "-123.45"},
		{18, 9, "123456789.987654321"},
		{20, 10, "-9876543210.0123456789"},
		{9, 9, "0.123456789"},
		{1, 0, "0"},
		{1, 0, "9"},
		{1, 0, "-9"},
	}
	for _, tc := range tests {
		t.Run(tc.value, func(t *testing.T) {
			want, err := decimal.NewFromString(tc.value)
			require.NoError(t, err)

			encoded, err := encodeDecimal(want, tc.precision, tc.scale)
			require.NoError(t, err)
			require.Len(t, encoded, decimalBinSize(tc.precision, tc.scale))

			got, err := decodeDecimal(cellReader(encoded), tc.precision, tc.scale)
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "got %s want %s", got, want)

			// re-encoding the decoded value must reproduce the bytes
			again, err := encodeDecimal(got, tc.precision, tc.scale)
			require.NoError(t, err)
			assert.Equal(t, encoded, again)
		})
	}
}

func TestDecimal_CanonicalString(t *testing.T) {
	want := decimal.RequireFromString("-1234.5678")
	encoded, err := encodeDecimal(want, 10, 4)
	require.NoError(t, err)
	got, err := decodeDecimal(cellReader(encoded), 10, 4)
	require.NoError(t, err)
	assert.Equal(t, "-1234.5678", got.StringFixed(4))
}

func TestDecimal_DoesNotFit(t *testing.T) {
	d := decimal.RequireFromString("123456.7")
	_, err := encodeDecimal(d, 5, 2)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}
