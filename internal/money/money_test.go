package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want Amount
	}{
		{"0", 0},
		{"120", 12000},
		{"120.5", 12050},
		{"120.50", 12050},
		{"0.07", 7},
		{"-3.25", -325},
		{".99", 99},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", ".", "12.345", "abc", "1,5"} {
		_, err := Parse(in)
		require.Error(t, err, in)
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, a := range []Amount{0, 5, 99, 100, 12050, -325} {
		parsed, err := Parse(a.String())
		require.NoError(t, err)
		require.Equal(t, a, parsed)
	}
}

func TestJSONEncoding(t *testing.T) {
	data, err := json.Marshal(Amount(12050))
	require.NoError(t, err)
	require.Equal(t, `"120.50"`, string(data))

	var fromString Amount
	require.NoError(t, json.Unmarshal([]byte(`"40.25"`), &fromString))
	require.Equal(t, Amount(4025), fromString)

	var fromNumber Amount
	require.NoError(t, json.Unmarshal([]byte(`40.25`), &fromNumber))
	require.Equal(t, Amount(4025), fromNumber)
}

func TestSplitProportionalExact(t *testing.T) {
	// 100 split 60/40 applied in full keeps the original proportions.
	parts, err := SplitProportional(10000, []Amount{6000, 4000})
	require.NoError(t, err)
	require.Equal(t, []Amount{6000, 4000}, parts)
}

func TestSplitProportionalPartial(t *testing.T) {
	// 40 applied out of a 100 payment split 60/40 yields 24/16.
	parts, err := SplitProportional(4000, []Amount{6000, 4000})
	require.NoError(t, err)
	require.Equal(t, []Amount{2400, 1600}, parts)
}

func TestSplitProportionalRemainderOnLast(t *testing.T) {
	// 100 cents over three equal weights: 33 + 33 + 34.
	parts, err := SplitProportional(100, []Amount{1, 1, 1})
	require.NoError(t, err)
	require.Equal(t, []Amount{33, 33, 34}, parts)

	var sum Amount
	for _, p := range parts {
		sum += p
	}
	require.Equal(t, Amount(100), sum)
}

func TestSplitProportionalConservation(t *testing.T) {
	weights := []Amount{3333, 1250, 777, 10}
	for _, total := range []Amount{1, 99, 101, 5370, 99999} {
		parts, err := SplitProportional(total, weights)
		require.NoError(t, err)
		require.Len(t, parts, len(weights))
		var sum Amount
		for _, p := range parts {
			sum += p
		}
		require.Equal(t, total, sum, "total %s", total)
	}
}

func TestSplitProportionalRejectsBadWeights(t *testing.T) {
	_, err := SplitProportional(100, nil)
	require.Error(t, err)
	_, err = SplitProportional(100, []Amount{0, 0})
	require.Error(t, err)
	_, err = SplitProportional(100, []Amount{50, -10})
	require.Error(t, err)
}

func TestFormatter(t *testing.T) {
	f := NewFormatter("en")
	require.Equal(t, "1,234,567.89", f.Format(123456789))
	require.Equal(t, "-0.05", f.Format(-5))
}
