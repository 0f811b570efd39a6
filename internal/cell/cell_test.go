package cell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in   string
		want Address
	}{
		{"A1", Address{0, 0}},
		{"c12", Address{11, 2}},
		{"$B$3", Address{2, 1}},
		{"Z1", Address{0, 25}},
		{"AA10", Address{9, 26}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAddressRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "A", "1", "A0", "1A", "hello"} {
		_, err := ParseAddress(in)
		assert.Error(t, err, in)
	}
}

func TestAddressString(t *testing.T) {
	assert.Equal(t, "A1", Address{0, 0}.String())
	assert.Equal(t, "C12", Address{11, 2}.String())
	assert.Equal(t, "AA1", Address{0, 26}.String())
}

func TestBounds(t *testing.T) {
	b := Bounds{Rows: 10, Cols: 3}
	assert.True(t, b.Contains(MustParseAddress("C10")))
	assert.False(t, b.Contains(MustParseAddress("D1")))
	assert.False(t, b.Contains(MustParseAddress("A11")))

	var rangeErr *RangeError
	require.ErrorAs(t, b.Check(MustParseAddress("D1")), &rangeErr)
	assert.Equal(t, MustParseAddress("D1"), rangeErr.Addr)

	a := MustParseAddress("B7")
	assert.Equal(t, a, b.Addr(b.Key(a)))

	assert.NoError(t, b.Validate())
	assert.ErrorIs(t, Bounds{}.Validate(), ErrInvalidBounds)
	assert.ErrorIs(t, Bounds{Rows: 1 << 20, Cols: 1 << 14}.Validate(), ErrInvalidBounds)
}

func TestRangeEachClipsToBounds(t *testing.T) {
	r, err := ParseRange("B2:A1")
	require.NoError(t, err)
	assert.Equal(t, "A1:B2", r.String())

	var got []string
	r.Each(Bounds{Rows: 5, Cols: 1}, func(a Address) bool {
		got = append(got, a.String())
		return true
	})
	assert.Equal(t, []string{"A1", "A2"}, got)
}

func TestParseLiteral(t *testing.T) {
	assert.Equal(t, Empty, ParseLiteral(""))
	assert.Equal(t, Number(1.5), ParseLiteral("1.50"))
	assert.Equal(t, Number(-3), ParseLiteral(" -3 "))
	assert.Equal(t, Text("NaN"), ParseLiteral("NaN"))
	assert.Equal(t, Text("Inf"), ParseLiteral("Inf"))
	assert.Equal(t, Text("12abc"), ParseLiteral("12abc"))
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "3", Number(3).String())
	assert.Equal(t, "1.5", Number(1.5).String())
	assert.Equal(t, "0.1", Number(0.1).String())
	assert.Equal(t, "1E+21", Number(1e21).String())
	assert.Equal(t, "#DIV0", Error(ErrDiv0).String())
	assert.Equal(t, "", Empty.String())
}
