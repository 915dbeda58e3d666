package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    Cents
		wantErr bool
	}{
		{name: "whole dollars", in: "100", want: 10000},
		{name: "two decimals", in: "12.34", want: 1234},
		{name: "one decimal", in: "5.5", want: 550},
		{name: "zero", in: "0.00", want: 0},
		{name: "empty is zero", in: "", want: 0},
		{name: "negative", in: "-3.25", want: -325},
		{name: "trailing zeros beyond cents", in: "1.230000", want: 123},
		{name: "sub-cent precision rejected", in: "0.005", wantErr: true},
		{name: "garbage rejected", in: "12,34", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCents(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCentsString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "12.34", Cents(1234).String())
	assert.Equal(t, "0.00", Cents(0).String())
	assert.Equal(t, "-0.05", Cents(-5).String())
	assert.Equal(t, "100.00", Cents(10000).String())
}

func TestCentsRoundTrip(t *testing.T) {
	t.Parallel()

	for _, c := range []Cents{0, 1, -1, 99, 100, 12345, -98765} {
		got, err := ParseCents(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
}
