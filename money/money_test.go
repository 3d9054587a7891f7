package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int
		want     string
		wantErr  bool
	}{
		{name: "five cents USDC", amount: "0.05", decimals: 6, want: "50000"},
		{name: "dollar sign prefix", amount: "$0.05", decimals: 6, want: "50000"},
		{name: "whole dollars", amount: "12", decimals: 6, want: "12000000"},
		{name: "zero", amount: "0", decimals: 6, want: "0"},
		{name: "eighteen decimals", amount: "1.5", decimals: 18, want: "1500000000000000000"},
		{name: "exact precision boundary", amount: "0.000001", decimals: 6, want: "1"},
		{name: "too precise", amount: "0.0000001", decimals: 6, wantErr: true},
		{name: "negative", amount: "-1", decimals: 6, wantErr: true},
		{name: "empty", amount: "", decimals: 6, wantErr: true},
		{name: "garbage", amount: "oops", decimals: 6, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToBaseUnits(tt.amount, tt.decimals)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromBaseUnits(t *testing.T) {
	got, err := FromBaseUnits("50000", 6)
	assert.NoError(t, err)
	assert.Equal(t, "0.05", got)

	got, err = FromBaseUnits("18446744073709551622", 6)
	assert.NoError(t, err)
	assert.Equal(t, "18446744073709.551622", got)

	_, err = FromBaseUnits("nope", 6)
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	base, err := ToBaseUnits("3.141592", 6)
	assert.NoError(t, err)
	human, err := FromBaseUnits(base, 6)
	assert.NoError(t, err)
	assert.Equal(t, "3.141592", human)
}
