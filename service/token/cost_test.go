package token

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestComputeTotal(t *testing.T) {
	calc := NewCostCalculator(DefaultFeeSchedule())

	tests := []struct {
		name      string
		flags     CostFlags
		total     string
		lamports  uint64
		surcharge []Option
	}{
		{
			name:     "base only",
			flags:    CostFlags{},
			total:    "0.1",
			lamports: 100_000_000,
		},
		{
			name:      "revoke mint and freeze",
			flags:     CostFlags{RevokeMint: true, RevokeFreeze: true},
			total:     "0.26",
			lamports:  260_000_000,
			surcharge: []Option{OptionRevokeMint, OptionRevokeFreeze},
		},
		{
			name:      "creator info",
			flags:     CostFlags{CreatorInfo: true},
			total:     "0.2",
			lamports:  200_000_000,
			surcharge: []Option{OptionCreatorInfo},
		},
		{
			name:      "everything",
			flags:     CostFlags{RevokeMint: true, RevokeFreeze: true, RevokeUpdate: true, CreatorInfo: true},
			total:     "0.44",
			lamports:  440_000_000,
			surcharge: []Option{OptionRevokeMint, OptionRevokeFreeze, OptionRevokeUpdate, OptionCreatorInfo},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc.ComputeTotal(tt.flags)

			assert.True(t, got.Total.Equal(decimal.RequireFromString(tt.total)), "total %s", got.Total)
			assert.Equal(t, tt.lamports, got.TotalLamports())
			assert.Len(t, got.Surcharges, len(tt.surcharge))
			for _, opt := range tt.surcharge {
				assert.Contains(t, got.Surcharges, opt)
			}
		})
	}
}

func TestComputeTotal_IsPure(t *testing.T) {
	calc := NewCostCalculator(DefaultFeeSchedule())
	flags := CostFlags{RevokeUpdate: true}

	first := calc.ComputeTotal(flags)
	first.Surcharges[OptionCreatorInfo] = decimal.NewFromInt(5)
	second := calc.ComputeTotal(flags)

	assert.True(t, second.Total.Equal(decimal.RequireFromString("0.18")))
	assert.NotContains(t, second.Surcharges, OptionCreatorInfo)
}

func TestComputeTotal_CustomSchedule(t *testing.T) {
	schedule := DefaultFeeSchedule()
	schedule.Base = decimal.RequireFromString("0.05")
	calc := NewCostCalculator(schedule)

	got := calc.ComputeTotal(CostFlags{RevokeMint: true})
	assert.Equal(t, uint64(130_000_000), got.TotalLamports())
}
