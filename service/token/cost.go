package token

import (
	"github.com/shopspring/decimal"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// Option is a priced feature of a creation request.
type Option string

const (
	OptionRevokeMint   Option = "revoke_mint"
	OptionRevokeFreeze Option = "revoke_freeze"
	OptionRevokeUpdate Option = "revoke_update"
	OptionCreatorInfo  Option = "creator_info"
)

// Options lists every priced option in a stable order.
var Options = []Option{OptionRevokeMint, OptionRevokeFreeze, OptionRevokeUpdate, OptionCreatorInfo}

// CostFlags selects the enabled options.
type CostFlags struct {
	RevokeMint   bool `json:"revoke_mint"`
	RevokeFreeze bool `json:"revoke_freeze"`
	RevokeUpdate bool `json:"revoke_update"`
	CreatorInfo  bool `json:"creator_info"`
}

func (f CostFlags) enabled(opt Option) bool {
	switch opt {
	case OptionRevokeMint:
		return f.RevokeMint
	case OptionRevokeFreeze:
		return f.RevokeFreeze
	case OptionRevokeUpdate:
		return f.RevokeUpdate
	case OptionCreatorInfo:
		return f.CreatorInfo
	}
	return false
}

// FeeSchedule holds the service fee in SOL.
type FeeSchedule struct {
	Base       decimal.Decimal
	Surcharges map[Option]decimal.Decimal
}

// DefaultFeeSchedule is the published price list.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		Base: decimal.RequireFromString("0.1"),
		Surcharges: map[Option]decimal.Decimal{
			OptionRevokeMint:   decimal.RequireFromString("0.08"),
			OptionRevokeFreeze: decimal.RequireFromString("0.08"),
			OptionRevokeUpdate: decimal.RequireFromString("0.08"),
			OptionCreatorInfo:  decimal.RequireFromString("0.1"),
		},
	}
}

// CostBreakdown is an itemized service fee. Surcharges only contains
// enabled options.
type CostBreakdown struct {
	Base       decimal.Decimal            `json:"base"`
	Surcharges map[Option]decimal.Decimal `json:"surcharges"`
	Total      decimal.Decimal            `json:"total"`
}

// TotalLamports converts Total to lamports, truncating sub-lamport dust.
func (c CostBreakdown) TotalLamports() uint64 {
	return uint64(c.Total.Shift(9).IntPart())
}

// CostCalculator prices a creation request. It is pure.
type CostCalculator struct {
	schedule FeeSchedule
}

func NewCostCalculator(schedule FeeSchedule) *CostCalculator {
	return &CostCalculator{schedule: schedule}
}

// ComputeTotal returns the fee for the given options.
func (c *CostCalculator) ComputeTotal(flags CostFlags) CostBreakdown {
	breakdown := CostBreakdown{
		Base:       c.schedule.Base,
		Surcharges: make(map[Option]decimal.Decimal),
		Total:      c.schedule.Base,
	}
	for _, opt := range Options {
		if !flags.enabled(opt) {
			continue
		}
		amount := c.schedule.Surcharges[opt]
		breakdown.Surcharges[opt] = amount
		breakdown.Total = breakdown.Total.Add(amount)
	}
	return breakdown
}
