package plan

import "time"

type Kind string

const (
	KindRepayDebt          Kind = "repay_debt"
	KindWithdrawCollateral Kind = "withdraw_collateral"
	KindSwap               Kind = "swap"
	KindBridge             Kind = "bridge"
	KindFusionCrossChain   Kind = "fusion_cross_chain"
	KindSupplyCollateral   Kind = "supply_collateral"
)

// Step is one of the structs below. The unexported method closes the set.
type Step interface {
	Kind() Kind
	GasUSD() float64
	step()
}

type RepayDebt struct {
	Protocol string
	Chain    string
	Asset    string
	Amount   float64
	Gas      float64
}

type WithdrawCollateral struct {
	Protocol string
	Chain    string
	Asset    string
	Amount   float64
	Gas      float64
}

type Swap struct {
	Chain          string
	FromToken      string
	ToToken        string
	Amount         float64
	ExpectedOutput float64
	Route          string
	Gas            float64
}

type Bridge struct {
	FromChain string
	ToChain   string
	Asset     string
	Amount    float64
	Protocol  string
	Gas       float64
}

type FusionCrossChain struct {
	FromChain      string
	ToChain        string
	Asset          string
	Amount         float64
	ExpectedOutput float64
	QuoteID        string
	ExecutionTime  time.Duration
}

type SupplyCollateral struct {
	Protocol string
	Chain    string
	Asset    string
	Amount   float64
	Gas      float64
}

func (RepayDebt) Kind() Kind          { return KindRepayDebt }
func (WithdrawCollateral) Kind() Kind { return KindWithdrawCollateral }
func (Swap) Kind() Kind               { return KindSwap }
func (Bridge) Kind() Kind             { return KindBridge }
func (FusionCrossChain) Kind() Kind   { return KindFusionCrossChain }
func (SupplyCollateral) Kind() Kind   { return KindSupplyCollateral }

func (s RepayDebt) GasUSD() float64          { return s.Gas }
func (s WithdrawCollateral) GasUSD() float64 { return s.Gas }
func (s Swap) GasUSD() float64               { return s.Gas }
func (s Bridge) GasUSD() float64             { return s.Gas }
func (FusionCrossChain) GasUSD() float64     { return 0 }
func (s SupplyCollateral) GasUSD() float64   { return s.Gas }

func (RepayDebt) step()          {}
func (WithdrawCollateral) step() {}
func (Swap) step()               {}
func (Bridge) step()             {}
func (FusionCrossChain) step()   {}
func (SupplyCollateral) step()   {}
