package domain

import "time"

// RiskLevel buckets a health factor. Ordered from most to least severe.
type RiskLevel string

const (
	RiskCritical RiskLevel = "critical"
	RiskHigh     RiskLevel = "high"
	RiskModerate RiskLevel = "moderate"
	RiskLow      RiskLevel = "low"
	RiskSafe     RiskLevel = "safe"
)

// Priority orders alerts for execution.
type Priority string

const (
	PriorityEmergency Priority = "EMERGENCY"
	PriorityHigh      Priority = "HIGH"
	PriorityNormal    Priority = "NORMAL"
	PriorityLow       Priority = "LOW"
)

// Source records which reasoning path produced a number.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
)

type Method string

const (
	MethodDirectSwap     Method = "direct-swap"
	MethodLayerZeroPYUSD Method = "layerzero-pyusd"
	MethodFusion         Method = "fusion-cross-chain"
	MethodStandardBridge Method = "standard-bridge"
)

// NoDebtHealthFactor stands in for an unbounded health factor.
const NoDebtHealthFactor = 999.0

type Position struct {
	ID               string
	UserAddress      string
	Protocol         string
	Chain            string
	CollateralToken  string
	CollateralAmount float64
	DebtToken        string
	DebtAmount       float64
	HealthFactor     float64
	LastUpdated      time.Time
}

type Alert struct {
	ID                      string
	PositionID              string
	HealthFactor            float64
	CollateralValueUSD      float64
	DebtValueUSD            float64
	RiskLevel               RiskLevel
	Urgency                 float64
	LiquidationProbability  float64
	ExecutionPriority       Priority
	RequiresImmediateAction bool
	Source                  Source
	Position                Position
	Timestamp               time.Time
}

type Candidate struct {
	Protocol         string
	Chain            string
	Token            string
	Pool             string
	APY              float64
	ExecutionCostUSD float64
	IsCrossChain     bool
	IsCrossAsset     bool
	PoolTVL          float64
}

type Selected struct {
	Candidate

	SourceProtocol  string
	SourceChain     string
	CurrentAPY      float64
	APYImprovement  float64
	AnnualProfitUSD float64
	BreakEvenMonths float64
	BreakEvenDays   float64
	Score           float64
	Confidence      float64
	Method          Method
	Reasoning       string
	Source          Source
}

// Instruction carries a selected strategy from the scorer to the planner.
type Instruction struct {
	ID       string
	AlertID  string
	Position Position
	Strategy Selected
}

type Result struct {
	PositionID   string
	PlanID       string
	Success      bool
	TxIDs        []string
	Message      string
	ActualGasUSD float64
	Timestamp    time.Time
}

// Yield is one pool row from the yield source.
type Yield struct {
	Protocol string
	Chain    string
	Token    string
	Pool     string
	APY      float64
	TVLUSD   float64
}

type SwapQuote struct {
	OutputAmount float64
	GasUSD       float64
	Route        string
}

type CrossChainQuote struct {
	OutputAmount  float64
	QuoteID       string
	ExecutionTime time.Duration
}
