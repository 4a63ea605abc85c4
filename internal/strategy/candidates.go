package strategy

import (
	"liqx-bot/internal/chains"
	"liqx-bot/internal/domain"
)

const (
	DefaultGasUSD      = 50.0
	solanaBridgeUSD    = 15.0
	layerTwoBridgeUSD  = 10.0
	crossAssetSwapUSD  = 5.0
	defaultTargetToken = "USDC"
)

// CostModel estimates what it costs to move a position into a pool.
type CostModel struct {
	GasUSD float64
}

func (m CostModel) Cost(currentChain, collateralToken string, y domain.Yield) (cost float64, crossChain, crossAsset bool) {
	gas := m.GasUSD
	if gas <= 0 {
		gas = DefaultGasUSD
	}
	cost = gas
	target := chains.Normalize(y.Chain)
	crossChain = target != chains.Normalize(currentChain)
	if crossChain {
		switch target {
		case "solana":
			cost += solanaBridgeUSD
		case "arbitrum", "optimism", "base":
			cost += layerTwoBridgeUSD
		}
	}
	crossAsset = targetToken(y) != collateralToken
	if crossAsset {
		cost += crossAssetSwapUSD
	}
	return cost, crossChain, crossAsset
}

// BuildCandidates turns yield rows into costed candidates for a position.
func BuildCandidates(pos domain.Position, currentChain string, yields []domain.Yield, model CostModel) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(yields))
	for _, y := range yields {
		cost, crossChain, crossAsset := model.Cost(currentChain, pos.CollateralToken, y)
		out = append(out, domain.Candidate{
			Protocol:         y.Protocol,
			Chain:            chains.Normalize(y.Chain),
			Token:            targetToken(y),
			Pool:             y.Pool,
			APY:              y.APY,
			ExecutionCostUSD: cost,
			IsCrossChain:     crossChain,
			IsCrossAsset:     crossAsset,
			PoolTVL:          y.TVLUSD,
		})
	}
	return out
}

func targetToken(y domain.Yield) string {
	if y.Token == "" {
		return defaultTargetToken
	}
	return y.Token
}
