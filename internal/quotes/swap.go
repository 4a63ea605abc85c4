package quotes

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"liqx-bot/internal/chains"
	"liqx-bot/internal/config"
	"liqx-bot/internal/domain"
	"liqx-bot/internal/rest"

	"github.com/ethereum/go-ethereum/params"
	"go.uber.org/zap"
)

const (
	swapRoute          = "1inch_v6"
	defaultSwapGasUnit = 150_000
)

type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// Swap quotes same-chain swaps through the 1inch aggregation API.
type Swap struct {
	client   *rest.Client
	prices   PriceSource
	gasPrice float64
	log      *zap.Logger
}

func NewSwapClient(cfg config.SwapConfig, log *zap.Logger) *rest.Client {
	return rest.New(cfg.BaseURL, cfg.Timeout, log, rest.WithBearer(cfg.APIKey))
}

func NewSwap(client *rest.Client, prices PriceSource, cfg config.SwapConfig, log *zap.Logger) *Swap {
	if log == nil {
		log = zap.NewNop()
	}
	gasPrice := cfg.GasPriceGwei
	if gasPrice <= 0 {
		gasPrice = 50
	}
	return &Swap{client: client, prices: prices, gasPrice: gasPrice, log: log}
}

func (s *Swap) SwapQuote(ctx context.Context, fromToken, toToken string, amount float64, chain string) (domain.SwapQuote, error) {
	c, ok := chains.Lookup(chain)
	if !ok || !c.EVM {
		return domain.SwapQuote{}, fmt.Errorf("swap on %s: %w", chain, domain.ErrQuoteUnavailable)
	}
	src, ok := chains.TokenOn(c.Slug, fromToken)
	if !ok {
		return domain.SwapQuote{}, fmt.Errorf("unknown token %s on %s: %w", fromToken, c.Slug, domain.ErrQuoteUnavailable)
	}
	dst, ok := chains.TokenOn(c.Slug, toToken)
	if !ok {
		return domain.SwapQuote{}, fmt.Errorf("unknown token %s on %s: %w", toToken, c.Slug, domain.ErrQuoteUnavailable)
	}
	raw, err := toBaseUnits(amount, src.Decimals)
	if err != nil {
		return domain.SwapQuote{}, fmt.Errorf("%v: %w", err, domain.ErrQuoteUnavailable)
	}
	query := url.Values{}
	query.Set("src", src.Address)
	query.Set("dst", dst.Address)
	query.Set("amount", raw)
	query.Set("includeGas", "true")
	var resp struct {
		DstAmount string `json:"dstAmount"`
		Gas       int64  `json:"gas"`
	}
	path := "/swap/v6.0/" + strconv.FormatInt(c.ChainID, 10) + "/quote"
	if err := s.client.GetJSON(ctx, path, query, &resp); err != nil {
		return domain.SwapQuote{}, fmt.Errorf("1inch quote: %w: %v", domain.ErrQuoteUnavailable, err)
	}
	out, err := fromBaseUnits(resp.DstAmount, dst.Decimals)
	if err != nil {
		return domain.SwapQuote{}, fmt.Errorf("1inch quote: %w: %v", domain.ErrQuoteUnavailable, err)
	}
	gas := resp.Gas
	if gas <= 0 {
		gas = defaultSwapGasUnit
	}
	return domain.SwapQuote{
		OutputAmount: out,
		GasUSD:       s.gasUSD(ctx, gas),
		Route:        swapRoute,
	}, nil
}

// gasUSD prices gas units at the configured gwei price. Without an ETH price
// the cost is reported in ETH units.
func (s *Swap) gasUSD(ctx context.Context, gas int64) float64 {
	eth := float64(gas) * s.gasPrice * params.GWei / params.Ether
	if s.prices == nil {
		return eth
	}
	price, err := s.prices.GetPrice(ctx, "ETH")
	if err != nil {
		s.log.Debug("eth price unavailable for gas estimate", zap.Error(err))
		return eth
	}
	return eth * price
}
