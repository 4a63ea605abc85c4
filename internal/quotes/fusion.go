package quotes

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"liqx-bot/internal/chains"
	"liqx-bot/internal/config"
	"liqx-bot/internal/domain"
	"liqx-bot/internal/rest"

	"go.uber.org/zap"
)

const defaultAuction = 180 * time.Second

// Fusion quotes cross-chain transfers through 1inch Fusion+.
type Fusion struct {
	client *rest.Client
	wallet string
	log    *zap.Logger
}

func NewFusionClient(cfg config.CrossChainConfig, log *zap.Logger) *rest.Client {
	return rest.New(cfg.BaseURL, cfg.Timeout, log, rest.WithBearer(cfg.APIKey))
}

func NewFusion(client *rest.Client, cfg config.CrossChainConfig, log *zap.Logger) *Fusion {
	if log == nil {
		log = zap.NewNop()
	}
	wallet := strings.TrimSpace(cfg.Wallet)
	if chains.ValidAddress(wallet) {
		wallet = chains.ChecksumAddress(wallet)
	}
	return &Fusion{client: client, wallet: wallet, log: log}
}

func (f *Fusion) CrossChainQuote(ctx context.Context, fromChain, toChain, fromToken, toToken string, amount float64) (domain.CrossChainQuote, error) {
	src, ok := chains.Lookup(fromChain)
	if !ok {
		return domain.CrossChainQuote{}, fmt.Errorf("unknown chain %s: %w", fromChain, domain.ErrQuoteUnavailable)
	}
	dst, ok := chains.Lookup(toChain)
	if !ok {
		return domain.CrossChainQuote{}, fmt.Errorf("unknown chain %s: %w", toChain, domain.ErrQuoteUnavailable)
	}
	srcTok, ok := chains.TokenOn(src.Slug, fromToken)
	if !ok {
		return domain.CrossChainQuote{}, fmt.Errorf("unknown token %s on %s: %w", fromToken, src.Slug, domain.ErrQuoteUnavailable)
	}
	dstTok, ok := chains.TokenOn(dst.Slug, toToken)
	if !ok {
		return domain.CrossChainQuote{}, fmt.Errorf("unknown token %s on %s: %w", toToken, dst.Slug, domain.ErrQuoteUnavailable)
	}
	raw, err := toBaseUnits(amount, srcTok.Decimals)
	if err != nil {
		return domain.CrossChainQuote{}, fmt.Errorf("%v: %w", err, domain.ErrQuoteUnavailable)
	}
	query := url.Values{}
	query.Set("srcChain", strconv.FormatInt(src.ChainID, 10))
	query.Set("dstChain", strconv.FormatInt(dst.ChainID, 10))
	query.Set("srcTokenAddress", srcTok.Address)
	query.Set("dstTokenAddress", dstTok.Address)
	query.Set("amount", raw)
	query.Set("walletAddress", f.wallet)
	query.Set("enableEstimate", "true")
	var resp struct {
		DstTokenAmount    string            `json:"dstTokenAmount"`
		QuoteID           string            `json:"quoteId"`
		RecommendedPreset string            `json:"recommendedPreset"`
		Presets           map[string]preset `json:"presets"`
	}
	if err := f.client.GetJSON(ctx, "/fusion-plus/quoter/v1.0/quote/receive", query, &resp); err != nil {
		return domain.CrossChainQuote{}, fmt.Errorf("fusion+ quote: %w: %v", domain.ErrQuoteUnavailable, err)
	}
	out, err := fromBaseUnits(resp.DstTokenAmount, dstTok.Decimals)
	if err != nil {
		return domain.CrossChainQuote{}, fmt.Errorf("fusion+ quote: %w: %v", domain.ErrQuoteUnavailable, err)
	}
	return domain.CrossChainQuote{
		OutputAmount:  out,
		QuoteID:       resp.QuoteID,
		ExecutionTime: auctionDuration(resp.RecommendedPreset, resp.Presets),
	}, nil
}

type preset struct {
	AuctionDuration int64 `json:"auctionDuration"`
}

// auctionDuration prefers the recommended preset, then fast, then medium.
func auctionDuration(recommended string, presets map[string]preset) time.Duration {
	for _, name := range []string{recommended, "fast", "medium"} {
		if p, ok := presets[name]; ok && p.AuctionDuration > 0 {
			return time.Duration(p.AuctionDuration) * time.Second
		}
	}
	return defaultAuction
}
