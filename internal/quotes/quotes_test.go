package quotes

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"liqx-bot/internal/config"
	"liqx-bot/internal/domain"
	"liqx-bot/internal/rest"

	"go.uber.org/zap"
)

type fixedPrice float64

func (p fixedPrice) GetPrice(context.Context, string) (float64, error) {
	return float64(p), nil
}

func TestSwapQuoteScalesAmounts(t *testing.T) {
	var gotAuth, gotAmount, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAmount = r.URL.Query().Get("amount")
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"dstAmount":"26960000000","gas":200000}`))
	}))
	defer srv.Close()

	cfg := config.SwapConfig{BaseURL: srv.URL, APIKey: "k", Timeout: time.Second, GasPriceGwei: 50}
	s := NewSwap(NewSwapClient(cfg, zap.NewNop()), fixedPrice(2000), cfg, zap.NewNop())
	q, err := s.SwapQuote(context.Background(), "WETH", "USDC", 10, "arbitrum")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if gotAuth != "Bearer k" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotPath != "/swap/v6.0/42161/quote" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotAmount != "10000000000000000000" {
		t.Fatalf("unexpected amount %s", gotAmount)
	}
	if math.Abs(q.OutputAmount-26960) > 1e-6 {
		t.Fatalf("expected 26960 out, got %f", q.OutputAmount)
	}
	// 200000 gas * 50 gwei = 0.01 ETH at 2000 USD.
	if math.Abs(q.GasUSD-20) > 1e-9 {
		t.Fatalf("expected 20 USD gas, got %f", q.GasUSD)
	}
	if q.Route != swapRoute {
		t.Fatalf("unexpected route %s", q.Route)
	}
}

func TestSwapQuoteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := config.SwapConfig{BaseURL: srv.URL, Timeout: time.Second}
	s := NewSwap(NewSwapClient(cfg, nil), nil, cfg, nil)
	_, err := s.SwapQuote(context.Background(), "WETH", "USDC", 1, "ethereum")
	if !errors.Is(err, domain.ErrQuoteUnavailable) {
		t.Fatalf("expected ErrQuoteUnavailable, got %v", err)
	}
}

func TestSwapQuoteUnknownToken(t *testing.T) {
	s := NewSwap(rest.New("http://127.0.0.1:1", time.Second, nil), nil, config.SwapConfig{}, nil)
	if _, err := s.SwapQuote(context.Background(), "PEPE", "USDC", 1, "ethereum"); !errors.Is(err, domain.ErrQuoteUnavailable) {
		t.Fatalf("expected ErrQuoteUnavailable, got %v", err)
	}
	if _, err := s.SwapQuote(context.Background(), "SOL", "USDC", 1, "solana"); !errors.Is(err, domain.ErrQuoteUnavailable) {
		t.Fatalf("expected non-EVM chain to be rejected, got %v", err)
	}
}

func TestCrossChainQuote(t *testing.T) {
	var gotSrc, gotDst, gotWallet string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fusion-plus/quoter/v1.0/quote/receive" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		gotSrc, gotDst, gotWallet = q.Get("srcChain"), q.Get("dstChain"), q.Get("walletAddress")
		_, _ = w.Write([]byte(`{"dstTokenAmount":"24950000000","quoteId":"q-1","recommendedPreset":"fast","presets":{"fast":{"auctionDuration":120}}}`))
	}))
	defer srv.Close()

	cfg := config.CrossChainConfig{Enabled: true, BaseURL: srv.URL, Timeout: time.Second, Wallet: "0x0000000000000000000000000000000000000001"}
	f := NewFusion(NewFusionClient(cfg, nil), cfg, nil)
	q, err := f.CrossChainQuote(context.Background(), "ethereum", "arbitrum", "USDC", "USDC", 25000)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if gotSrc != "1" || gotDst != "42161" {
		t.Fatalf("unexpected chain ids %s -> %s", gotSrc, gotDst)
	}
	if gotWallet != "0x0000000000000000000000000000000000000001" {
		t.Fatalf("unexpected wallet %s", gotWallet)
	}
	if q.QuoteID != "q-1" || q.ExecutionTime != 120*time.Second {
		t.Fatalf("unexpected quote %+v", q)
	}
	if math.Abs(q.OutputAmount-24950) > 1e-6 {
		t.Fatalf("expected 24950 out, got %f", q.OutputAmount)
	}
}

func TestCrossChainQuoteDefaultsAuction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"dstTokenAmount":"1000000"}`))
	}))
	defer srv.Close()

	cfg := config.CrossChainConfig{BaseURL: srv.URL, Timeout: time.Second}
	f := NewFusion(NewFusionClient(cfg, nil), cfg, nil)
	q, err := f.CrossChainQuote(context.Background(), "base", "optimism", "USDC", "USDC", 1)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.ExecutionTime != defaultAuction || q.QuoteID != "" {
		t.Fatalf("unexpected quote %+v", q)
	}
}

func TestBaseUnits(t *testing.T) {
	raw, err := toBaseUnits(1.5, 6)
	if err != nil || raw != "1500000" {
		t.Fatalf("expected 1500000, got %s (%v)", raw, err)
	}
	if _, err := toBaseUnits(0, 6); err == nil {
		t.Fatalf("expected error for zero amount")
	}
	if _, err := fromBaseUnits("abc", 6); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}
