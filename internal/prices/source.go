package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"liqx-bot/internal/config"
	"liqx-bot/internal/domain"
	"liqx-bot/internal/rest"
	"liqx-bot/internal/ws"

	"go.uber.org/zap"
)

var aliases = map[string]string{
	"WETH":   "ETH",
	"STETH":  "ETH",
	"WSTETH": "ETH",
	"WBTC":   "BTC",
	"CBBTC":  "BTC",
	"WMATIC": "MATIC",
	"POL":    "MATIC",
	"WSOL":   "SOL",
	"USDC.E": "USDC",
}

var coingeckoIDs = map[string]string{
	"ETH":   "ethereum",
	"BTC":   "bitcoin",
	"USDC":  "usd-coin",
	"USDT":  "tether",
	"DAI":   "dai",
	"SOL":   "solana",
	"MATIC": "matic-network",
	"ARB":   "arbitrum",
	"OP":    "optimism",
	"LINK":  "chainlink",
	"PYUSD": "paypal-usd",
}

// Canonical maps wrapped and bridged tickers onto the asset they track.
func Canonical(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if alias, ok := aliases[sym]; ok {
		return alias
	}
	return sym
}

type quote struct {
	price float64
	at    time.Time
}

// Source serves USD prices from CoinGecko, optionally kept warm by a mids
// stream, and keeps a bounded sample history per asset.
type Source struct {
	client *rest.Client
	stream *ws.Client
	ttl    time.Duration
	window int
	log    *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	cache    map[string]quote
	history  map[string][]float64
	sampleAt map[string]time.Time
}

func New(client *rest.Client, stream *ws.Client, cfg config.PricesConfig, log *zap.Logger) *Source {
	if log == nil {
		log = zap.NewNop()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	window := cfg.HistoryWindow
	if window <= 1 {
		window = 24
	}
	return &Source{
		client:   client,
		stream:   stream,
		ttl:      ttl,
		window:   window,
		log:      log,
		now:      time.Now,
		cache:    make(map[string]quote),
		history:  make(map[string][]float64),
		sampleAt: make(map[string]time.Time),
	}
}

// NewClient builds the CoinGecko REST client for cfg.
func NewClient(cfg config.PricesConfig, log *zap.Logger) *rest.Client {
	return rest.New(cfg.BaseURL, cfg.Timeout, log, rest.WithHeader("x-cg-demo-api-key", cfg.APIKey))
}

func (s *Source) GetPrice(ctx context.Context, symbol string) (float64, error) {
	sym := Canonical(symbol)
	if price, ok := s.fresh(sym); ok {
		return price, nil
	}
	got, err := s.fetch(ctx, []string{sym})
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %v", sym, domain.ErrPriceUnavailable, err)
	}
	price, ok := got[sym]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("%s: %w", sym, domain.ErrPriceUnavailable)
	}
	return price, nil
}

// Refresh fetches every stale symbol in one request.
func (s *Source) Refresh(ctx context.Context, symbols []string) error {
	var stale []string
	seen := make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		sym := Canonical(symbol)
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		if _, ok := s.fresh(sym); !ok {
			stale = append(stale, sym)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	_, err := s.fetch(ctx, stale)
	return err
}

func (s *Source) fetch(ctx context.Context, symbols []string) (map[string]float64, error) {
	if s.client == nil {
		return nil, fmt.Errorf("no price client configured")
	}
	idToSymbol := make(map[string]string, len(symbols))
	ids := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		id, ok := coingeckoIDs[sym]
		if !ok {
			continue
		}
		idToSymbol[id] = sym
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no coingecko id for %s", strings.Join(symbols, ","))
	}
	sort.Strings(ids)
	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", "usd")
	var resp map[string]map[string]float64
	if err := s.client.GetJSON(ctx, "/api/v3/simple/price", query, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(resp))
	for id, row := range resp {
		sym, ok := idToSymbol[id]
		if !ok {
			continue
		}
		if usd := row["usd"]; usd > 0 {
			out[sym] = usd
			s.record(sym, usd)
		}
	}
	return out, nil
}

func (s *Source) fresh(sym string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.cache[sym]
	if !ok || s.now().Sub(q.at) > s.ttl {
		return 0, false
	}
	return q.price, true
}

// record stores the latest price. History takes at most one sample per TTL
// so a busy stream does not collapse the volatility window.
func (s *Source) record(sym string, price float64) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[sym] = quote{price: price, at: now}
	if last, ok := s.sampleAt[sym]; ok && now.Sub(last) < s.ttl {
		return
	}
	s.sampleAt[sym] = now
	h := append(s.history[sym], price)
	if len(h) > s.window {
		h = h[len(h)-s.window:]
	}
	s.history[sym] = h
}

func (s *Source) History(symbol string) []float64 {
	sym := Canonical(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]float64(nil), s.history[sym]...)
}

// Run consumes the mids stream until ctx is done. Without a stream it
// returns immediately.
func (s *Source) Run(ctx context.Context) error {
	if s.stream == nil {
		return nil
	}
	sub := map[string]any{"method": "subscribe", "subscription": map[string]any{"type": "allMids"}}
	if err := s.stream.Subscribe(ctx, sub); err != nil {
		return err
	}
	err := s.stream.Run(ctx, s.handleMessage)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Source) handleMessage(msg json.RawMessage) {
	var payload map[string]any
	if err := json.Unmarshal(msg, &payload); err != nil {
		s.log.Debug("price stream decode error", zap.Error(err))
		return
	}
	for asset, price := range parseMids(payload) {
		s.record(Canonical(asset), price)
	}
}
