package yields

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"liqx-bot/internal/chains"
	"liqx-bot/internal/config"
	"liqx-bot/internal/domain"
	"liqx-bot/internal/rest"

	"go.uber.org/zap"
)

type pool struct {
	Chain   string   `json:"chain"`
	Project string   `json:"project"`
	Symbol  string   `json:"symbol"`
	Pool    string   `json:"pool"`
	TVLUSD  float64  `json:"tvlUsd"`
	APY     *float64 `json:"apy"`
}

// Llama reads pool yields from the DefiLlama yields API.
type Llama struct {
	client         *rest.Client
	ttl            time.Duration
	maxPerProtocol int
	minTVL         float64
	log            *zap.Logger
	now            func() time.Time

	mu        sync.Mutex
	pools     []domain.Yield
	fetchedAt time.Time
}

func New(client *rest.Client, cfg config.YieldsConfig, log *zap.Logger) *Llama {
	if log == nil {
		log = zap.NewNop()
	}
	maxPer := cfg.MaxPerProtocol
	if maxPer <= 0 {
		maxPer = 3
	}
	return &Llama{
		client:         client,
		ttl:            cfg.CacheTTL,
		maxPerProtocol: maxPer,
		minTVL:         cfg.MinTVLUSD,
		log:            log,
		now:            time.Now,
	}
}

func NewClient(cfg config.YieldsConfig, log *zap.Logger) *rest.Client {
	return rest.New(cfg.BaseURL, cfg.Timeout, log)
}

// GetAPY returns the APY of the deepest pool matching protocol, chain and token.
func (l *Llama) GetAPY(ctx context.Context, protocol, chain, token string) (float64, bool, error) {
	pools, err := l.load(ctx)
	if err != nil {
		return 0, false, err
	}
	wantProject := normalizeProject(protocol)
	wantChain := chains.Normalize(chain)
	wantToken := strings.ToUpper(strings.TrimSpace(token))
	var (
		best  domain.Yield
		found bool
	)
	for _, p := range pools {
		if normalizeProject(p.Protocol) != wantProject || p.Chain != wantChain || p.Token != wantToken {
			continue
		}
		if !found || p.TVLUSD > best.TVLUSD {
			best = p
			found = true
		}
	}
	return best.APY, found, nil
}

// GetTopYields returns pools with apy >= minAPY, highest first, keeping at
// most maxPerProtocol pools per project.
func (l *Llama) GetTopYields(ctx context.Context, minAPY float64, limit int) ([]domain.Yield, error) {
	pools, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	eligible := make([]domain.Yield, 0, len(pools))
	for _, p := range pools {
		if p.APY < minAPY || p.TVLUSD < l.minTVL {
			continue
		}
		eligible = append(eligible, p)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].APY > eligible[j].APY
	})
	perProject := make(map[string]int)
	out := make([]domain.Yield, 0, limit)
	for _, p := range eligible {
		if limit > 0 && len(out) >= limit {
			break
		}
		key := normalizeProject(p.Protocol)
		if perProject[key] >= l.maxPerProtocol {
			continue
		}
		perProject[key]++
		out = append(out, p)
	}
	return out, nil
}

func (l *Llama) load(ctx context.Context) ([]domain.Yield, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pools != nil && l.ttl > 0 && l.now().Sub(l.fetchedAt) < l.ttl {
		return l.pools, nil
	}
	var resp struct {
		Status string `json:"status"`
		Data   []pool `json:"data"`
	}
	if err := l.client.GetJSON(ctx, "/pools", nil, &resp); err != nil {
		if l.pools != nil {
			l.log.Warn("yield refresh failed, serving stale pools", zap.Error(err), zap.Time("fetched_at", l.fetchedAt))
			return l.pools, nil
		}
		return nil, err
	}
	pools := make([]domain.Yield, 0, len(resp.Data))
	for _, p := range resp.Data {
		if p.APY == nil || p.Project == "" || p.Chain == "" {
			continue
		}
		pools = append(pools, domain.Yield{
			Protocol: p.Project,
			Chain:    chains.Normalize(p.Chain),
			Token:    strings.ToUpper(strings.TrimSpace(p.Symbol)),
			Pool:     p.Pool,
			APY:      *p.APY,
			TVLUSD:   p.TVLUSD,
		})
	}
	l.pools = pools
	l.fetchedAt = l.now()
	l.log.Debug("yield pools refreshed", zap.Int("pools", len(pools)))
	return pools, nil
}

func normalizeProject(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
}
