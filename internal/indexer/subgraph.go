package indexer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"liqx-bot/internal/chains"
	"liqx-bot/internal/config"
	"liqx-bot/internal/domain"
	"liqx-bot/internal/rest"

	"go.uber.org/zap"
)

// UnknownToken is used when an asset address is not in the registry.
const UnknownToken = "UNKNOWN"

var ErrGraphQL = errors.New("subgraph query failed")

const riskyPositionsQuery = `query GetRiskyPositions($threshold: BigDecimal!, $limit: Int!) {
  positions(where: { healthFactor_lt: $threshold }, orderBy: healthFactor, orderDirection: asc, first: $limit) {
    id
    user { id }
    collateralAsset
    collateralAmount
    debtAsset
    debtAmount
    healthFactor
    updatedAt
  }
}`

const userPositionsQuery = `query GetUserPositions($userId: ID!) {
  user(id: $userId) {
    id
    positions {
      id
      user { id }
      collateralAsset
      collateralAmount
      debtAsset
      debtAmount
      healthFactor
      updatedAt
    }
  }
}`

type Subgraph struct {
	client   *rest.Client
	protocol string
	chain    string
	log      *zap.Logger
}

func NewClient(cfg config.IndexerConfig, log *zap.Logger) *rest.Client {
	return rest.New(cfg.URL, cfg.Timeout, log)
}

func New(client *rest.Client, cfg config.IndexerConfig, log *zap.Logger) *Subgraph {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subgraph{
		client:   client,
		protocol: cfg.Protocol,
		chain:    chains.Normalize(cfg.Chain),
		log:      log,
	}
}

type graphRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphError struct {
	Message string `json:"message"`
}

type rawPosition struct {
	ID   string `json:"id"`
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	CollateralAsset  string `json:"collateralAsset"`
	CollateralAmount string `json:"collateralAmount"`
	DebtAsset        string `json:"debtAsset"`
	DebtAmount       string `json:"debtAmount"`
	HealthFactor     string `json:"healthFactor"`
	UpdatedAt        string `json:"updatedAt"`
}

// GetRiskyPositions returns positions with a health factor below threshold,
// lowest first. Rows that fail to parse are skipped.
func (s *Subgraph) GetRiskyPositions(ctx context.Context, threshold float64, limit int) ([]domain.Position, error) {
	var resp struct {
		Data struct {
			Positions []rawPosition `json:"positions"`
		} `json:"data"`
		Errors []graphError `json:"errors"`
	}
	req := graphRequest{
		Query: riskyPositionsQuery,
		Variables: map[string]any{
			"threshold": strconv.FormatFloat(threshold, 'f', -1, 64),
			"limit":     limit,
		},
	}
	if err := s.client.PostJSON(ctx, "", req, &resp); err != nil {
		return nil, fmt.Errorf("risky positions: %w", err)
	}
	if err := joinErrors(resp.Errors); err != nil {
		return nil, err
	}
	return s.convert(resp.Data.Positions), nil
}

func (s *Subgraph) GetUserPositions(ctx context.Context, user string) ([]domain.Position, error) {
	if !chains.ValidAddress(user) {
		return nil, fmt.Errorf("invalid user address %q", user)
	}
	var resp struct {
		Data struct {
			User *struct {
				Positions []rawPosition `json:"positions"`
			} `json:"user"`
		} `json:"data"`
		Errors []graphError `json:"errors"`
	}
	req := graphRequest{
		Query:     userPositionsQuery,
		Variables: map[string]any{"userId": strings.ToLower(strings.TrimSpace(user))},
	}
	if err := s.client.PostJSON(ctx, "", req, &resp); err != nil {
		return nil, fmt.Errorf("user positions: %w", err)
	}
	if err := joinErrors(resp.Errors); err != nil {
		return nil, err
	}
	if resp.Data.User == nil {
		return nil, nil
	}
	return s.convert(resp.Data.User.Positions), nil
}

func (s *Subgraph) convert(rows []rawPosition) []domain.Position {
	out := make([]domain.Position, 0, len(rows))
	for _, row := range rows {
		pos, err := s.parse(row)
		if err != nil {
			s.log.Warn("skipping position", zap.String("position_id", row.ID), zap.Error(err))
			continue
		}
		out = append(out, pos)
	}
	return out
}

func (s *Subgraph) parse(row rawPosition) (domain.Position, error) {
	if strings.TrimSpace(row.ID) == "" {
		return domain.Position{}, errors.New("missing id")
	}
	if !chains.ValidAddress(row.User.ID) {
		return domain.Position{}, fmt.Errorf("invalid user %q", row.User.ID)
	}
	hf, err := parseFloat(row.HealthFactor)
	if err != nil {
		return domain.Position{}, fmt.Errorf("health factor: %w", err)
	}
	coll, err := parseFloat(row.CollateralAmount)
	if err != nil {
		return domain.Position{}, fmt.Errorf("collateral amount: %w", err)
	}
	debt, err := parseFloat(row.DebtAmount)
	if err != nil {
		return domain.Position{}, fmt.Errorf("debt amount: %w", err)
	}
	return domain.Position{
		ID:               row.ID,
		UserAddress:      chains.ChecksumAddress(row.User.ID),
		Protocol:         s.protocol,
		Chain:            s.chain,
		CollateralToken:  s.symbol(row.CollateralAsset),
		CollateralAmount: coll,
		DebtToken:        s.symbol(row.DebtAsset),
		DebtAmount:       debt,
		HealthFactor:     hf,
		LastUpdated:      parseUnix(row.UpdatedAt),
	}, nil
}

func (s *Subgraph) symbol(address string) string {
	if sym, ok := chains.SymbolForAddress(s.chain, address); ok {
		return sym
	}
	return UnknownToken
}

func parseFloat(raw string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(raw), 64)
}

func parseUnix(raw string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}

func joinErrors(errs []graphError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return fmt.Errorf("%w: %s", ErrGraphQL, strings.Join(msgs, "; "))
}
