package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"liqx-bot/internal/config"
)

const (
	wethAddr = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	usdcAddr = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	userAddr = "0x52908400098527886e0f7030069857d2e4169ee7"
)

func newTestSubgraph(t *testing.T, handler http.HandlerFunc) *Subgraph {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.IndexerConfig{URL: srv.URL, Timeout: time.Second, Protocol: "aave-v3", Chain: "Ethereum"}
	return New(NewClient(cfg, nil), cfg, nil)
}

func TestGetRiskyPositions(t *testing.T) {
	var got graphRequest
	s := newTestSubgraph(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"data":{"positions":[
			{"id":"p1","user":{"id":"` + userAddr + `"},"collateralAsset":"` + wethAddr + `","collateralAmount":"10.5","debtAsset":"` + usdcAddr + `","debtAmount":"25000","healthFactor":"0.96","updatedAt":"1700000000"},
			{"id":"p2","user":{"id":"not-an-address"},"collateralAsset":"` + wethAddr + `","collateralAmount":"1","debtAsset":"` + usdcAddr + `","debtAmount":"1","healthFactor":"1.1","updatedAt":"1700000000"},
			{"id":"p3","user":{"id":"` + userAddr + `"},"collateralAsset":"0x0000000000000000000000000000000000000009","collateralAmount":"2","debtAsset":"` + usdcAddr + `","debtAmount":"1","healthFactor":"1.4","updatedAt":"1700000000"}
		]}}`))
	})

	positions, err := s.GetRiskyPositions(context.Background(), 2.0, 20)
	if err != nil {
		t.Fatalf("risky positions: %v", err)
	}
	if got.Variables["threshold"] != "2" {
		t.Fatalf("expected threshold 2, got %v", got.Variables["threshold"])
	}
	if limit, _ := got.Variables["limit"].(float64); limit != 20 {
		t.Fatalf("expected limit 20, got %v", got.Variables["limit"])
	}
	if len(positions) != 2 {
		t.Fatalf("expected invalid user row to be skipped, got %d positions", len(positions))
	}
	p := positions[0]
	if p.CollateralToken != "WETH" || p.DebtToken != "USDC" {
		t.Fatalf("unexpected tokens %s/%s", p.CollateralToken, p.DebtToken)
	}
	if p.Chain != "ethereum" || p.Protocol != "aave-v3" {
		t.Fatalf("unexpected venue %s/%s", p.Protocol, p.Chain)
	}
	if p.UserAddress != "0x52908400098527886E0F7030069857D2E4169EE7" {
		t.Fatalf("expected checksum address, got %s", p.UserAddress)
	}
	if p.HealthFactor != 0.96 || p.CollateralAmount != 10.5 || p.DebtAmount != 25000 {
		t.Fatalf("unexpected amounts %+v", p)
	}
	if !p.LastUpdated.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected timestamp %s", p.LastUpdated)
	}
	if positions[1].CollateralToken != UnknownToken {
		t.Fatalf("expected unknown token, got %s", positions[1].CollateralToken)
	}
}

func TestGetRiskyPositionsGraphErrors(t *testing.T) {
	s := newTestSubgraph(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad field"}]}`))
	})
	if _, err := s.GetRiskyPositions(context.Background(), 2.0, 20); !errors.Is(err, ErrGraphQL) {
		t.Fatalf("expected ErrGraphQL, got %v", err)
	}
}

func TestGetUserPositions(t *testing.T) {
	var got graphRequest
	s := newTestSubgraph(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"data":{"user":null}}`))
	})
	if _, err := s.GetUserPositions(context.Background(), "nope"); err == nil {
		t.Fatalf("expected invalid address error")
	}
	positions, err := s.GetUserPositions(context.Background(), "0x52908400098527886E0F7030069857D2E4169EE7")
	if err != nil {
		t.Fatalf("user positions: %v", err)
	}
	if positions != nil {
		t.Fatalf("expected no positions, got %v", positions)
	}
	if got.Variables["userId"] != userAddr {
		t.Fatalf("expected lowercased user id, got %v", got.Variables["userId"])
	}
}
