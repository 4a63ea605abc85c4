package state

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"liqx-bot/internal/domain"
)

const ResultKeyPrefix = "result:"

// ExecutionRecord is the journaled form of an execution result. It is kept
// for audit and never consulted as a guard.
type ExecutionRecord struct {
	PositionID   string   `json:"position_id"`
	PlanID       string   `json:"plan_id"`
	Success      bool     `json:"success"`
	TxIDs        []string `json:"tx_ids"`
	Message      string   `json:"message"`
	ActualGasUSD float64  `json:"actual_gas_usd"`
	TimestampMS  int64    `json:"timestamp_ms"`
}

func RecordFromResult(res domain.Result) ExecutionRecord {
	return ExecutionRecord{
		PositionID:   res.PositionID,
		PlanID:       res.PlanID,
		Success:      res.Success,
		TxIDs:        res.TxIDs,
		Message:      res.Message,
		ActualGasUSD: res.ActualGasUSD,
		TimestampMS:  res.Timestamp.UnixMilli(),
	}
}

func (r ExecutionRecord) Time() time.Time {
	return time.UnixMilli(r.TimestampMS).UTC()
}

func SaveExecutionRecord(ctx context.Context, store Store, record ExecutionRecord) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return store.Set(ctx, ResultKeyPrefix+record.PositionID, string(payload))
}

func LoadExecutionRecord(ctx context.Context, store Store, positionID string) (ExecutionRecord, bool, error) {
	if store == nil {
		return ExecutionRecord{}, false, nil
	}
	raw, ok, err := store.Get(ctx, ResultKeyPrefix+positionID)
	if err != nil {
		return ExecutionRecord{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return ExecutionRecord{}, false, nil
	}
	var record ExecutionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return ExecutionRecord{}, false, err
	}
	return record, true, nil
}

// ListExecutionRecords returns the journal newest first. Unreadable rows are skipped.
func ListExecutionRecords(ctx context.Context, store Store) ([]ExecutionRecord, error) {
	if store == nil {
		return nil, nil
	}
	entries, err := store.List(ctx, ResultKeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]ExecutionRecord, 0, len(entries))
	for _, entry := range entries {
		var record ExecutionRecord
		if err := json.Unmarshal([]byte(entry.Value), &record); err != nil {
			continue
		}
		out = append(out, record)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TimestampMS > out[j].TimestampMS
	})
	return out, nil
}
