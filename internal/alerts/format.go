package alerts

import (
	"fmt"
	"strings"

	"liqx-bot/internal/domain"
)

// FormatAlert renders a risk alert as a chat message. Alerts that need
// immediate action lead with a marker line.
func FormatAlert(alert domain.Alert) string {
	pos := alert.Position
	priority := alert.ExecutionPriority
	if priority == "" {
		priority = domain.PriorityLow
	}
	var lines []string
	if alert.RequiresImmediateAction {
		lines = append(lines, "ACTION REQUIRED")
	}
	lines = append(lines,
		fmt.Sprintf("Position %s at %s risk (%s priority)", ShortID(alert.PositionID), alert.RiskLevel, priority),
		fmt.Sprintf("hf %.4f, %.4f %s ($%.2f) against $%.2f debt", alert.HealthFactor, pos.CollateralAmount, pos.CollateralToken, alert.CollateralValueUSD, alert.DebtValueUSD),
		fmt.Sprintf("liquidation probability %.1f%%, urgency %.1f", alert.LiquidationProbability, alert.Urgency),
	)
	return strings.Join(lines, "\n")
}

func FormatResult(res domain.Result) string {
	if res.Success {
		return fmt.Sprintf("Rebalanced %s: %s, gas $%.2f, %d tx", ShortID(res.PositionID), res.Message, res.ActualGasUSD, len(res.TxIDs))
	}
	return fmt.Sprintf("Rebalance failed for %s: %s", ShortID(res.PositionID), res.Message)
}

// ShortID abbreviates long hex ids for chat output.
func ShortID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:10] + "…" + id[len(id)-4:]
}
