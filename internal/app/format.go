package app

import (
	"fmt"
	"strings"

	"liqx-bot/internal/alerts"
)

type digest struct {
	Tracked int
	Cooling int
	Worst   float64
	WorstID string
}

func formatDigest(d digest) string {
	lines := []string{
		fmt.Sprintf("tracked positions: %d", d.Tracked),
		fmt.Sprintf("cooling down: %d", d.Cooling),
	}
	if d.WorstID != "" {
		lines = append(lines, fmt.Sprintf("lowest health factor: %.4f (%s)", d.Worst, alerts.ShortID(d.WorstID)))
	}
	return strings.Join(lines, "\n")
}
