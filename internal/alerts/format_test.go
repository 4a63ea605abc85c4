package alerts

import (
	"strings"
	"testing"

	"liqx-bot/internal/domain"
)

func TestFormatAlertPriorityLine(t *testing.T) {
	cases := []struct {
		name      string
		alert     domain.Alert
		immediate bool
		priority  string
	}{
		{
			name:     "normal",
			alert:    domain.Alert{PositionID: "0xpos1", RiskLevel: domain.RiskHigh, Urgency: 5, ExecutionPriority: domain.PriorityNormal},
			priority: "NORMAL priority",
		},
		{
			name:      "immediate",
			alert:     domain.Alert{PositionID: "0xpos1", RiskLevel: domain.RiskCritical, Urgency: 7, ExecutionPriority: domain.PriorityHigh, RequiresImmediateAction: true},
			immediate: true,
			priority:  "HIGH priority",
		},
		{
			name:     "unset priority",
			alert:    domain.Alert{PositionID: "0xpos1", RiskLevel: domain.RiskModerate},
			priority: "LOW priority",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			text := FormatAlert(tc.alert)
			if got := strings.HasPrefix(text, "ACTION REQUIRED\n"); got != tc.immediate {
				t.Fatalf("action marker = %v, want %v in %q", got, tc.immediate, text)
			}
			if !strings.Contains(text, tc.priority) {
				t.Fatalf("expected %q in %q", tc.priority, text)
			}
		})
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID("0xpos1"); got != "0xpos1" {
		t.Fatalf("short id changed: %q", got)
	}
	long := "0x52908400098527886E0F7030069857D2E4169EE7"
	if got := ShortID(long); got != "0x52908400…9EE7" {
		t.Fatalf("unexpected abbreviation %q", got)
	}
}
