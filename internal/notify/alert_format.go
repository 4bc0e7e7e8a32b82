package notify

import (
	"fmt"
	"strings"

	"github.com/perpwatch/engine/internal/domain"
)

// eventNames maps alert types to the lowercase event identifiers used for
// notification filtering in config.
var eventNames = map[domain.AlertType]string{
	domain.AlertLargeTrade:     "large_trade",
	domain.AlertPositionChange: "position_change",
	domain.AlertVolumeSpike:    "volume_spike",
	domain.AlertAnomaly:        "anomaly",
}

// FormatAlert renders a trader alert into the event name, title, and message
// body used by the Notifier.
func FormatAlert(alert domain.TopTraderAlert) (event, title, message string) {
	event = eventNames[alert.Type]
	if event == "" {
		event = strings.ToLower(string(alert.Type))
	}

	title = fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), humanType(alert.Type))

	var b strings.Builder
	b.WriteString(alert.Message)
	if alert.Rank != nil {
		fmt.Fprintf(&b, "\nLeaderboard rank: #%d", *alert.Rank)
	}
	fmt.Fprintf(&b, "\nObserved: $%.2f (threshold $%.2f)", alert.ActualValue, alert.ThresholdValue)
	if alert.WindowHours != nil {
		fmt.Fprintf(&b, " over %.0fh", *alert.WindowHours)
	}
	message = b.String()
	return event, title, message
}

func humanType(t domain.AlertType) string {
	switch t {
	case domain.AlertLargeTrade:
		return "Large trade"
	case domain.AlertPositionChange:
		return "Position change"
	case domain.AlertVolumeSpike:
		return "Volume spike"
	default:
		return "Trader anomaly"
	}
}
