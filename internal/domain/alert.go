package domain

import "time"

// AlertType classifies what triggered a trader alert.
type AlertType string

const (
	AlertLargeTrade     AlertType = "LARGE_TRADE"
	AlertPositionChange AlertType = "POSITION_CHANGE"
	AlertVolumeSpike    AlertType = "VOLUME_SPIKE"
	AlertAnomaly        AlertType = "ANOMALY"
)

// AlertSeverity is the urgency tier of an alert.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// severityOrder maps severities to a comparable weight.
var severityOrder = map[AlertSeverity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Exceeds reports whether s ranks strictly above other.
func (s AlertSeverity) Exceeds(other AlertSeverity) bool {
	return severityOrder[s] > severityOrder[other]
}

// TopTraderAlert is an immutable alert produced by the classifier for a
// single fill event. FillID is empty when the alert is not fill-triggered;
// Rank is nil when the triggering account was not on the leaderboard at
// classification time.
type TopTraderAlert struct {
	ID               string
	FillID           string
	AccountAddress   string
	SubaccountNumber int
	Rank             *int
	Type             AlertType
	Severity         AlertSeverity
	Message          string
	ThresholdValue   float64
	ActualValue      float64
	WindowHours      *float64
	Metadata         map[string]string
	CreatedAt        time.Time
}
