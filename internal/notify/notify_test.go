package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpwatch/engine/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func TestNotifyFiltersByEventType(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{"large_trade"}, testLogger())

	require.NoError(t, n.Notify(context.Background(), "volume_spike", "spike", "body"))
	assert.Empty(t, sender.titles)

	require.NoError(t, n.Notify(context.Background(), "large_trade", "trade", "body"))
	assert.Equal(t, []string{"trade"}, sender.titles)
}

func TestNotifyEmptyEventListAllowsAll(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Len(t, sender.titles, 1)
}

func TestDispatchContinuesPastFailingSender(t *testing.T) {
	broken := &recordingSender{name: "broken", err: errors.New("webhook 410")}
	healthy := &recordingSender{name: "healthy"}
	n := NewNotifier([]Sender{broken, healthy}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Len(t, healthy.titles, 1, "healthy sender must still receive the message")
}

func TestFormatAlert(t *testing.T) {
	rank := 2
	hours := 1.0
	event, title, message := FormatAlert(domain.TopTraderAlert{
		Type:           domain.AlertVolumeSpike,
		Severity:       domain.SeverityHigh,
		Message:        "dydx1whale traded 6.0x its 1h average volume on BTC-USD",
		Rank:           &rank,
		ActualValue:    6000,
		ThresholdValue: 3000,
		WindowHours:    &hours,
	})

	assert.Equal(t, "volume_spike", event)
	assert.Equal(t, "[HIGH] Volume spike", title)
	assert.Contains(t, message, "Leaderboard rank: #2")
	assert.Contains(t, message, "Observed: $6000.00 (threshold $3000.00) over 1h")
}

func TestFormatAlertWithoutRankOrWindow(t *testing.T) {
	event, title, message := FormatAlert(domain.TopTraderAlert{
		Type:           domain.AlertLargeTrade,
		Severity:       domain.SeverityCritical,
		Message:        "dydx1whale BUY BTC-USD for $150000",
		ActualValue:    150000,
		ThresholdValue: 100000,
	})

	assert.Equal(t, "large_trade", event)
	assert.Equal(t, "[CRITICAL] Large trade", title)
	assert.NotContains(t, message, "rank")
	assert.NotContains(t, message, "over")
}
