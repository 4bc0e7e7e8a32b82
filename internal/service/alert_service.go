package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/perpwatch/engine/internal/alerting"
	"github.com/perpwatch/engine/internal/domain"
	"github.com/perpwatch/engine/internal/notify"
)

// Event bus channels and streams for downstream consumers.
const (
	fillChannel  = "fills"
	alertChannel = "alerts"
	fillStream   = "stream:fills"
	alertStream  = "stream:alerts"
)

// RankLookup answers leaderboard rank queries at classification time.
type RankLookup interface {
	RankOf(acct domain.AccountKey) *int
}

// AlertService consumes fill events from the watcher, classifies them, and
// fans the resulting alerts out to the store, the notifier, and the event
// bus. Every downstream failure is logged and absorbed: a broken sink must
// not stall the fill stream.
type AlertService struct {
	classifier *alerting.Classifier
	store      domain.AlertStore
	notifier   *notify.Notifier
	bus        domain.EventBus
	ranks      RankLookup
	logger     *slog.Logger
}

// NewAlertService creates an AlertService. store, notifier, bus, and ranks
// may each be nil; a nil sink is skipped.
func NewAlertService(
	classifier *alerting.Classifier,
	store domain.AlertStore,
	notifier *notify.Notifier,
	bus domain.EventBus,
	ranks RankLookup,
	logger *slog.Logger,
) *AlertService {
	return &AlertService{
		classifier: classifier,
		store:      store,
		notifier:   notifier,
		bus:        bus,
		ranks:      ranks,
		logger:     logger.With(slog.String("component", "alerts")),
	}
}

// OnFillEvent publishes the fill downstream, classifies it, and dispatches
// any resulting alert.
func (s *AlertService) OnFillEvent(ctx context.Context, event domain.FillEvent) {
	s.publishFill(ctx, event)

	var rank *int
	if s.ranks != nil {
		rank = s.ranks.RankOf(event.Account())
	}

	alert := s.classifier.Classify(event, rank)
	if alert == nil {
		return
	}
	s.dispatch(ctx, *alert)
}

// ListRecent returns the newest persisted alerts.
func (s *AlertService) ListRecent(ctx context.Context, limit int) ([]domain.TopTraderAlert, error) {
	if s.store == nil {
		return nil, nil
	}
	alerts, err := s.store.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("alerts: list recent: %w", err)
	}
	return alerts, nil
}

// dispatch persists and fans out a single alert.
func (s *AlertService) dispatch(ctx context.Context, alert domain.TopTraderAlert) {
	if s.store != nil {
		if err := s.store.Insert(ctx, alert); err != nil {
			s.logger.ErrorContext(ctx, "alerts: insert failed",
				slog.String("alert_id", alert.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.notifier != nil {
		event, title, message := notify.FormatAlert(alert)
		if err := s.notifier.Notify(ctx, event, title, message); err != nil {
			s.logger.WarnContext(ctx, "alerts: notify failed",
				slog.String("alert_id", alert.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"id":         alert.ID,
			"fill_id":    alert.FillID,
			"account":    alert.AccountAddress,
			"subaccount": alert.SubaccountNumber,
			"type":       string(alert.Type),
			"severity":   string(alert.Severity),
			"message":    alert.Message,
			"actual":     alert.ActualValue,
			"threshold":  alert.ThresholdValue,
			"created_at": alert.CreatedAt.Format(time.RFC3339),
		})
		if err := s.bus.Publish(ctx, alertChannel, payload); err != nil {
			s.logger.WarnContext(ctx, "alerts: publish failed",
				slog.String("error", err.Error()),
			)
		}
		if err := s.bus.StreamAppend(ctx, alertStream, payload); err != nil {
			s.logger.WarnContext(ctx, "alerts: stream append failed",
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "alerts: dispatched",
		slog.String("alert_id", alert.ID),
		slog.String("type", strings.ToLower(string(alert.Type))),
		slog.String("severity", string(alert.Severity)),
		slog.String("account", alert.AccountAddress),
	)
}

// publishFill mirrors every deduplicated fill onto the event bus so
// consumers other than the classifier can follow the stream.
func (s *AlertService) publishFill(ctx context.Context, event domain.FillEvent) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"fill_id":    event.FillID,
		"account":    event.AccountAddress,
		"subaccount": event.SubaccountNumber,
		"ticker":     event.Ticker,
		"side":       string(event.Side),
		"price":      event.Price,
		"size":       event.Size,
		"volume_usd": event.VolumeUSD(),
		"created_at": event.CreatedAt.Format(time.RFC3339),
	})
	if err := s.bus.Publish(ctx, fillChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "alerts: fill publish failed",
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, fillStream, payload); err != nil {
		s.logger.WarnContext(ctx, "alerts: fill stream append failed",
			slog.String("error", err.Error()),
		)
	}
}

// Compile-time check: the watcher delivers fills to this service.
var _ domain.FillListener = (*AlertService)(nil)
