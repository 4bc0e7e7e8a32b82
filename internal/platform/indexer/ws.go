package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/perpwatch/engine/internal/domain"
)

// FillHandler is invoked for each fill delivered over the live feed.
type FillHandler func(ctx context.Context, account domain.AccountKey, fill domain.Fill)

// StreamFeed subscribes to the indexer's per-subaccount websocket channel
// and delivers live fills to a handler. It reconnects with backoff on
// disconnect. Polling via the REST client remains the source of truth; the
// feed only shortens the latency between a fill and its event.
type StreamFeed struct {
	wsURL     string
	accounts  []domain.AccountKey
	onFill    FillHandler
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewStreamFeed creates a feed that will subscribe to the given accounts.
func NewStreamFeed(wsURL string, accounts []domain.AccountKey, onFill FillHandler, logger *slog.Logger) *StreamFeed {
	return &StreamFeed{
		wsURL:    wsURL,
		accounts: accounts,
		onFill:   onFill,
		logger:   logger.With(slog.String("component", "indexer_ws_feed")),
		done:     make(chan struct{}),
	}
}

// Run connects, subscribes to the subaccounts channel for every configured
// account, and runs until ctx is cancelled. Reconnects with a fixed backoff
// on disconnect.
func (f *StreamFeed) Run(ctx context.Context) error {
	if len(f.accounts) == 0 {
		f.logger.Info("no accounts to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("indexer ws disconnected, reconnecting",
			slog.String("error", errString(err)),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// Close stops the feed.
func (f *StreamFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// subscribeMessage is the indexer websocket subscription envelope.
type subscribeMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	ID      string `json:"id"`
}

// channelMessage is the envelope of every message the indexer pushes.
type channelMessage struct {
	Type     string `json:"type"`
	Channel  string `json:"channel"`
	ID       string `json:"id"`
	Contents struct {
		Fills []wireFill `json:"fills"`
	} `json:"contents"`
}

func (f *StreamFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("indexer: ws dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	for _, acct := range f.accounts {
		sub := subscribeMessage{
			Type:    "subscribe",
			Channel: "v4_subaccounts",
			ID:      acct.String(),
		}
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("indexer: ws subscribe %s: %w", acct, err)
		}
	}
	f.logger.Info("indexer ws subscribed", slog.Int("accounts", len(f.accounts)))

	// Close the connection when the context ends so ReadMessage unblocks.
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		}
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("indexer: ws read: %w", domain.ErrWSDisconnect)
		}

		var msg channelMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			f.logger.Debug("indexer ws: skipping undecodable message",
				slog.String("error", err.Error()),
			)
			continue
		}
		if msg.Type != "channel_data" || len(msg.Contents.Fills) == 0 {
			continue
		}

		account, ok := parseAccountID(msg.ID)
		if !ok {
			continue
		}
		for _, w := range msg.Contents.Fills {
			fill := w.toDomain()
			if fill == nil {
				continue
			}
			f.onFill(ctx, account, *fill)
		}
	}
}

// parseAccountID splits the "address/subaccount" channel id form.
func parseAccountID(id string) (domain.AccountKey, bool) {
	i := strings.LastIndexByte(id, '/')
	if i <= 0 || i == len(id)-1 {
		return domain.AccountKey{}, false
	}
	sub, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return domain.AccountKey{}, false
	}
	return domain.AccountKey{Address: id[:i], Subaccount: sub}, true
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
