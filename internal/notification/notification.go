// Package notification sends Telegram messages for signals, trades and
// errors. Delivery is best effort: a failed send is logged and dropped,
// never retried into the trading path.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"delta-trading-bot/config"
	"delta-trading-bot/internal/events"
	"delta-trading-bot/internal/logging"
)

const telegramAPI = "https://api.telegram.org"

// Manager sends notifications through the Telegram bot API.
type Manager struct {
	enabled    bool
	botToken   string
	chatID     string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewManager creates a notification manager. When disabled every send is a
// silent no-op.
func NewManager(cfg config.NotificationConfig) *Manager {
	return &Manager{
		enabled:    cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		botToken:   cfg.BotToken,
		chatID:     cfg.ChatID,
		baseURL:    telegramAPI,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logging.WithComponent("notification"),
	}
}

// Send posts one message to the configured chat.
func (m *Manager) Send(ctx context.Context, text string) error {
	if !m.enabled {
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"chat_id":    m.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", m.baseURL, m.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending telegram message: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Attach subscribes the manager to bus events worth telling the operator
// about. Handlers run on the bus's dispatch goroutines.
func (m *Manager) Attach(bus *events.Bus) {
	if !m.enabled {
		return
	}

	send := func(text string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.Send(ctx, text); err != nil {
			m.logger.Warn("notification dropped", "error", err)
		}
	}

	bus.Subscribe(events.EventSignal, func(e events.Event) {
		send(fmt.Sprintf("📊 <b>%v</b> signal on %v at %v (stop %v)",
			e.Data["signal"], e.Data["symbol"], e.Data["price"], e.Data["stop_level"]))
	})
	bus.Subscribe(events.EventOrderPlaced, func(e events.Event) {
		send(fmt.Sprintf("✅ Order placed: %v %v x%v (id %v)",
			e.Data["side"], e.Data["symbol"], e.Data["size"], e.Data["order_id"]))
	})
	bus.Subscribe(events.EventPositionClosed, func(e events.Event) {
		send(fmt.Sprintf("🔚 Position closed on %v: %v (PnL %v)",
			e.Data["symbol"], e.Data["reason"], e.Data["pnl"]))
	})
	bus.Subscribe(events.EventRiskBreach, func(e events.Event) {
		send(fmt.Sprintf("🚨 <b>RISK BREACH</b> on %v: %v at risk against %v balance",
			e.Data["symbol"], e.Data["at_risk"], e.Data["balance"]))
	})
	bus.Subscribe(events.EventError, func(e events.Event) {
		send(fmt.Sprintf("⚠️ Error in %v: %v", e.Data["component"], e.Data["message"]))
	})
}
