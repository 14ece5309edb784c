package telegram

import (
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"athena/internal/adapters/config"
	"athena/pkg/errors"
	"athena/pkg/logger"
)

// Notifier sends operator alerts to a fixed chat. It is outbound-only;
// the bot never polls for updates. A disabled notifier accepts every
// call and does nothing.
type Notifier struct {
	api     *tgbotapi.BotAPI
	chatID  int64
	limiter *rate.Limiter
	log     *logger.Logger
}

// NewNotifier creates a Telegram alert notifier. Returns a no-op
// notifier when alerts are disabled.
func NewNotifier(cfg config.TelegramConfig) (*Notifier, error) {
	log := logger.Get().With("component", "telegram_alerts")

	if !cfg.Enabled {
		log.Info("Telegram alerts disabled")
		return &Notifier{log: log}, nil
	}
	if cfg.BotToken == "" || cfg.AlertsChat == 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "telegram alerts enabled without token or chat id")
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create telegram bot")
	}

	return &Notifier{
		api:    api,
		chatID: cfg.AlertsChat,
		// Telegram allows 30 msg/sec; alerts are rare, stay well under.
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		log:     log,
	}, nil
}

// NotifyEmergency alerts the operator channel about an emergency
// escalation.
func (n *Notifier) NotifyEmergency(kind, topic string, participants int) {
	n.send(fmt.Sprintf(
		"🚨 *Emergency analysis triggered*\nKind: `%s`\nTopic: %s\nParticipants: %d",
		kind, topic, participants,
	))
}

// NotifyDegradation alerts the operator channel that platform quality
// dropped below its floors.
func (n *Notifier) NotifyDegradation(report string) {
	n.send("⚠️ *Platform quality degraded*\n" + report)
}

// NotifyAgentUnhealthy alerts the operator channel about an agent
// flagged by the health sweep.
func (n *Notifier) NotifyAgentUnhealthy(name, reason string) {
	n.send(fmt.Sprintf("🩺 Agent `%s` flagged unhealthy: %s", name, reason))
}

func (n *Notifier) send(text string) {
	if n.api == nil {
		return
	}
	if !n.limiter.Allow() {
		n.log.Warn("Alert dropped by rate limiter")
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.api.Send(msg); err != nil {
		n.log.Warnw("Alert send failed", "error", err)
	}
}
