// Package notifier delivers market reports by email and Telegram.
package notifier

import (
	"context"

	"github.com/rs/zerolog"

	"MarketWarehouse/internal/model"
)

// Notifier fans a market report out to every configured channel.
type Notifier struct {
	Email    *EmailSender
	Telegram *TelegramNotifier
	TopN     int
	Retries  int
	logger   zerolog.Logger
}

// New creates a notifier. Either channel may be nil.
func New(email *EmailSender, telegram *TelegramNotifier, topN int, logger zerolog.Logger) *Notifier {
	return &Notifier{Email: email, Telegram: telegram, TopN: topN, Retries: 2, logger: logger}
}

// Notify sends the report on every channel and reports whether the email
// went out. Nothing is emailed when the analysis produced no rows.
func (n *Notifier) Notify(ctx context.Context, r model.MarketReport) bool {
	log := n.logger.With().Str("market", r.Market.ID).Logger()

	if n.Telegram.Enabled() {
		if err := n.Telegram.SendWithRetry(ctx, FormatChatSummary(r), n.Retries); err != nil {
			log.Error().Err(err).Msg("telegram summary failed")
		}
	}

	if !n.Email.Enabled() {
		log.Info().Msg("email not configured, skipping")
		return false
	}
	if len(r.Rows) == 0 {
		log.Warn().Msg("no analysis rows, skipping email")
		return false
	}
	if err := n.Email.SendReport(ctx, r, n.TopN); err != nil {
		log.Error().Err(err).Msg("email report failed")
		return false
	}
	log.Info().Strs("to", n.Email.To).Int("charts", len(r.Charts)).Msg("email report sent")
	return true
}

// Alert pushes a plain message to Telegram, used for run failures.
func (n *Notifier) Alert(ctx context.Context, text string) {
	if !n.Telegram.Enabled() {
		return
	}
	if err := n.Telegram.SendWithRetry(ctx, escapeHTML(text), n.Retries); err != nil {
		n.logger.Error().Err(err).Msg("telegram alert failed")
	}
}
