package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"MarketWarehouse/internal/model"
)

const maxListedFailures = 20

// FormatChatSummary formats one market run as a Telegram message.
func FormatChatSummary(r model.MarketReport) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("%s <b>%s</b> | %s\n\n", r.Market.Emoji, r.Market.Name, r.GeneratedAt.Format("2006-01-02")))

	s := r.Sync
	b.WriteString(fmt.Sprintf("Listed: %s | Synced: %s (%.1f%%)\n",
		humanize.Comma(int64(r.Listed)), humanize.Comma(int64(s.Synced())), r.Coverage()))
	b.WriteString(fmt.Sprintf("  success %d / cache %d / empty %d / error %d / skipped %d\n",
		s.Success, s.Cache, s.Empty, s.Error, s.Skipped))
	b.WriteString(fmt.Sprintf("Rows changed: %s | Took %s\n", humanize.Comma(s.RowsChanged), s.Duration.Round(time.Second)))
	b.WriteString(fmt.Sprintf("Store: %s rows, %s\n", humanize.Comma(r.TotalRows), humanize.Bytes(uint64(max(r.StoreBytes, 0)))))

	b.WriteString(fmt.Sprintf("Maintenance: %s\n", maintenanceStatus(r.Maintenance)))
	if len(r.Rows) > 0 {
		b.WriteString(fmt.Sprintf("Analyzed: %s symbols, %d charts\n", humanize.Comma(int64(len(r.Rows))), len(r.Charts)))
	}

	if len(s.Failures) > 0 {
		b.WriteString(fmt.Sprintf("\n⚠️ <b>Failures (%d)</b>\n", len(s.Failures)))
		for i, f := range s.Failures {
			if i == maxListedFailures {
				b.WriteString(fmt.Sprintf("  ... and %d more\n", len(s.Failures)-maxListedFailures))
				break
			}
			line := fmt.Sprintf("  %s: %s", f.Symbol, f.Outcome)
			if f.Error != "" {
				line += " (" + truncate(f.Error, 80) + ")"
			}
			b.WriteString(escapeHTML(line) + "\n")
		}
	}
	return b.String()
}

func maintenanceStatus(m model.MaintenanceResult) string {
	switch {
	case m.Err != "":
		return "failed: " + escapeHTML(truncate(m.Err, 120))
	case !m.Ran:
		return "skipped (no changes)"
	case m.Uploaded:
		return "optimized, uploaded"
	case m.Vacuumed:
		return "optimized"
	default:
		return "ran"
	}
}

// FormatStatus summarizes the latest run of every market.
func FormatStatus(runs []model.RunSummary) string {
	if len(runs) == 0 {
		return "No runs yet."
	}
	var b strings.Builder
	b.WriteString("📦 <b>Warehouse status</b>\n\n")
	for _, r := range runs {
		b.WriteString(fmt.Sprintf("<b>%s</b> %s (%s)\n", r.Market, r.StartedAt.Format("2006-01-02 15:04"), r.Duration.Round(time.Second)))
		if r.Err != "" {
			b.WriteString("  failed: " + escapeHTML(truncate(r.Err, 120)) + "\n")
			continue
		}
		b.WriteString(fmt.Sprintf("  coverage %.1f%% | %s rows | %s\n",
			r.Coverage, humanize.Comma(r.TotalRows), humanize.Bytes(uint64(max(r.StoreBytes, 0)))))
		b.WriteString(fmt.Sprintf("  changed %s | uploaded %v | emailed %v\n",
			humanize.Comma(r.RowsChanged), r.Uploaded, r.Emailed))
	}
	return b.String()
}

// FormatHelp lists the bot commands.
func FormatHelp() string {
	return "<b>Commands</b>\n" +
		"/run [market] - sync and report now (all markets when omitted)\n" +
		"/status - latest run per market\n" +
		"/help - this message"
}

// EmailSubject is the subject line of a market report email.
func EmailSubject(r model.MarketReport) string {
	return fmt.Sprintf("[Market Report] %s - %s", r.Market.Name, r.GeneratedAt.Format("2006-01-02"))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func escapeHTML(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}
