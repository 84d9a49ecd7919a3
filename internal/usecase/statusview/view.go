package statusview

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"proofwatch/internal/errs"
	"proofwatch/internal/ports"
)

const recentEventLimit = 10

// Snapshot renders a one-shot console view of subscribers, recent events,
// and per-subscriber delivery counts.
func Snapshot(ctx context.Context, subs ports.SubscriberRepository, events ports.EventRepository, ledger ports.DeliveryLedger) (string, error) {
	titleStyle := lipgloss.NewStyle().Bold(true)
	sectionStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	active, err := subs.ListActive(ctx)
	if err != nil {
		return "", errs.Wrap(err, "list active subscribers")
	}
	recent, err := events.List(ctx, ports.EventFilter{Limit: recentEventLimit})
	if err != nil {
		return "", errs.Wrap(err, "list recent events")
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("proofwatch status"))
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render(fmt.Sprintf("Active subscribers (%d)", len(active))))
	b.WriteString("\n")
	if len(active) == 0 {
		b.WriteString(dimStyle.Render("  none"))
		b.WriteString("\n")
	}
	for _, sub := range active {
		count, err := ledger.DeliveryCount(ctx, sub.SubscriberID)
		if err != nil {
			return "", errs.Wrapf(err, "delivery count for chat %d", sub.ChatID)
		}

		filter := "-"
		if sub.ProverFilter != nil {
			filter = *sub.ProverFilter
		}
		b.WriteString(fmt.Sprintf("  chat %-12d success=%-5v failure=%-5v deliveries=%-4d",
			sub.ChatID, sub.NotifySuccess, sub.NotifyFailure, count))
		b.WriteString(dimStyle.Render(" filter=" + filter))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render(fmt.Sprintf("Recent events (%d)", len(recent))))
	b.WriteString("\n")
	if len(recent) == 0 {
		b.WriteString(dimStyle.Render("  none"))
		b.WriteString("\n")
	}
	for _, ev := range recent {
		result := "failed"
		if ev.Result {
			result = "success"
		}
		when := time.Unix(ev.Timestamp, 0).UTC().Format("2006-01-02 15:04")
		b.WriteString(fmt.Sprintf("  block %-10d %-7s %s", ev.BlockNumber, result, ev.Prover))
		b.WriteString(dimStyle.Render(" " + when))
		b.WriteString("\n")
	}

	return b.String(), nil
}
