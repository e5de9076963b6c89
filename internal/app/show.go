package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"chainalerts/internal/alerting"
	"chainalerts/internal/rules"
	"chainalerts/internal/storage"
)

// Show prints persisted notifications, price alerts or archived triggers.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	be, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer be.close()

	if opts.Archive {
		if be.store == nil {
			return errors.New("archive requires storage.backend postgres")
		}
		records, err := be.store.ListTriggers(ctx, alerting.ArchiveQuery{Limit: opts.Limit})
		if err != nil {
			return err
		}
		return writeTriggers(os.Stdout, records)
	}

	state := storage.NewState(be.kv, a.Logger)
	if opts.Alerts {
		return writePriceAlerts(os.Stdout, state.LoadPriceAlerts(ctx))
	}

	events := state.LoadNotifications(ctx)
	filtered := make([]alerting.Event, 0, len(events))
	for _, ev := range events {
		if ev.Status == alerting.StatusDismissed {
			continue
		}
		if opts.Unread && ev.Status != alerting.StatusUnread {
			continue
		}
		filtered = append(filtered, ev)
		if opts.Limit > 0 && len(filtered) == opts.Limit {
			break
		}
	}
	return writeEvents(os.Stdout, filtered)
}

func writeEvents(w io.Writer, events []alerting.Event) error {
	if len(events) == 0 {
		fmt.Fprintln(w, "no notifications found")
		return nil
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSeverity\tCategory\tSource\tStatus\tTitle\tMessage")
	for _, ev := range events {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.Timestamp.UTC().Format(time.RFC3339),
			ev.Severity,
			ev.Category,
			orDash(ev.SourceID()),
			ev.Status,
			sanitizeInline(ev.Title),
			sanitizeInline(ev.Message),
		)
	}
	return writer.Flush()
}

func writePriceAlerts(w io.Writer, alerts []rules.PriceAlert) error {
	if len(alerts) == 0 {
		fmt.Fprintln(w, "no price alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSource\tMetric\tCondition\tRepeatable\tEnabled\tLast Triggered")
	for _, pa := range alerts {
		last := "-"
		if pa.LastTriggeredAt != nil {
			last = pa.LastTriggeredAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%t\t%t\t%s\n",
			pa.ID,
			pa.SourceID,
			pa.MetricKey(),
			pa.Condition.Type,
			pa.Repeatable,
			pa.Enabled,
			last,
		)
	}
	return writer.Flush()
}

func writeTriggers(w io.Writer, records []storage.TriggerRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(w, "no archived triggers found")
		return nil
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSeverity\tCategory\tSource\tMetric\tPrevious\tCurrent\tChange%")
	for _, r := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.OccurredAt.UTC().Format(time.RFC3339),
			r.Severity,
			r.Category,
			orDash(r.SourceID),
			orDash(r.MetricKey),
			r.Previous.StringFixed(4),
			r.Current.StringFixed(4),
			r.ChangePct.StringFixed(2),
		)
	}
	return writer.Flush()
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
