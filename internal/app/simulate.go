package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"chainalerts/internal/alerting"
	"chainalerts/internal/feed"
	"chainalerts/internal/rules"
	"chainalerts/internal/severity"
	"chainalerts/internal/snapshot"
	"chainalerts/internal/storage"
)

// SimulateAlert 用给定的前值/现值驱动一次完整的评估与投递流程，状态仅保存在内存中。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	result, err := a.simulate(ctx, opts)
	if err != nil {
		return err
	}
	return writeSimulation(os.Stdout, result)
}

func (a *App) simulate(ctx context.Context, opts SimulateOptions) (alerting.PassResult, error) {
	var result alerting.PassResult
	if err := opts.validate(); err != nil {
		return result, err
	}

	category, _ := snapshot.SplitKey(opts.Metric)
	src := feed.Source{ID: opts.SourceID, Name: opts.SourceID, Categories: []feed.Category{feed.Category(category)}}
	for _, sc := range a.Config.Sources {
		if sc.ID == opts.SourceID {
			src = sourceFromConfig(sc)
			break
		}
	}

	static := feed.NewStatic()
	refresher := feed.NewRefresher(a.Logger)
	if err := refresher.Register(src, static); err != nil {
		return result, err
	}

	rt, err := a.assemble(refresher, &backend{kv: storage.NewMemoryKV(), close: func() {}})
	if err != nil {
		return result, err
	}
	if opts.Threshold > 0 {
		rt.registry.SaveRule(rules.AlertRule{
			Name:       "simulation",
			Enabled:    true,
			Sources:    []string{src.ID},
			Categories: []feed.Category{feed.Category(category)},
			Threshold:  opts.Threshold,
			Severity:   severity.Medium,
			Notify:     rules.AllChannels(),
		})
	}

	result.Deliveries = make(map[string][]alerting.Delivery)
	for _, v := range []float64{opts.Previous, opts.Current} {
		static.Set(src.ID, opts.Metric, v)
		for _, r := range rt.refresher.RefreshAll(ctx) {
			if r.Err != nil {
				return result, fmt.Errorf("模拟数据刷新失败: %w", r.Err)
			}
			rt.snapshots.Apply(r.SourceID, r.Readings)
		}
		pass := rt.dispatcher.Evaluate(ctx)
		result.Events = append(result.Events, pass.Events...)
		result.Malformed += pass.Malformed
		for id, ds := range pass.Deliveries {
			result.Deliveries[id] = ds
		}
	}

	a.Logger.Info().
		Str("source", src.ID).
		Str("metric", opts.Metric).
		Float64("previous", opts.Previous).
		Float64("current", opts.Current).
		Int("events", len(result.Events)).
		Msg("模拟完成")
	return result, nil
}

func writeSimulation(w io.Writer, result alerting.PassResult) error {
	if len(result.Events) == 0 {
		fmt.Fprintln(w, "no alert fired")
		return nil
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Severity\tTitle\tMessage\tDeliveries")
	for _, ev := range result.Events {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
			ev.Severity,
			sanitizeInline(ev.Title),
			sanitizeInline(ev.Message),
			formatDeliveries(result.Deliveries[ev.ID]),
		)
	}
	return writer.Flush()
}

func formatDeliveries(ds []alerting.Delivery) string {
	if len(ds) == 0 {
		return "-"
	}
	out := ""
	for i, d := range ds {
		if i > 0 {
			out += ", "
		}
		out += d.Channel + "=" + string(d.Outcome)
		if d.Reason != "" {
			out += "(" + d.Reason + ")"
		}
	}
	return out
}
