package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"chainalerts/internal/alerting"
	"chainalerts/internal/analytics"
	"chainalerts/internal/storage"
)

// Export renders the analytics trend series as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)
	if opts.Timeframe == "" {
		opts.Timeframe = a.Config.Analytics.Timeframe
	}
	tf, err := analytics.ParseTimeframe(opts.Timeframe)
	if err != nil {
		return err
	}

	be, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer be.close()

	events := storage.NewState(be.kv, a.Logger).LoadNotifications(ctx)
	if be.archive != nil {
		archived, err := be.archive.Query(ctx, alerting.ArchiveQuery{Since: time.Now().Add(-tf.Window())})
		if err != nil {
			return err
		}
		events = analytics.Merge(events, archived)
	}

	engine := analytics.NewEngine(analytics.Options{AnomalyK: a.Config.Analytics.AnomalyK})
	trend := engine.Trend(events, tf)
	if len(trend) == 0 {
		a.Logger.Info().Msg("no buckets in export window")
		return nil
	}

	downsampled := downsampleBuckets(trend, opts.MaxPoints)
	categories := trendCategories(downsampled)
	a.Logger.Info().
		Str("timeframe", string(tf)).
		Int("events", len(events)).
		Int("exported", len(downsampled)).
		Msg("exporting alert trend")

	if opts.CSVPath != "" {
		if err := writeTrendCSV(opts.CSVPath, downsampled, categories); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeTrendPNG(opts.PNGPath, downsampled, categories); err != nil {
			return err
		}
	}

	return nil
}

func downsampleBuckets(buckets []analytics.Bucket, max int) []analytics.Bucket {
	if max <= 0 || len(buckets) <= max {
		return buckets
	}
	if max == 1 {
		return buckets[len(buckets)-1:]
	}

	result := make([]analytics.Bucket, 0, max)
	step := float64(len(buckets)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(buckets) {
			idx = len(buckets) - 1
		}
		result = append(result, buckets[idx])
	}
	return result
}

func trendCategories(buckets []analytics.Bucket) []alerting.Category {
	seen := make(map[alerting.Category]struct{})
	for _, b := range buckets {
		for c := range b.ByCategory {
			seen[c] = struct{}{}
		}
	}
	out := make([]alerting.Category, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func writeTrendCSV(path string, buckets []analytics.Bucket, categories []alerting.Category) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"bucket_start", "total"}
	for _, c := range categories {
		header = append(header, string(c))
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, b := range buckets {
		record := []string{b.Start.UTC().Format(time.RFC3339), strconv.Itoa(b.Total)}
		for _, c := range categories {
			record = append(record, strconv.Itoa(b.ByCategory[c]))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeTrendPNG(path string, buckets []analytics.Bucket, categories []alerting.Category) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	if len(buckets) < 2 {
		return errors.New("at least two buckets are needed to draw a chart")
	}

	x := make([]time.Time, len(buckets))
	total := make([]float64, len(buckets))
	perCategory := make(map[alerting.Category][]float64, len(categories))
	for _, c := range categories {
		perCategory[c] = make([]float64, len(buckets))
	}
	for i, b := range buckets {
		x[i] = b.Start
		total[i] = float64(b.Total)
		for _, c := range categories {
			perCategory[c][i] = float64(b.ByCategory[c])
		}
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Total",
			XValues: x,
			YValues: total,
		},
	}
	for _, c := range categories {
		series = append(series, chart.TimeSeries{
			Name:    string(c),
			XValues: x,
			YValues: perCategory[c],
		})
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Alerts",
			ValueFormatter: countFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
