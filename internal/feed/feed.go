package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"chainalerts/internal/snapshot"
)

// Category names a kind of metric a source reports.
type Category string

const (
	CategoryPrice    Category = "price"
	CategoryVolume   Category = "volume"
	CategoryGas      Category = "gas"
	CategorySecurity Category = "security"
)

// Source describes one independent metric stream. Immutable for a session.
type Source struct {
	ID         string
	Name       string
	Categories []Category
	// Link is an optional page for the source, such as a block explorer.
	Link string
}

// Reports reports whether the source declares the category.
func (s Source) Reports(c Category) bool {
	for _, have := range s.Categories {
		if have == c {
			return true
		}
	}
	return false
}

// Feed refreshes the metrics of one source.
type Feed interface {
	Refresh(ctx context.Context, sourceID string) (map[string]snapshot.Reading, error)
}

// Result is the outcome of refreshing one source.
type Result struct {
	SourceID string
	Readings map[string]snapshot.Reading
	Err      error
}

// Refresher refreshes a fixed set of sources concurrently.
type Refresher struct {
	sources  []Source
	feeds    map[string]Feed
	parallel int
	logger   zerolog.Logger
}

// NewRefresher constructs a refresher over the given sources.
func NewRefresher(logger zerolog.Logger) *Refresher {
	return &Refresher{
		feeds:    make(map[string]Feed),
		parallel: 4,
		logger:   logger.With().Str("component", "feed_refresher").Logger(),
	}
}

// Register adds a source and the feed that refreshes it.
func (r *Refresher) Register(src Source, f Feed) error {
	if src.ID == "" {
		return fmt.Errorf("source id required")
	}
	if _, exists := r.feeds[src.ID]; exists {
		return fmt.Errorf("source %q already registered", src.ID)
	}
	r.sources = append(r.sources, src)
	r.feeds[src.ID] = f
	return nil
}

// Sources returns the registered sources in registration order.
func (r *Refresher) Sources() []Source {
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// Source looks up a registered source.
func (r *Refresher) Source(id string) (Source, bool) {
	for _, src := range r.sources {
		if src.ID == id {
			return src, true
		}
	}
	return Source{}, false
}

// RefreshAll refreshes every source. A failing source is reported in its
// Result and never prevents the others from refreshing.
func (r *Refresher) RefreshAll(ctx context.Context) []Result {
	results := make([]Result, len(r.sources))

	var g errgroup.Group
	g.SetLimit(r.parallel)
	for i, src := range r.sources {
		i, src := i, src
		g.Go(func() error {
			started := time.Now()
			readings, err := r.feeds[src.ID].Refresh(ctx, src.ID)
			results[i] = Result{SourceID: src.ID, Readings: readings, Err: err}
			if err != nil {
				r.logger.Warn().Err(err).Str("source", src.ID).Msg("refresh failed")
				return nil
			}
			r.logger.Debug().Str("source", src.ID).
				Int("metrics", len(readings)).
				Dur("took", time.Since(started)).
				Msg("source refreshed")
			return nil
		})
	}
	_ = g.Wait()
	return results
}
