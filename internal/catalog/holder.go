package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"apitables/internal/specsource"
)

// Holder publishes the current catalog. Readers take a snapshot with Current
// and keep using it for the whole query while a refresh swaps in a new one.
type Holder struct {
	current atomic.Pointer[Catalog]
}

// NewHolder creates a Holder publishing c.
func NewHolder(c *Catalog) *Holder {
	h := &Holder{}
	h.current.Store(c)
	return h
}

// Current returns the published catalog.
func (h *Holder) Current() *Catalog { return h.current.Load() }

// Swap publishes c and returns the previous catalog.
func (h *Holder) Swap(c *Catalog) *Catalog { return h.current.Swap(c) }

// DocumentLoader loads an OpenAPI document by location.
type DocumentLoader interface {
	Load(ctx context.Context, location string) (*specsource.Document, error)
}

// Refresher reloads the document on a cron schedule and swaps the rebuilt
// catalog into a Holder. A failed reload keeps the previous catalog.
type Refresher struct {
	cron     *cron.Cron
	holder   *Holder
	loader   DocumentLoader
	location string
	schedule string
	logger   *slog.Logger
}

// NewRefresher creates a refresher for location on the given standard cron schedule.
func NewRefresher(holder *Holder, loader DocumentLoader, location, schedule string, logger *slog.Logger) *Refresher {
	return &Refresher{
		cron:     cron.New(),
		holder:   holder,
		loader:   loader,
		location: location,
		schedule: schedule,
		logger:   logger.With("component", "catalog-refresher"),
	}
}

// Start registers the schedule and starts the cron runner.
func (r *Refresher) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc(r.schedule, func() {
		if err := r.Refresh(ctx); err != nil {
			r.logger.Warn("catalog refresh failed", "location", r.location, "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", r.schedule, err)
	}
	r.cron.Start()
	r.logger.Info("catalog refresher started", "schedule", r.schedule)
	return nil
}

// Stop stops the cron runner and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("catalog refresher stopped")
}

// Refresh reloads and recompiles the document once.
func (r *Refresher) Refresh(ctx context.Context) error {
	doc, err := r.loader.Load(ctx, r.location)
	if err != nil {
		return err
	}
	next, err := Build(doc)
	if err != nil {
		return err
	}
	prev := r.holder.Swap(next)
	var prevTables int
	if prev != nil {
		prevTables = len(prev.names)
	}
	r.logger.Info("catalog swapped", "location", r.location, "tables", len(next.names), "previous_tables", prevTables)
	return nil
}
