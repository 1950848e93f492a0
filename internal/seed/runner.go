package seed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/unieasy/places-cli/internal/places"
	"github.com/unieasy/places-cli/internal/store"
)

// RunConfig holds the validated inputs of one seed run.
type RunConfig struct {
	Tags   []places.Tag // empty means every tag, in table order
	Area   Area
	City   string
	DryRun bool
}

// Tally counts per-record outcomes across a run.
type Tally struct {
	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// Add returns t with o counted.
func (t Tally) Add(o Outcome) Tally {
	switch o {
	case OutcomeInserted:
		t.Inserted++
	case OutcomeUpdated:
		t.Updated++
	case OutcomeSkipped:
		t.Skipped++
	default:
		t.Errors++
	}
	return t
}

// Counts converts t for the run log.
func (t Tally) Counts() store.RunCounts {
	return store.RunCounts{
		Fetched:  t.Fetched,
		Inserted: t.Inserted,
		Updated:  t.Updated,
		Skipped:  t.Skipped,
		Errors:   t.Errors,
	}
}

// Observer receives progress events, e.g. for metrics.
type Observer interface {
	Fetched(tag places.Tag, n int)
	Reconciled(tag places.Tag, o Outcome)
}

// RunLog records live runs.
type RunLog interface {
	CreateRun(ctx context.Context, params store.RunParams) (*store.Run, error)
	CompleteRun(ctx context.Context, runID string, counts store.RunCounts) error
	FailRun(ctx context.Context, runID string, counts store.RunCounts, runErr error) error
}

// Runner drives fetch, map and reconcile for each category, one at a time.
type Runner struct {
	fetcher    *Fetcher
	reconciler *Reconciler
	runLog     RunLog
	observer   Observer
	now        func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunLog records live runs in l. Dry runs are never recorded.
func WithRunLog(l RunLog) RunnerOption {
	return func(r *Runner) { r.runLog = l }
}

// WithObserver reports progress to o.
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) { r.observer = o }
}

// WithClock overrides time.Now for record timestamps.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner.
func NewRunner(f *Fetcher, rec *Reconciler, opts ...RunnerOption) *Runner {
	r := &Runner{fetcher: f, reconciler: rec, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run seeds every requested category and returns the tally. A 403 stops the
// run at once and returns the partial tally with a *ForbiddenError.
func (r *Runner) Run(ctx context.Context, cfg RunConfig) (Tally, error) {
	tags := cfg.Tags
	if len(tags) == 0 {
		tags = places.AllTags()
	}
	log := zap.L().With(zap.Bool("dry_run", cfg.DryRun))
	log.Info("seed run starting",
		zap.Int("categories", len(tags)),
		zap.Float64("lat", cfg.Area.Center.Lat),
		zap.Float64("lng", cfg.Area.Center.Lng),
		zap.Float64("radius", cfg.Area.Radius),
	)

	runID := r.startRun(ctx, cfg, tags)

	var tally Tally
	for _, tag := range tags {
		var err error
		tally, err = r.seedTag(ctx, tag, cfg, tally)
		if err != nil {
			r.failRun(ctx, runID, tally, err)
			log.Error("seed run aborted", zap.String("category", string(tag)), zap.Error(err))
			return tally, err
		}
	}

	r.completeRun(ctx, runID, tally)
	log.Info("seed run complete",
		zap.Int("fetched", tally.Fetched),
		zap.Int("inserted", tally.Inserted),
		zap.Int("updated", tally.Updated),
		zap.Int("skipped", tally.Skipped),
		zap.Int("errors", tally.Errors),
	)
	return tally, nil
}

func (r *Runner) seedTag(ctx context.Context, tag places.Tag, cfg RunConfig, tally Tally) (Tally, error) {
	log := zap.L().With(zap.String("category", string(tag)))

	results, err := r.fetcher.Fetch(ctx, tag, cfg.Area)
	if err != nil {
		return tally, err
	}
	tally.Fetched += len(results)
	if r.observer != nil {
		r.observer.Fetched(tag, len(results))
	}
	log.Info("fetched places", zap.Int("results", len(results)))

	for _, p := range results {
		rec, reason := places.Map(p, tag, cfg.City, r.now())
		if rec == nil {
			log.Debug("result not mapped", zap.String("google_place_id", p.ID), zap.String("reason", string(reason)))
			continue
		}
		outcome := r.reconciler.Upsert(ctx, rec, cfg.DryRun)
		tally = tally.Add(outcome)
		if r.observer != nil {
			r.observer.Reconciled(tag, outcome)
		}
	}
	return tally, nil
}

func (r *Runner) startRun(ctx context.Context, cfg RunConfig, tags []places.Tag) string {
	if r.runLog == nil || cfg.DryRun {
		return ""
	}
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = string(t)
	}
	run, err := r.runLog.CreateRun(ctx, store.RunParams{
		Categories: names,
		Lat:        cfg.Area.Center.Lat,
		Lng:        cfg.Area.Center.Lng,
		Radius:     cfg.Area.Radius,
	})
	if err != nil {
		zap.L().Warn("could not record seed run", zap.Error(err))
		return ""
	}
	return run.ID
}

func (r *Runner) completeRun(ctx context.Context, runID string, tally Tally) {
	if runID == "" {
		return
	}
	if err := r.runLog.CompleteRun(ctx, runID, tally.Counts()); err != nil {
		zap.L().Warn("could not complete seed run record", zap.String("run_id", runID), zap.Error(err))
	}
}

func (r *Runner) failRun(ctx context.Context, runID string, tally Tally, runErr error) {
	if runID == "" {
		return
	}
	// The run context may already be cancelled.
	if err := r.runLog.FailRun(context.WithoutCancel(ctx), runID, tally.Counts(), runErr); err != nil {
		zap.L().Warn("could not fail seed run record", zap.String("run_id", runID), zap.Error(err))
	}
}
