package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ragsync/internal/domain"
	apperrors "ragsync/internal/errors"
	"ragsync/internal/vectorstore"
)

// Lister enumerates the current sources.
type Lister interface {
	ListFiles() ([]string, error)
	ListURLs() ([]string, error)
}

// Ingester writes one source into the index and returns its chunk count.
// When replace is set, prior records of the source are removed first.
type Ingester interface {
	Ingest(ctx context.Context, src domain.Source, replace bool) (int, error)
}

// Options configures a Reconciler.
type Options struct {
	ReplaceOnUpdate bool
	ScanLimit       int
	Parallelism     int
	CallTimeout     time.Duration
}

// IngestOutcome records what happened to one source during sync.
type IngestOutcome struct {
	Source   domain.Source
	Decision domain.Decision
	Chunks   int
	Err      error
}

// SyncReport summarises a sync run.
type SyncReport struct {
	Plan     *Plan
	Ingested []IngestOutcome
}

// Chunks returns the total number of chunks written.
func (r *SyncReport) Chunks() int {
	n := 0
	for _, o := range r.Ingested {
		n += o.Chunks
	}
	return n
}

// DeleteOutcome records the removal of one source.
type DeleteOutcome struct {
	Source  string
	Deleted int
	Err     error
}

// CleanupReport summarises a cleanup run.
type CleanupReport struct {
	Scanned   int
	Scheduled []string
	Deleted   []DeleteOutcome
}

// Total returns the number of records removed.
func (r *CleanupReport) Total() int {
	n := 0
	for _, d := range r.Deleted {
		n += d.Deleted
	}
	return n
}

// Reconciler drives cleanup and sync against one index.
type Reconciler struct {
	lister   Lister
	store    vectorstore.Storage
	ingester Ingester
	planner  *SyncPlanner
	opts     Options
	logger   *slog.Logger
}

// New returns a Reconciler.
func New(lister Lister, store vectorstore.Storage, ingester Ingester, opts Options, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ScanLimit <= 0 {
		opts.ScanLimit = vectorstore.DefaultScanLimit
	}
	planner := NewSyncPlanner(store, PlannerOptions{
		Parallelism: opts.Parallelism,
		CallTimeout: opts.CallTimeout,
		ScanLimit:   opts.ScanLimit,
	})
	return &Reconciler{
		lister:   lister,
		store:    store,
		ingester: ingester,
		planner:  planner,
		opts:     opts,
		logger:   logger,
	}
}

// Sources lists the current files followed by the current URLs.
func (r *Reconciler) Sources() ([]domain.Source, error) {
	files, err := r.lister.ListFiles()
	if err != nil {
		return nil, err
	}
	urls, err := r.lister.ListURLs()
	if err != nil {
		return nil, err
	}
	return append(domain.FileSources(files), domain.WebSources(urls)...), nil
}

// Sync ingests new and changed sources. Every source that could be classified
// is acted on; the joined per-source failures are returned afterwards.
func (r *Reconciler) Sync(ctx context.Context) (*SyncReport, error) {
	sources, err := r.Sources()
	if err != nil {
		return nil, err
	}

	plan := r.planner.Plan(ctx, sources)
	report := &SyncReport{Plan: plan}
	for _, d := range plan.Decisions {
		if d.Err != nil {
			r.logger.Warn("source classification failed",
				slog.String("source", d.Source.ID),
				slog.String("error", d.Err.Error()))
			continue
		}
		r.logger.Info("source classified",
			slog.String("source", d.Source.ID),
			slog.String("kind", d.Source.Kind.String()),
			slog.String("decision", d.Decision.String()))
	}

	errs := []error{plan.Err()}
	for _, d := range plan.ToIngest() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		replace := d.Decision == domain.DecisionUpdate && r.opts.ReplaceOnUpdate
		n, err := r.ingester.Ingest(ctx, d.Source, replace)
		out := IngestOutcome{Source: d.Source, Decision: d.Decision, Chunks: n, Err: err}
		report.Ingested = append(report.Ingested, out)
		if err != nil {
			r.logger.Error("ingest failed",
				slog.String("source", d.Source.ID),
				slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		r.logger.Info("source ingested",
			slog.String("source", d.Source.ID),
			slog.Int("chunks", n),
			slog.Bool("replaced", replace))
	}
	return report, errors.Join(errs...)
}

// Cleanup removes every indexed source that is no longer listed.
func (r *Reconciler) Cleanup(ctx context.Context) (*CleanupReport, error) {
	files, err := r.lister.ListFiles()
	if err != nil {
		return nil, err
	}
	urls, err := r.lister.ListURLs()
	if err != nil {
		return nil, err
	}

	scan, err := vectorstore.Scan(ctx, r.store, r.opts.ScanLimit)
	if err != nil {
		return nil, err
	}
	if len(scan) >= r.opts.ScanLimit {
		r.logger.Warn("index scan hit its limit, some stale sources may remain",
			slog.Int("limit", r.opts.ScanLimit))
	}

	report := &CleanupReport{Scanned: len(scan), Scheduled: PlanCleanup(files, urls, scan)}
	var errs []error
	for _, src := range report.Scheduled {
		n, err := r.DeleteSource(ctx, src)
		report.Deleted = append(report.Deleted, DeleteOutcome{Source: src, Deleted: n, Err: err})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return report, errors.Join(errs...)
}

// DeleteSource removes every record of src and returns how many were deleted.
// An unknown source deletes nothing and is not an error.
func (r *Reconciler) DeleteSource(ctx context.Context, src string) (int, error) {
	if src == "" {
		return 0, apperrors.ValidationError("source to delete is empty", nil)
	}
	n, err := vectorstore.DeleteBySource(ctx, r.store, src, r.opts.ScanLimit)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		r.logger.Info("nothing to delete", slog.String("source", src))
		return 0, nil
	}
	r.logger.Info("deleted source", slog.String("source", src), slog.Int("records", n))
	return n, nil
}

// RunOptions selects the actions of one Run.
// A non-empty Delete short-circuits cleanup and sync.
type RunOptions struct {
	Delete  string
	Cleanup bool
	Sync    bool
}

// RunReport collects the results of Run.
type RunReport struct {
	Deleted *DeleteOutcome
	Cleanup *CleanupReport
	Sync    *SyncReport
}

// Run performs the requested actions in order: delete, else cleanup then sync.
func (r *Reconciler) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	report := &RunReport{}
	if opts.Delete != "" {
		n, err := r.DeleteSource(ctx, opts.Delete)
		report.Deleted = &DeleteOutcome{Source: opts.Delete, Deleted: n, Err: err}
		return report, err
	}

	var errs []error
	if opts.Cleanup {
		cr, err := r.Cleanup(ctx)
		report.Cleanup = cr
		if err != nil {
			errs = append(errs, err)
		}
	}
	if opts.Sync {
		sr, err := r.Sync(ctx)
		report.Sync = sr
		if err != nil {
			errs = append(errs, err)
		}
	}
	return report, errors.Join(errs...)
}
