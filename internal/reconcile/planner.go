// Package reconcile decides which sources to (re)ingest or remove so that
// the vector index mirrors the current PDF directory and URL list.
package reconcile

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"ragsync/internal/domain"
	apperrors "ragsync/internal/errors"
	"ragsync/internal/source"
	"ragsync/internal/vectorstore"
)

// SourceDecision is the classification of one source.
// Prior is the record summary found in the index, nil for new sources.
// Hash is the freshly computed digest for file sources that were compared.
type SourceDecision struct {
	Source   domain.Source
	Decision domain.Decision
	Prior    *domain.RecordSummary
	Hash     string
	Err      error
}

// Plan holds one decision per input source, in input order.
type Plan struct {
	Decisions []SourceDecision
}

// ToIngest returns the sources classified as Add or Update, preserving order.
func (p *Plan) ToIngest() []SourceDecision {
	var out []SourceDecision
	for _, d := range p.Decisions {
		if d.Err != nil {
			continue
		}
		if d.Decision == domain.DecisionAdd || d.Decision == domain.DecisionUpdate {
			out = append(out, d)
		}
	}
	return out
}

// Count returns how many sources were classified as d without error.
func (p *Plan) Count(d domain.Decision) int {
	n := 0
	for _, sd := range p.Decisions {
		if sd.Err == nil && sd.Decision == d {
			n++
		}
	}
	return n
}

// Err joins the per-source classification failures.
func (p *Plan) Err() error {
	var errs []error
	for _, d := range p.Decisions {
		if d.Err != nil {
			errs = append(errs, d.Err)
		}
	}
	return errors.Join(errs...)
}

// PlannerOptions tunes SyncPlanner.
type PlannerOptions struct {
	Parallelism int
	CallTimeout time.Duration
	// ScanLimit bounds how many records of one source are compared to find
	// the newest.
	ScanLimit int
}

// SyncPlanner classifies sources as new, updated or unchanged.
type SyncPlanner struct {
	store    vectorstore.Storage
	opts     PlannerOptions
	hashFile func(string) (string, error)
}

// NewSyncPlanner returns a planner over store.
func NewSyncPlanner(store vectorstore.Storage, opts PlannerOptions) *SyncPlanner {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	return &SyncPlanner{store: store, opts: opts, hashFile: source.HashFile}
}

// Plan classifies every source. A failure for one source is recorded on its
// decision and the rest are still evaluated.
func (p *SyncPlanner) Plan(ctx context.Context, sources []domain.Source) *Plan {
	plan := &Plan{Decisions: make([]SourceDecision, len(sources))}
	var g errgroup.Group
	g.SetLimit(p.opts.Parallelism)
	for i, src := range sources {
		g.Go(func() error {
			plan.Decisions[i] = p.Decide(ctx, src)
			return nil
		})
	}
	_ = g.Wait()
	return plan
}

// Decide classifies a single source with one index lookup.
func (p *SyncPlanner) Decide(ctx context.Context, src domain.Source) SourceDecision {
	d := SourceDecision{Source: src}
	if err := ctx.Err(); err != nil {
		d.Err = apperrors.RetrievalError("lookup source", err).WithDetail("source", src.ID)
		return d
	}

	prior, err := p.lookup(ctx, src.ID)
	if err != nil {
		d.Err = err
		return d
	}
	d.Prior = prior
	if prior == nil {
		d.Decision = domain.DecisionAdd
		return d
	}
	if src.Kind == domain.KindWeb {
		d.Decision = domain.DecisionSkip
		return d
	}

	hash, err := p.hashFile(src.ID)
	if err != nil {
		d.Err = err
		return d
	}
	d.Hash = hash
	if prior.Hash == "" || prior.Hash != hash {
		d.Decision = domain.DecisionUpdate
	} else {
		d.Decision = domain.DecisionSkip
	}
	return d
}

func (p *SyncPlanner) lookup(ctx context.Context, id string) (*domain.RecordSummary, error) {
	if p.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.CallTimeout)
		defer cancel()
	}
	prior, err := vectorstore.LookupBySource(ctx, p.store, id, p.opts.ScanLimit)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, apperrors.New(apperrors.ErrCodeIndexTimeout, "index lookup timed out", err).WithDetail("source", id)
	}
	return prior, err
}
