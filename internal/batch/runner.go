package batch

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/schoolscope/extract-cli/internal/extract"
	"github.com/schoolscope/extract-cli/internal/model"
	"github.com/schoolscope/extract-cli/internal/resilience"
	"github.com/schoolscope/extract-cli/internal/store"
	"github.com/schoolscope/extract-cli/internal/validate"
)

const (
	defaultWorkers  = 8
	defaultReadRate = 50 // documents per second

	quarantineMaxRetries = 3
)

// Report summarizes one batch run.
type Report struct {
	Processed     int                        `json:"processed" yaml:"processed"`
	Failed        int                        `json:"failed" yaml:"failed"`
	Quarantined   int                        `json:"quarantined" yaml:"quarantined"`
	Conflicts     int                        `json:"conflicts" yaml:"conflicts"`
	ByStatus      map[model.RecordStatus]int `json:"by_status" yaml:"by_status"`
	AvgConfidence float64                    `json:"avg_confidence" yaml:"avg_confidence"`
	Duration      time.Duration              `json:"duration" yaml:"duration"`
}

// Runner drives extraction over a document source with a fixed worker pool.
// Document reads and record saves each go through their own circuit breaker
// so a failing store does not mask a healthy filesystem, and vice versa.
type Runner struct {
	extractor *extract.Extractor
	store     store.Store
	validator *validate.UniquenessValidator

	docBreaker   *resilience.CircuitBreaker
	storeBreaker *resilience.CircuitBreaker
	limiter      *rate.Limiter
	workers      int
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithReadRate caps document reads per second.
func WithReadRate(perSecond float64) RunnerOption {
	return func(r *Runner) {
		if perSecond > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// NewRunner creates a batch runner. Breakers are drawn from the registry so
// operators can tune thresholds through config without touching the runner.
func NewRunner(ex *extract.Extractor, st store.Store, reg *resilience.Registry, opts ...RunnerOption) *Runner {
	r := &Runner{
		extractor:    ex,
		store:        st,
		validator:    validate.NewUniquenessValidator(st),
		docBreaker:   reg.Get(resilience.BreakerDocumentIO),
		storeBreaker: reg.Get(resilience.BreakerRecordStore),
		limiter:      rate.NewLimiter(rate.Limit(defaultReadRate), 1),
		workers:      defaultWorkers,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run extracts every document the source lists. Loading and extraction run
// in parallel; uniqueness checks and saves then run in a single serialized
// pass in listing order, so two documents claiming the same exact rank can
// never both clear the check before either one is persisted. Individual
// document failures are quarantined, counted, and do not stop the batch;
// only listing failures and context cancellation abort the run.
func (r *Runner) Run(ctx context.Context, src Source) (*Report, error) {
	start := time.Now()

	refs, err := src.List(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "batch: list documents")
	}

	report := &Report{ByStatus: make(map[model.RecordStatus]int)}

	// Phase one: load and extract. Results land at their listing index so
	// the validation pass below is deterministic.
	records := make([]*model.ExtractedRecord, len(refs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, ref := range refs {
		g.Go(func() error {
			rec, err := r.extractOne(gCtx, src, ref)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				zap.L().Warn("batch: document failed",
					zap.String("path", ref.Path),
					zap.Error(err),
				)
				r.quarantine(gCtx, ref, err, "load")
				return nil
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "batch: run")
	}

	// Phase two: validate against the accumulated dataset and persist,
	// one record at a time.
	var confidenceSum float64
	for i, rec := range records {
		if rec == nil {
			report.Failed++
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "batch: run")
		}

		conflicts, err := r.persistOne(ctx, rec)
		if err != nil {
			zap.L().Warn("batch: document failed",
				zap.String("path", refs[i].Path),
				zap.Error(err),
			)
			r.quarantine(ctx, refs[i], err, "persist")
			report.Failed++
			continue
		}
		report.Processed++
		report.ByStatus[rec.Status]++
		report.Conflicts += conflicts
		confidenceSum += rec.OverallConfidence
	}
	report.Quarantined = report.Failed

	if report.Processed > 0 {
		report.AvgConfidence = confidenceSum / float64(report.Processed)
	}
	report.Duration = time.Since(start)

	zap.L().Info("batch: run complete",
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed),
		zap.Float64("avg_confidence", report.AvgConfidence),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// extractOne loads and extracts a single document.
func (r *Runner) extractOne(ctx context.Context, src Source, ref DocumentRef) (*model.ExtractedRecord, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	in, err := resilience.ExecuteVal(ctx, r.docBreaker, func(ctx context.Context) (extract.DocumentInput, error) {
		return src.Load(ctx, ref)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "batch: load %s", ref.Path)
	}

	return r.extractor.Extract(in), nil
}

// persistOne checks a record against the dataset and saves it. It returns
// the number of uniqueness conflicts found. Callers must not overlap calls:
// the duplicate-rank check reads the same rows the save writes.
func (r *Runner) persistOne(ctx context.Context, rec *model.ExtractedRecord) (int, error) {
	conflicts, err := r.validator.FindConflicts(ctx, rec)
	if err != nil {
		return 0, eris.Wrapf(err, "batch: validate %s", rec.Key.Slug)
	}
	validate.Penalize(rec, conflicts)

	err = r.storeBreaker.Execute(ctx, func(ctx context.Context) error {
		return r.store.SaveRecord(ctx, rec)
	})
	if err != nil {
		return 0, eris.Wrapf(err, "batch: save %s", rec.Key.Slug)
	}
	return len(conflicts), nil
}

// quarantine records a failed document so the run leaves an auditable trail
// and transient failures can be retried later. Quarantine write failures
// are logged, never fatal.
func (r *Runner) quarantine(ctx context.Context, ref DocumentRef, cause error, phase string) {
	entry := resilience.DLQEntry{
		Path:        ref.Path,
		Slug:        ref.Slug,
		Year:        ref.Year,
		Error:       cause.Error(),
		ErrorType:   resilience.ClassifyError(cause),
		FailedPhase: phase,
		MaxRetries:  quarantineMaxRetries,
	}
	if err := r.store.EnqueueDLQ(ctx, entry); err != nil {
		zap.L().Error("batch: quarantine failed",
			zap.String("path", ref.Path),
			zap.Error(err),
		)
	}
}
