package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/pricewatch/internal/core/domain"
	"github.com/rl1809/pricewatch/internal/obs"
	"github.com/rl1809/pricewatch/internal/port"
)

type ReconcileConfig struct {
	// WorkerCount bounds concurrent pipelines; 0 runs one per item
	WorkerCount int
	// RunTimeout is the wall-clock budget of one run; 0 means none
	RunTimeout time.Duration
}

type ReconcileService struct {
	items      port.ItemRepository
	fetcher    port.ObservationFetcher
	classifier Classifier
	dispatcher *Dispatcher
	lock       port.RunLock
	recorder   port.RunRecorder
	cfg        ReconcileConfig
	now        func() time.Time
}

func NewReconcileService(
	items port.ItemRepository,
	fetcher port.ObservationFetcher,
	classifier Classifier,
	dispatcher *Dispatcher,
	cfg ReconcileConfig,
) *ReconcileService {
	return &ReconcileService{
		items:      items,
		fetcher:    fetcher,
		classifier: classifier,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        time.Now,
	}
}

// WithRunLock makes runs mutually exclusive across processes.
func (s *ReconcileService) WithRunLock(lock port.RunLock) *ReconcileService {
	s.lock = lock
	return s
}

// WithRecorder keeps the summary of every finished run.
func (s *ReconcileService) WithRecorder(recorder port.RunRecorder) *ReconcileService {
	s.recorder = recorder
	return s
}

// Run refreshes the whole catalog once. Only a catalog load failure or a
// concurrent run is returned as an error; per-item failures are reported in
// the summary.
func (s *ReconcileService) Run(ctx context.Context) (domain.RunSummary, error) {
	runID := uuid.NewString()
	startedAt := s.now()
	failed := domain.RunSummary{RunID: runID, Status: domain.RunStatusFailed, StartedAt: startedAt}

	if s.lock != nil {
		ok, err := s.lock.Lock(ctx, runID, s.lockTTL())
		switch {
		case err != nil:
			obs.Logger.Warn("run_lock_unavailable", "run_id", runID, "error", err)
		case !ok:
			return failed, ErrRunInProgress
		default:
			defer func() {
				if err := s.lock.Unlock(context.WithoutCancel(ctx), runID); err != nil {
					obs.Logger.Error("run_lock_release_failed", "run_id", runID, "error", err)
				}
			}()
		}
	}

	catalog, err := s.items.LoadAll(ctx)
	if err != nil {
		obs.Logger.Error("catalog_load_failed", "run_id", runID, "error", err)
		failed.FinishedAt = s.now()
		return failed, fmt.Errorf("%w: %w", ErrCatalogLoad, err)
	}
	obs.Logger.Info("run_started", "run_id", runID, "items", len(catalog), "workers", s.cfg.WorkerCount)

	runCtx := ctx
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	results := s.reconcileAll(runCtx, runID, catalog)

	summary := domain.NewRunSummary(runID, startedAt, results)
	summary.FinishedAt = s.now()

	if s.recorder != nil {
		if err := s.recorder.SaveRun(context.WithoutCancel(ctx), summary); err != nil {
			obs.Logger.Warn("run_record_failed", "run_id", runID, "error", err)
		}
	}

	obs.Logger.Info("run_finished",
		"run_id", runID,
		"updated", summary.UpdatedCount,
		"failed", len(summary.Failures),
		"notified", summary.Notified,
		"dispatch_failed", len(summary.DispatchFailures),
		"duration_ms", summary.FinishedAt.Sub(startedAt).Milliseconds(),
	)
	return summary, nil
}

// LastRun returns the summary of the most recent recorded run.
func (s *ReconcileService) LastRun(ctx context.Context) (domain.RunSummary, error) {
	if s.recorder == nil {
		return domain.RunSummary{}, ErrNoRunRecorded
	}
	summary, err := s.recorder.LastRun(ctx)
	if err != nil {
		return domain.RunSummary{}, fmt.Errorf("load last run: %w", err)
	}
	if summary == nil {
		return domain.RunSummary{}, ErrNoRunRecorded
	}
	return *summary, nil
}

// RecentRuns returns up to limit recorded summaries, newest first.
func (s *ReconcileService) RecentRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if s.recorder == nil {
		return []domain.RunSummary{}, nil
	}
	runs, err := s.recorder.RecentRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("load recent runs: %w", err)
	}
	return runs, nil
}

type indexedResult struct {
	index  int
	result domain.ItemResult
}

// itemProgress is the last stage a pipeline reached. The store write and the
// step past StagePersisting happen under one lock, so a reader never sees an
// item whose update landed still marked as persisting.
type itemProgress struct {
	mu    sync.Mutex
	stage domain.Stage
}

func (p *itemProgress) set(stage domain.Stage) {
	p.mu.Lock()
	p.stage = stage
	p.mu.Unlock()
}

// get blocks while a store write is in flight.
func (p *itemProgress) get() domain.Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage
}

// commit runs write and advances to next only if it succeeds.
func (p *itemProgress) commit(write func() error, next domain.Stage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := write(); err != nil {
		return err
	}
	p.stage = next
	return nil
}

// reconcileAll runs one pipeline per item and joins them. If ctx expires
// first, pipelines still in flight are abandoned and reported from the last
// stage they reached.
func (s *ReconcileService) reconcileAll(ctx context.Context, runID string, catalog []domain.TrackedItem) []domain.ItemResult {
	results := make([]domain.ItemResult, len(catalog))
	progress := make([]itemProgress, len(catalog))
	for i := range progress {
		progress[i].stage = domain.StageFetching
	}

	out := make(chan indexedResult, len(catalog))
	go func() {
		var g errgroup.Group
		if s.cfg.WorkerCount > 0 {
			g.SetLimit(s.cfg.WorkerCount)
		}
		for i := range catalog {
			g.Go(func() error {
				out <- indexedResult{index: i, result: s.reconcileItem(ctx, runID, catalog[i], &progress[i])}
				return nil
			})
		}
		_ = g.Wait()
	}()

	received := make([]bool, len(catalog))
	pending := len(catalog)
collect:
	for pending > 0 {
		select {
		case r := <-out:
			results[r.index] = r.result
			received[r.index] = true
			pending--
		case <-ctx.Done():
			break collect
		}
	}

	if pending > 0 {
	drain:
		for pending > 0 {
			select {
			case r := <-out:
				results[r.index] = r.result
				received[r.index] = true
				pending--
			default:
				break drain
			}
		}
		for i := range catalog {
			if received[i] {
				continue
			}
			stage := progress[i].get()
			results[i] = abandonedResult(catalog[i].Identity, stage, ctx.Err())
			obs.Logger.Warn("item_abandoned", "run_id", runID, "identity", catalog[i].Identity, "stage", stage)
		}
	}

	return results
}

// abandonedResult reports an item cut off by the run budget. Once the store
// write has completed the update stands and only the notification is lost.
func abandonedResult(identity string, stage domain.Stage, cause error) domain.ItemResult {
	err := fmt.Errorf("%w: %w", ErrAbandoned, cause)
	switch stage {
	case domain.StageClassifying, domain.StageDispatching, domain.StageDone:
		return domain.ItemResult{
			Identity:    identity,
			Stage:       domain.StageDone,
			Delivery:    domain.DeliverySkipped,
			DispatchErr: err,
		}
	default:
		return domain.ItemResult{
			Identity: identity,
			Stage:    domain.StageFailed,
			FailedAt: stage,
			Err:      err,
		}
	}
}

// reconcileItem runs fetch, merge, persist, classify and dispatch for one
// item. Stages are strictly sequential; prior is never modified.
func (s *ReconcileService) reconcileItem(ctx context.Context, runID string, prior domain.TrackedItem, progress *itemProgress) domain.ItemResult {
	res := domain.ItemResult{Identity: prior.Identity}
	fail := func(stage domain.Stage, err error) domain.ItemResult {
		res.Stage = domain.StageFailed
		res.FailedAt = stage
		res.Err = err
		obs.Logger.Warn("item_failed", "run_id", runID, "identity", prior.Identity, "stage", stage, "error", err)
		return res
	}

	progress.set(domain.StageFetching)
	if err := ctx.Err(); err != nil {
		return fail(domain.StageFetching, fmt.Errorf("%w: %w", ErrAbandoned, err))
	}
	fresh, err := s.fetcher.Fetch(ctx, prior.Identity)
	if err != nil {
		return fail(domain.StageFetching, fmt.Errorf("%w: %w", ErrFetch, err))
	}
	if err := fresh.Validate(); err != nil {
		return fail(domain.StageFetching, fmt.Errorf("%w: %w", ErrFetch, err))
	}
	if fresh.ObservedAt.IsZero() {
		fresh.ObservedAt = s.now()
	}

	progress.set(domain.StageMerging)
	next, aggs, err := MergeObservation(prior, fresh)
	if err != nil {
		return fail(domain.StageMerging, err)
	}

	progress.set(domain.StagePersisting)
	upsert := func() error {
		// Checked under the progress lock: once the budget is gone and the
		// item has been reported, nothing is written.
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrAbandoned, err)
		}
		if err := s.items.Upsert(ctx, prior.Identity, next); err != nil {
			return fmt.Errorf("%w: %w", ErrPersist, err)
		}
		return nil
	}
	if err := progress.commit(upsert, domain.StageClassifying); err != nil {
		return fail(domain.StagePersisting, err)
	}
	obs.Logger.Debug("item_updated", "run_id", runID, "identity", prior.Identity, "price", fresh.CurrentPrice.String())

	event := s.classifier.Classify(prior, fresh, aggs)
	res.Event = event

	progress.set(domain.StageDispatching)
	delivery, err := s.dispatcher.Dispatch(ctx, event, prior.Recipients())
	res.Delivery = delivery
	if err != nil {
		res.DispatchErr = err
		obs.Logger.Warn("item_dispatch_failed", "run_id", runID, "identity", prior.Identity, "error", err)
	}

	progress.set(domain.StageDone)
	res.Stage = domain.StageDone
	return res
}

// MergeObservation appends fresh to a copy of prior's history and returns
// the updated item together with its recomputed aggregates.
func MergeObservation(prior domain.TrackedItem, fresh domain.ObservedSnapshot) (domain.TrackedItem, domain.Aggregates, error) {
	history := make([]domain.PriceObservation, len(prior.PriceHistory), len(prior.PriceHistory)+1)
	copy(history, prior.PriceHistory)
	history = append(history, domain.PriceObservation{Price: fresh.CurrentPrice, ObservedAt: fresh.ObservedAt})

	aggs, err := ComputeAggregates(history)
	if err != nil {
		return domain.TrackedItem{}, domain.Aggregates{}, err
	}

	next := prior
	if fresh.Title != "" {
		next.Title = fresh.Title
	}
	next.CurrentPrice = fresh.CurrentPrice
	next.Availability = fresh.Availability
	next.PriceHistory = history
	next.LowestPrice = aggs.Lowest
	next.HighestPrice = aggs.Highest
	next.AveragePrice = aggs.Average
	next.UpdatedAt = fresh.ObservedAt
	return next, aggs, nil
}

func (s *ReconcileService) lockTTL() time.Duration {
	if s.cfg.RunTimeout > 0 {
		return s.cfg.RunTimeout + 30*time.Second
	}
	return 10 * time.Minute
}
