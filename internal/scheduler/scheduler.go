// Package scheduler drives the polling loop: on a fixed tick it decides
// which monitored accounts get a fetch this cycle, subject to the shared
// rate budget, and fans the resulting work out to a bounded worker pool.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/feedhawk/signalscout/internal/budget"
	"github.com/feedhawk/signalscout/internal/logger"
	"github.com/feedhawk/signalscout/internal/models"
	"github.com/feedhawk/signalscout/internal/pipeline"
	"github.com/feedhawk/signalscout/internal/registry"
)

// Fetcher pulls new content for one account since its cursor. It returns the
// items oldest first along with the cursor representing the newest item; an
// empty newCursor means the stored cursor should stand.
type Fetcher interface {
	FetchNewContent(ctx context.Context, acct models.Account) (items []models.ContentItem, newCursor string, err error)
}

// Analyzer scores one content item. ok=false means the item carries no
// tradable information and is dropped without a rejection record.
type Analyzer interface {
	Analyze(ctx context.Context, item models.ContentItem) (res models.AnalysisResult, ok bool, err error)
}

// Config holds the scheduler's timing and sizing knobs.
type Config struct {
	TickInterval    time.Duration
	PerFetchCost    int
	Workers         int
	FetchTimeout    time.Duration
	AnalysisTimeout time.Duration
}

type task struct {
	acct models.Account
}

// Scheduler owns the tick loop and the worker pool.
type Scheduler struct {
	cfg      Config
	budget   *budget.Tracker
	registry *registry.Registry
	fetcher  Fetcher
	analyzer Analyzer
	pipe     *pipeline.Pipeline

	mu       sync.Mutex
	rotation int

	tasks  chan task
	wg     sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}
	now    func() time.Time
}

// New assembles a scheduler. Workers below 1 is treated as 1.
func New(cfg Config, b *budget.Tracker, reg *registry.Registry, f Fetcher, a Analyzer, p *pipeline.Pipeline) *Scheduler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Scheduler{
		cfg:      cfg,
		budget:   b,
		registry: reg,
		fetcher:  f,
		analyzer: a,
		pipe:     p,
		tasks:    make(chan task, cfg.Workers),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the worker pool and the tick loop. It returns immediately;
// use Stop to shut down.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	go s.run(ctx)
	logger.Info("Scheduler started: tick=%s workers=%d per_fetch_cost=%d", s.cfg.TickInterval, s.cfg.Workers, s.cfg.PerFetchCost)
}

// Stop cancels the tick loop and waits for in-flight workers to drain.
// Tasks already dispatched run to completion. Stop without a prior Start is
// a no-op.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	close(s.tasks)
	s.wg.Wait()
	logger.Info("Scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick admits as many accounts as the budget allows and dispatches one fetch
// task per admitted account. Dispatch blocks when all workers are busy, so a
// tick that is still handing out work delays the next tick instead of
// overlapping with it.
func (s *Scheduler) tick(ctx context.Context) {
	admitted := s.planTick(s.now())
	for _, acct := range admitted {
		select {
		case <-ctx.Done():
			return
		case s.tasks <- task{acct: acct}:
		}
	}
}

// planTick applies the round-robin admission policy and returns the accounts
// to fetch this tick, in dispatch order. It holds the rotation lock for the
// whole decision so concurrent budget consumers see a consistent rotation.
//
// The rotation pointer walks the enabled-account list. Each admitted account
// moves the pointer past it. The first budget refusal parks the pointer on
// the refused account and ends the tick, so that account goes first once
// budget returns. Accounts in backoff are passed over without consuming
// budget or holding the rotation.
func (s *Scheduler) planTick(at time.Time) []models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts := s.registry.ListEnabled()
	if len(accounts) == 0 {
		return nil
	}
	if s.rotation >= len(accounts) {
		s.rotation = 0
	}

	var admitted []models.Account
	for i := 0; i < len(accounts); i++ {
		idx := (s.rotation + i) % len(accounts)
		acct := accounts[idx]
		if !s.registry.Eligible(acct.ID, at) {
			continue
		}
		if !s.budget.TryConsume(s.cfg.PerFetchCost) {
			s.rotation = idx
			return admitted
		}
		admitted = append(admitted, acct)
	}
	if len(admitted) > 0 {
		last := admitted[len(admitted)-1]
		for idx, acct := range accounts {
			if acct.ID == last.ID {
				s.rotation = (idx + 1) % len(accounts)
				break
			}
		}
	}
	return admitted
}

// worker consumes tasks until the channel closes. Tasks run against fresh
// per-call timeout contexts rather than the loop context, so shutdown lets
// dispatched work finish instead of cutting it off mid-fetch.
func (s *Scheduler) worker() {
	defer s.wg.Done()
	for t := range s.tasks {
		s.runTask(t.acct)
	}
}

// runTask performs one fetch and pushes every new item through analysis and
// validation. Failures are isolated to this account and logged; the cursor
// only advances after a successful fetch, so failed content is retried on
// the account's next eligible tick.
func (s *Scheduler) runTask(acct models.Account) {
	fctx, cancel := context.WithTimeout(context.Background(), s.cfg.FetchTimeout)
	items, newCursor, err := s.fetcher.FetchNewContent(fctx, acct)
	cancel()
	if err != nil {
		if errors.Is(err, models.ErrRateLimited) {
			delay := s.registry.ApplyBackoff(acct.ID)
			logger.Warn("Upstream rate limit for @%s, backing off %s", acct.Handle, delay)
			return
		}
		logger.Error("Fetch failed for @%s: %v", acct.Handle, err)
		return
	}
	s.registry.ResetBackoff(acct.ID)

	if newCursor != "" && newCursor != acct.Cursor {
		if err := s.registry.AdvanceCursor(acct.ID, newCursor); err != nil {
			logger.Warn("Cursor not advanced for @%s: %v", acct.Handle, err)
		}
	}
	if len(items) == 0 {
		return
	}
	logger.Debug("Fetched %d new items for @%s", len(items), acct.Handle)

	for _, item := range items {
		s.processItem(acct, item)
	}
}

func (s *Scheduler) processItem(acct models.Account, item models.ContentItem) {
	actx, cancel := context.WithTimeout(context.Background(), s.cfg.AnalysisTimeout)
	res, ok, err := s.analyzer.Analyze(actx, item)
	cancel()
	if err != nil {
		logger.Error("Analysis failed for content %s (@%s): %v", item.ID, acct.Handle, err)
		return
	}
	if !ok {
		logger.Debug("No tradable content in %s (@%s)", item.ID, acct.Handle)
		return
	}

	if _, _, err := s.pipe.Process(context.Background(), res); err != nil {
		logger.Error("Validation failed for content %s: %v", item.ID, err)
	}
}
