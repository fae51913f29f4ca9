// Package scheduler owns per-tenant cycle timing: it decides which
// configs are due on each tick and dispatches their cycles onto a
// bounded worker pool.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"feedbot/internal/backoff"
	"feedbot/internal/model"
)

// Runner executes one delivery cycle for a config.
type Runner interface {
	RunCycle(ctx context.Context, cfg *model.FeedConfig) error
}

// ConfigSource lists the enabled tenant feed configs.
type ConfigSource interface {
	ListEnabledConfigs(ctx context.Context, feature model.Feature) ([]model.FeedConfig, error)
}

// SourceStatuser reports per-source backoff state for one tenant.
type SourceStatuser interface {
	SourceStatus(tenantID string) map[string]backoff.Status
}

// Status is one config's operational snapshot for the dashboard.
type Status struct {
	ConfigID       int64
	TenantID       string
	Feature        model.Feature
	NextEligibleAt time.Time
	InFlight       bool
	LastRunAt      time.Time
	LastError      string
	Sources        map[string]backoff.Status
}

// state is the in-memory schedule for one config. It is rebuilt from
// zero on restart; the delivery ledger bounds the damage of the one
// redundant cycle that can cause.
type state struct {
	nextEligibleAt time.Time
	inFlight       bool
	lastRunAt      time.Time
	lastError      string
}

// Scheduler drives the tick loop.
type Scheduler struct {
	store    ConfigSource
	runner   Runner
	statuser SourceStatuser
	log      *slog.Logger

	tick     time.Duration
	cacheTTL time.Duration
	sem      *semaphore.Weighted
	now      func() time.Time

	mu       sync.Mutex
	states   map[int64]*state
	cached   []model.FeedConfig
	cachedAt time.Time

	wg sync.WaitGroup
}

// New creates a Scheduler dispatching onto a pool of workers.
func New(store ConfigSource, runner Runner, statuser SourceStatuser, workers int, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		runner:   runner,
		statuser: statuser,
		log:      log,
		tick:     15 * time.Second,
		cacheTTL: time.Minute,
		sem:      semaphore.NewWeighted(int64(workers)),
		now:      time.Now,
		states:   make(map[int64]*state),
	}
}

// SetTickInterval overrides the default 15-second tick.
func (s *Scheduler) SetTickInterval(d time.Duration) { s.tick = d }

// SetConfigCacheTTL overrides how long the config list is cached.
func (s *Scheduler) SetConfigCacheTTL(d time.Duration) { s.cacheTTL = d }

// Run starts the tick loop and blocks until ctx is cancelled, then
// waits for in-flight cycles to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.checkAll(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.checkAll(ctx)
		}
	}
}

// checkAll dispatches every due config. Eligibility, the in-flight
// mark and the next-eligible computation all happen here, on the tick
// goroutine, so a later tick can never double-dispatch a config whose
// cycle is still running.
func (s *Scheduler) checkAll(ctx context.Context) {
	configs, err := s.configs(ctx)
	if err != nil {
		s.log.Error("list enabled configs", "error", err)
		return
	}

	now := s.now().UTC()

	s.mu.Lock()
	var due []model.FeedConfig
	for _, cfg := range configs {
		st, ok := s.states[cfg.ID]
		if !ok {
			st = &state{}
			s.states[cfg.ID] = st
		}
		if st.inFlight || now.Before(st.nextEligibleAt) {
			continue
		}
		st.inFlight = true
		st.nextEligibleAt = now.Add(time.Duration(cfg.PollIntervalSeconds) * time.Second)
		due = append(due, cfg)
	}
	s.mu.Unlock()

	for _, cfg := range due {
		s.dispatch(ctx, cfg)
	}
}

// dispatch runs one cycle on the worker pool. The pool bounds how many
// cycles run at once; the in-flight flag alone prevents duplicates.
func (s *Scheduler) dispatch(ctx context.Context, cfg model.FeedConfig) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.complete(cfg.ID, s.now().UTC(), "")
			return
		}
		defer s.sem.Release(1)

		err := s.runner.RunCycle(ctx, &cfg)
		var lastErr string
		if err != nil {
			lastErr = err.Error()
			s.log.Error("run cycle", "tenant_id", cfg.TenantID, "feature", cfg.Feature, "error", err)
		}
		s.complete(cfg.ID, s.now().UTC(), lastErr)
	}()
}

// complete clears the in-flight flag regardless of the cycle outcome.
func (s *Scheduler) complete(configID int64, ranAt time.Time, lastErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[configID]
	if !ok {
		return
	}
	st.inFlight = false
	st.lastRunAt = ranAt
	st.lastError = lastErr
}

// configs returns the enabled configs through a short-lived cache, so
// the configuration store is not hit on every tick.
func (s *Scheduler) configs(ctx context.Context) ([]model.FeedConfig, error) {
	s.mu.Lock()
	if s.cached != nil && s.now().Sub(s.cachedAt) < s.cacheTTL {
		cached := s.cached
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	configs, err := s.store.ListEnabledConfigs(ctx, "")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cached = configs
	s.cachedAt = s.now()
	s.mu.Unlock()
	return configs, nil
}

// Snapshot returns the operational state of every known config, for
// display by the dashboard collaborator.
func (s *Scheduler) Snapshot() []Status {
	s.mu.Lock()
	cached := s.cached
	statuses := make([]Status, 0, len(cached))
	for _, cfg := range cached {
		st, ok := s.states[cfg.ID]
		if !ok {
			st = &state{}
		}
		statuses = append(statuses, Status{
			ConfigID:       cfg.ID,
			TenantID:       cfg.TenantID,
			Feature:        cfg.Feature,
			NextEligibleAt: st.nextEligibleAt,
			InFlight:       st.inFlight,
			LastRunAt:      st.lastRunAt,
			LastError:      st.lastError,
		})
	}
	s.mu.Unlock()

	if s.statuser != nil {
		for i := range statuses {
			statuses[i].Sources = s.statuser.SourceStatus(statuses[i].TenantID)
		}
	}
	return statuses
}
