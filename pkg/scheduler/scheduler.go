// Package scheduler runs the periodic reload loop: a single ticker
// goroutine that, on each tick, finds every table past its refresh
// period and drives the loader for it, opening the database adapter
// connection once per burst and closing it afterward.
package scheduler

import (
	"context"
	"time"

	"github.com/cachegrid/rowcache/pkg/loader"
	"github.com/cachegrid/rowcache/pkg/log"
	"github.com/cachegrid/rowcache/pkg/source"
	"github.com/cachegrid/rowcache/pkg/table"
	"github.com/rs/zerolog"
)

// TableJob pairs a table with the loader options needed to reload it.
type TableJob struct {
	Table   *table.Table
	Options loader.Options
}

// Scheduler drives reloads for a fixed set of tables against a shared
// database adapter. It runs on its own OS-level goroutine and never
// touches connection state.
type Scheduler struct {
	jobs    []TableJob
	adapter source.DatabaseAdapter
	logger  zerolog.Logger
	tick    time.Duration
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New builds a scheduler for the given jobs, ticking at the given
// period (the spec's default is 5s; callers may use
// config.DefaultRefreshPeriod).
func New(jobs []TableJob, adapter source.DatabaseAdapter, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = 5 * time.Second
	}
	return &Scheduler{
		jobs:    jobs,
		adapter: adapter,
		logger:  log.WithComponent("scheduler"),
		tick:    tick,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the scheduler loop in its own goroutine.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop signals the scheduler to finish its in-flight reload burst and
// exit before the next tick, then blocks until it has drained.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runBurst()
		case <-s.stopCh:
			return
		}
	}
}

// runBurst enumerates tables needing reload; if any do, it opens the
// adapter connection once, reloads each flagged table in turn, then
// closes the connection. Open/close per burst amortizes connection
// cost while avoiding a long-held idle connection.
func (s *Scheduler) runBurst() {
	now := time.Now().Unix()
	var due []TableJob
	for _, job := range s.jobs {
		stats := job.Table.Stats()
		if now-stats.LastLoadedEpoch >= int64(job.Table.RefreshPeriod.Seconds()) {
			due = append(due, job)
		}
	}
	if len(due) == 0 {
		return
	}

	ctx := context.Background()
	if err := s.adapter.Connect(ctx); err != nil {
		s.logger.Error().Err(err).Msg("adapter connect failed, skipping this burst")
		return
	}
	defer func() {
		if err := s.adapter.Disconnect(ctx); err != nil {
			s.logger.Error().Err(err).Msg("adapter disconnect failed")
		}
	}()

	for _, job := range due {
		if err := loader.Reload(ctx, job.Table, s.adapter, job.Options); err != nil {
			s.logger.Error().Err(err).Str("table", job.Table.Name).Msg("reload failed, will retry next tick")
			continue
		}
	}
}
