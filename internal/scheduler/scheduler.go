package scheduler

import (
	"sync"
	"time"

	"sublingo/internal/logger"
	"sublingo/internal/service"
)

// Scheduler periodically persists the session store when it has unsaved
// changes.
type Scheduler struct {
	sessions *service.SessionService
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(sessions *service.SessionService, interval time.Duration) *Scheduler {
	return &Scheduler{
		sessions: sessions,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	logger.Info("scheduler started", "module", "scheduler", "action", "autosave", "resource", "session", "result", "ok", "interval_ms", s.interval.Milliseconds())
}

// Stop halts the ticker and performs one final save so no mutation is
// lost across shutdown.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.sessions.Save()
	logger.Info("scheduler stopped", "module", "scheduler", "action", "autosave", "resource", "session", "result", "ok")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sessions.SaveIfDirty()
		case <-s.stopCh:
			return
		}
	}
}
