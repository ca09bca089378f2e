package application

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/davarch/ci-reconciler/internal/domain"
	"go.uber.org/zap"
)

type Runner interface {
	RunOnce(ctx context.Context) (domain.Report, error)
}

type Scheduler struct {
	log       *zap.Logger
	every     time.Duration
	pauseFile string

	mu  sync.RWMutex
	use Runner
}

func NewScheduler(l *zap.Logger, u Runner, every time.Duration, pauseFile string) *Scheduler {
	return &Scheduler{
		log: l, use: u, every: every, pauseFile: pauseFile,
	}
}

// Update swaps the use case; the pass in flight, if any, finishes with the old one.
func (s *Scheduler) Update(u Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.use = u
	s.log.Info("config reloaded")
}

func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.every)
	defer t.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.isPaused() {
		s.log.Debug("paused: skipping run")
		return
	}

	s.mu.RLock()
	use := s.use
	s.mu.RUnlock()

	r, err := use.RunOnce(ctx)
	if err != nil {
		s.log.Warn("run failed", zap.String("run", r.RunID), zap.Error(err))
		return
	}
	s.log.Info("run finished",
		zap.String("run", r.RunID),
		zap.Int("outcomes", len(r.Outcomes)),
		zap.Duration("took", r.Finished.Sub(r.Started)),
	)
}

func (s *Scheduler) isPaused() bool {
	return IsPaused(s.pauseFile)
}

func IsPaused(pauseFile string) bool {
	if pauseFile == "" {
		return false
	}
	_, err := os.Stat(pauseFile)
	return err == nil
}
