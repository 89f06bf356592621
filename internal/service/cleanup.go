package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/iliyamo/unpacker/internal/logging"
	"github.com/iliyamo/unpacker/internal/queue"
)

// DefaultSweepInterval is used when no interval is configured.
const DefaultSweepInterval = 60 * time.Second

// ReapNotifier is told about every sweep that removed something.
type ReapNotifier interface {
	PublishArtifactsReaped(ctx context.Context, ev queue.ArtifactsReapedEvent) error
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Reaped   []string      `json:"reaped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"-"`
}

// Sweeper periodically reaps expired registry entries and deletes their
// paths, files or directories alike.  A path that is already gone counts
// as deleted.
type Sweeper struct {
	registry *Registry
	fs       afero.Fs
	interval time.Duration
	notify   ReapNotifier
	now      func() time.Time
	log      *logging.Logger

	mu     sync.Mutex // serialises RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(registry *Registry, fs afero.Fs, interval time.Duration, notify ReapNotifier, logger *logging.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = logging.NewTestLogger()
	}
	return &Sweeper{
		registry: registry,
		fs:       fs,
		interval: interval,
		notify:   notify,
		now:      registry.now,
		log:      logger.With("component", "sweeper"),
	}
}

// Start launches the background loop.  The first sweep runs immediately.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
	s.log.Info("sweeper started", "interval", s.interval)
}

// Stop ends the loop and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.log.Info("sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	now := s.now().UTC()
	res := SweepResult{Reaped: []string{}}
	for _, path := range s.registry.ListAndReapExpired(ctx, now) {
		if err := s.fs.RemoveAll(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			// the record is already gone; the orphan is logged and left
			s.log.Error("remove expired path", "path", path, "err", err)
			sweepErrors.Inc()
			res.Failed++
			continue
		}
		res.Reaped = append(res.Reaped, path)
	}
	res.Duration = time.Since(start)
	reapedPaths.Add(float64(len(res.Reaped)))

	if len(res.Reaped) > 0 || res.Failed > 0 {
		s.log.Info("sweep finished", "removed", len(res.Reaped), "failed", res.Failed, "duration", res.Duration)
		if s.notify != nil {
			_ = s.notify.PublishArtifactsReaped(ctx, queue.ArtifactsReapedEvent{
				Paths:    res.Reaped,
				Failed:   res.Failed,
				ReapedAt: now.Format(time.RFC3339),
			})
		}
	}
	return res
}
