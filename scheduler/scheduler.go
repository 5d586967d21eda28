// Package scheduler triggers periodic background work: fleet polling,
// voucher cleanup and pending payment checks.
package scheduler

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/worker/v4"
	"gopkg.in/tomb.v2"

	"go-hotspot/log"
)

type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs each task on its own ticker. A failing task is logged and
// runs again at its next tick.
type Scheduler struct {
	tomb   tomb.Tomb
	clock  clock.Clock
	logger *log.Logger
}

var _ worker.Worker = (*Scheduler)(nil)

// New starts a scheduler for tasks. Tasks with a non-positive interval are
// skipped.
func New(clk clock.Clock, logger *log.Logger, tasks ...Task) *Scheduler {
	s := &Scheduler{clock: clk, logger: logger.Named("scheduler")}
	started := 0
	for _, task := range tasks {
		if task.Interval <= 0 {
			s.logger.Warnw("task disabled", "task", task.Name)
			continue
		}
		t := task
		s.tomb.Go(func() error { return s.loop(t) })
		started++
	}
	if started == 0 {
		s.tomb.Go(func() error {
			<-s.tomb.Dying()
			return nil
		})
	}
	return s
}

func (s *Scheduler) Kill() {
	s.tomb.Kill(nil)
}

func (s *Scheduler) Wait() error {
	return s.tomb.Wait()
}

func (s *Scheduler) loop(t Task) error {
	ctx := s.tomb.Context(context.Background())
	for {
		select {
		case <-s.tomb.Dying():
			return nil
		case <-s.clock.After(t.Interval):
		}
		s.run(ctx, t)
	}
}

func (s *Scheduler) run(ctx context.Context, t Task) {
	start := s.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("task panicked", "task", t.Name, "panic", r)
		}
	}()
	if err := t.Run(ctx); err != nil {
		s.logger.Errorw("task failed", "task", t.Name, "err", err)
		return
	}
	s.logger.Debugw("task finished", "task", t.Name, "took", s.clock.Now().Sub(start))
}
