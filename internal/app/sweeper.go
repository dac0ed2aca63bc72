package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper owns the background maintenance tasks (room cleanup, key
// rotation, idle annotation sessions). Tasks are registered once at
// wiring time and run on independent tickers bound to the process
// context; tests drive them deterministically through Tick.
type Sweeper struct {
	mu    sync.Mutex
	tasks map[string]*sweepTask
}

type sweepTask struct {
	name     string
	interval time.Duration
	run      func(now time.Time)
}

func NewSweeper() *Sweeper {
	return &Sweeper{tasks: make(map[string]*sweepTask)}
}

func (s *Sweeper) Register(name string, interval time.Duration, run func(now time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[name] = &sweepTask{name: name, interval: interval, run: run}
}

// Run starts one goroutine per task and blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.mu.Lock()
	tasks := make([]*sweepTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t *sweepTask) {
			defer wg.Done()
			ticker := time.NewTicker(t.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					t.safeRun(now)
				}
			}
		}(t)
	}
	wg.Wait()
}

// Tick runs one registered task immediately with the given clock.
func (s *Sweeper) Tick(name string, now time.Time) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown sweep task %q", name)
	}
	t.safeRun(now)
	return nil
}

// safeRun isolates a panicking task run; the next tick retries.
func (t *sweepTask) safeRun(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "app.sweeper").Str("task", t.name).Any("panic", r).Msg("sweep task panicked")
		}
	}()
	t.run(now)
}
