package services

import (
	"context"
	"log"
	"sync"
	"time"
)

// Scheduler drives the live-fetch and settlement loops on fixed
// intervals. Loops are not mutually exclusive; overlap is safe because
// every ticket transition is a compare-and-swap. An in-flight pass is
// never cancelled; Stop only prevents further ticks.
type Scheduler struct {
	live           func(ctx context.Context) (int, error)
	settle         func(ctx context.Context) (int, error)
	liveInterval   time.Duration
	settleInterval time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewScheduler(live, settle func(ctx context.Context) (int, error), liveInterval, settleInterval time.Duration) *Scheduler {
	return &Scheduler{
		live:           live,
		settle:         settle,
		liveInterval:   liveInterval,
		settleInterval: settleInterval,
		stop:           make(chan struct{}),
	}
}

// Start runs one eager pass of each loop, then ticks on the configured
// intervals until Stop.
func (s *Scheduler) Start() {
	s.loop("live fetch", s.liveInterval, s.live)
	s.loop("settlement", s.settleInterval, s.settle)
}

func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) loop(name string, interval time.Duration, fn func(ctx context.Context) (int, error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// Eager first pass at process start.
		s.runOnce(name, fn)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.runOnce(name, fn)
			}
		}
	}()
}

func (s *Scheduler) runOnce(name string, fn func(ctx context.Context) (int, error)) {
	if _, err := fn(context.Background()); err != nil {
		log.Printf("Scheduled %s pass failed: %v", name, err)
	}
}
