package services_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sportsbook-settlement-backend/internal/services"
)

func TestScheduler_EagerAndPeriodicRuns(t *testing.T) {
	var liveRuns, settleRuns int32

	live := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&liveRuns, 1)
		return 0, nil
	}
	settle := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&settleRuns, 1)
		return 0, nil
	}

	s := services.NewScheduler(live, settle, 20*time.Millisecond, 20*time.Millisecond)
	s.Start()

	time.Sleep(90 * time.Millisecond)
	s.Stop()

	// One eager run plus at least two ticks each.
	assert.GreaterOrEqual(t, atomic.LoadInt32(&liveRuns), int32(3))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&settleRuns), int32(3))
}

func TestScheduler_StopHaltsTicks(t *testing.T) {
	var runs int32
	fn := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&runs, 1)
		return 0, nil
	}

	s := services.NewScheduler(fn, fn, 10*time.Millisecond, 10*time.Millisecond)
	s.Start()
	time.Sleep(35 * time.Millisecond)
	s.Stop()

	after := atomic.LoadInt32(&runs)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&runs), "no runs after Stop")
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	fn := func(ctx context.Context) (int, error) { return 0, nil }

	s := services.NewScheduler(fn, fn, time.Hour, time.Hour)
	s.Start()
	s.Stop()
	s.Stop()
}
