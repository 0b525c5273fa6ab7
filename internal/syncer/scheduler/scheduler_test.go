package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeEngine struct {
	online  atomic.Bool
	pending atomic.Int32
	syncs   atomic.Int32
}

func (f *fakeEngine) SyncAll(ctx context.Context) (int, error) {
	f.syncs.Add(1)
	n := int(f.pending.Load())
	f.pending.Store(0)
	return n, nil
}

func (f *fakeEngine) PendingCount() (int, error) { return int(f.pending.Load()), nil }
func (f *fakeEngine) Online() bool               { return f.online.Load() }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestScheduler_DrainsPendingRecords(t *testing.T) {
	engine := &fakeEngine{}
	engine.online.Store(true)
	engine.pending.Store(3)

	s := New(engine, &Config{Interval: 20 * time.Millisecond}, zap.NewNop())
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, func() bool { return engine.syncs.Load() >= 1 })
	assert.Equal(t, int32(0), engine.pending.Load())
}

func TestScheduler_SkipsWhileOffline(t *testing.T) {
	engine := &fakeEngine{}
	engine.pending.Store(3)

	s := New(engine, &Config{Interval: 10 * time.Millisecond}, zap.NewNop())
	s.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(0), engine.syncs.Load())
	assert.Equal(t, int32(3), engine.pending.Load())
}

func TestScheduler_SkipsWhenNothingPending(t *testing.T) {
	engine := &fakeEngine{}
	engine.online.Store(true)

	s := New(engine, &Config{Interval: 10 * time.Millisecond}, zap.NewNop())
	s.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(0), engine.syncs.Load())
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	engine := &fakeEngine{}
	s := New(engine, nil, zap.NewNop())

	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}
