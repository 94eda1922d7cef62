package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unitroute/unitroute/internal/logger"
)

type countingTrigger struct {
	n atomic.Int32
}

func (c *countingTrigger) Resync() { c.n.Add(1) }

func TestResyncerFiresPeriodically(t *testing.T) {
	trig := &countingTrigger{}
	r := NewResyncer(trig, logger.NewNop(), 10*time.Millisecond)

	r.Start(context.Background())
	defer r.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if trig.n.Load() >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("resyncs = %d, want at least 2", trig.n.Load())
}

func TestResyncerStop(t *testing.T) {
	trig := &countingTrigger{}
	r := NewResyncer(trig, logger.NewNop(), 10*time.Millisecond)

	r.Start(context.Background())
	r.Stop()
	time.Sleep(30 * time.Millisecond)

	before := trig.n.Load()
	time.Sleep(50 * time.Millisecond)
	if after := trig.n.Load(); after != before {
		t.Errorf("resyncs continued after Stop: %d -> %d", before, after)
	}
}

func TestResyncerDisabled(t *testing.T) {
	trig := &countingTrigger{}
	r := NewResyncer(trig, logger.NewNop(), 0)

	r.Start(context.Background())
	defer r.Stop()
	time.Sleep(30 * time.Millisecond)

	if n := trig.n.Load(); n != 0 {
		t.Errorf("resyncs = %d, want none when disabled", n)
	}
}

func TestResyncerHonorsContext(t *testing.T) {
	trig := &countingTrigger{}
	r := NewResyncer(trig, logger.NewNop(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()
	time.Sleep(30 * time.Millisecond)

	before := trig.n.Load()
	time.Sleep(50 * time.Millisecond)
	if after := trig.n.Load(); after != before {
		t.Errorf("resyncs continued after context cancel: %d -> %d", before, after)
	}
}
