package sysbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unitroute/unitroute/internal/domain"
	"github.com/unitroute/unitroute/internal/logger"
)

type fakeLister struct {
	units []listedUnit
	err   error
}

func (f *fakeLister) listUnits(context.Context) ([]listedUnit, error) {
	return f.units, f.err
}

func drainEvents(c *Connector) []domain.Event {
	var evs []domain.Event
	for {
		select {
		case ev := <-c.events:
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func eventKinds(evs []domain.Event) map[string]domain.EventKind {
	m := make(map[string]domain.EventKind, len(evs))
	for _, ev := range evs {
		m[ev.Unit] = ev.Kind
	}
	return m
}

func newTestConnector(fl *fakeLister) *Connector {
	c := New(Options{CallTimeout: time.Second}, logger.NewNop())
	c.lister = fl
	return c
}

func TestEnumerateEmitsChangesForListedServices(t *testing.T) {
	c := newTestConnector(&fakeLister{units: []listedUnit{
		{Name: "stay.service"},
		{Name: "gone.service"},
		{Name: "tmp.mount"},
	}})

	if err := c.enumerate(context.Background()); err != nil {
		t.Fatalf("enumerate() error = %v", err)
	}

	evs := drainEvents(c)
	if len(evs) != 2 {
		t.Fatalf("events = %v, want 2 (mount unit filtered)", evs)
	}
	for _, ev := range evs {
		if ev.Kind != domain.UnitChanged {
			t.Errorf("event = %+v, want a synthetic change", ev)
		}
	}
}

func TestEnumerateEmitsRemovalsForVanishedUnits(t *testing.T) {
	fl := &fakeLister{units: []listedUnit{
		{Name: "stay.service"},
		{Name: "gone.service"},
	}}
	c := newTestConnector(fl)
	ctx := context.Background()

	if err := c.enumerate(ctx); err != nil {
		t.Fatalf("enumerate() error = %v", err)
	}
	drainEvents(c)

	// gone.service disappeared while the bus was down, so its
	// UnitRemoved signal was never delivered.
	fl.units = []listedUnit{{Name: "stay.service"}}
	if err := c.enumerate(ctx); err != nil {
		t.Fatalf("enumerate() error = %v", err)
	}

	got := eventKinds(drainEvents(c))
	if got["stay.service"] != domain.UnitChanged {
		t.Errorf("stay.service event = %v, want changed", got["stay.service"])
	}
	kind, ok := got["gone.service"]
	if !ok || kind != domain.UnitRemoved {
		t.Errorf("gone.service event = %v (present=%v), want removed", kind, ok)
	}

	// The unit is forgotten once its removal is emitted; no repeat on
	// the next pass.
	if err := c.enumerate(ctx); err != nil {
		t.Fatalf("enumerate() error = %v", err)
	}
	for _, ev := range drainEvents(c) {
		if ev.Kind == domain.UnitRemoved {
			t.Errorf("removal emitted twice: %+v", ev)
		}
	}
}

func TestEnumerateFailureKeepsKnownSet(t *testing.T) {
	fl := &fakeLister{units: []listedUnit{{Name: "gone.service"}}}
	c := newTestConnector(fl)
	ctx := context.Background()

	if err := c.enumerate(ctx); err != nil {
		t.Fatalf("enumerate() error = %v", err)
	}
	drainEvents(c)

	fl.err = errors.New("bus gone")
	if err := c.enumerate(ctx); err == nil {
		t.Fatal("enumerate() = nil, want error")
	}
	if len(drainEvents(c)) != 0 {
		t.Fatal("failed enumeration emitted events")
	}

	// The unit vanished across the outage; the first successful pass
	// must still notice.
	fl.err = nil
	fl.units = nil
	if err := c.enumerate(ctx); err != nil {
		t.Fatalf("enumerate() error = %v", err)
	}
	got := eventKinds(drainEvents(c))
	kind, ok := got["gone.service"]
	if !ok || kind != domain.UnitRemoved {
		t.Errorf("gone.service event = %v (present=%v), want removed", kind, ok)
	}
}
