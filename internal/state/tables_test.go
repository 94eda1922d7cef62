package state

import (
	"testing"
	"time"
)

func TestUnitCreatesOnFirstSight(t *testing.T) {
	tb := NewTables()

	if _, ok := tb.Lookup("app.service"); ok {
		t.Fatal("Lookup() found a unit that was never seen")
	}

	st := tb.Unit("app.service")
	if st == nil || st.Phase != Idle {
		t.Fatalf("Unit() = %+v, want fresh Idle state", st)
	}
	if again := tb.Unit("app.service"); again != st {
		t.Error("Unit() returned a different state for the same unit")
	}
}

func TestRecordLifecycle(t *testing.T) {
	tb := NewTables()

	if got := tb.Record("app.service"); got != "" {
		t.Errorf("Record() = %q, want empty before any write", got)
	}

	tb.SetRecord("app.service", "abc123")
	if got := tb.Record("app.service"); got != "abc123" {
		t.Errorf("Record() = %q, want abc123", got)
	}

	tb.SetRecord("app.service", "")
	if got := tb.Record("app.service"); got != "" {
		t.Errorf("Record() = %q, want empty after deletion", got)
	}
}

func TestDropForgetsEverything(t *testing.T) {
	tb := NewTables()
	st := tb.Unit("app.service")
	st.Timer = time.AfterFunc(time.Hour, func() {})
	tb.SetRecord("app.service", "abc123")

	tb.Drop("app.service")

	if _, ok := tb.Lookup("app.service"); ok {
		t.Error("unit state survived Drop()")
	}
	if got := tb.Record("app.service"); got != "" {
		t.Errorf("Record() = %q, want empty after Drop()", got)
	}
}

func TestStopTimers(t *testing.T) {
	tb := NewTables()
	fired := make(chan struct{}, 2)

	a := tb.Unit("a.service")
	a.Timer = time.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} })
	b := tb.Unit("b.service")
	b.Timer = time.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} })

	tb.StopTimers()

	select {
	case <-fired:
		t.Error("a timer fired after StopTimers()")
	case <-time.After(60 * time.Millisecond):
	}
}
