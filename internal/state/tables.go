package state

import "time"

// Phase is a unit's position in the debounce state machine.
type Phase int

const (
	// Idle: nothing pending for this unit.
	Idle Phase = iota

	// Pending: an event arrived and the settle timer is armed.
	Pending

	// Processing: a settle is in flight on a worker.
	Processing
)

// UnitState is one unit's debounce bookkeeping.
type UnitState struct {
	Phase Phase

	// Timer drives the Pending -> Processing transition. Replaced on
	// every arm so the fire carries the current generation.
	Timer *time.Timer

	// Gen counts timer arms. A settle message carries the generation it
	// was armed with; a mismatch marks a fire from a timer that went
	// off while the unit was being re-armed.
	Gen int

	// Rearm is set when an event arrives while Processing; the engine
	// runs the unit again once the in-flight settle completes.
	Rearm bool

	// Removed marks that the latest event was a removal, which bypasses
	// inspection and emits a deletion.
	Removed bool

	// Retries counts consecutive failed settles, driving per-unit
	// retry backoff. Reset on success.
	Retries int
}

// Tables holds the engine's unit and output-record state.
//
// Both tables are owned exclusively by the engine's loop goroutine and
// are mutated only from there; worker results come back as messages.
// That single-owner discipline is why there is no lock here.
type Tables struct {
	units   map[string]*UnitState
	records map[string]string // unit name -> last written content hash
}

func NewTables() *Tables {
	return &Tables{
		units:   make(map[string]*UnitState),
		records: make(map[string]string),
	}
}

// Unit returns the state for a unit, creating it on first sight.
func (t *Tables) Unit(name string) *UnitState {
	st, ok := t.units[name]
	if !ok {
		st = &UnitState{}
		t.units[name] = st
	}
	return st
}

// Lookup returns the state for a unit without creating it.
func (t *Tables) Lookup(name string) (*UnitState, bool) {
	st, ok := t.units[name]
	return st, ok
}

// Drop forgets a unit entirely. Called once a removed unit's output is
// confirmed gone.
func (t *Tables) Drop(name string) {
	if st, ok := t.units[name]; ok && st.Timer != nil {
		st.Timer.Stop()
	}
	delete(t.units, name)
	delete(t.records, name)
}

// Record returns the last written content hash for a unit. Empty means
// no output file is recorded.
func (t *Tables) Record(name string) string {
	return t.records[name]
}

// SetRecord stores the last written content hash. An empty hash deletes
// the record, keeping "at most one record per unit with output".
func (t *Tables) SetRecord(name, hash string) {
	if hash == "" {
		delete(t.records, name)
		return
	}
	t.records[name] = hash
}

// StopTimers cancels every armed settle timer. Used at shutdown.
func (t *Tables) StopTimers() {
	for _, st := range t.units {
		if st.Timer != nil {
			st.Timer.Stop()
		}
	}
}
