package domain

// EventKind classifies a unit lifecycle notification from the bus.
type EventKind int

const (
	// UnitAdded means the service manager loaded a new unit.
	UnitAdded EventKind = iota

	// UnitRemoved means the unit no longer exists. Deletion of its
	// output is unconditional and never debounced.
	UnitRemoved

	// UnitChanged means one of the unit's properties changed, or the
	// connector injected a synthetic change after (re)enumeration.
	UnitChanged
)

func (k EventKind) String() string {
	switch k {
	case UnitAdded:
		return "added"
	case UnitRemoved:
		return "removed"
	case UnitChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// Event is a single unit lifecycle notification consumed by the engine.
type Event struct {
	Kind EventKind
	Unit string
}
