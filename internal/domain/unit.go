package domain

import "errors"

// ErrUnitNotFound is returned by inspection when the unit no longer
// exists on the bus. Callers treat it like a removal event, not a
// failure: the race between a change signal and the query is expected.
var ErrUnitNotFound = errors.New("unit not found")

// ActiveState is a systemd unit activation state as reported by the
// ActiveState property of org.freedesktop.systemd1.Unit.
type ActiveState string

const (
	StateActive       ActiveState = "active"
	StateActivating   ActiveState = "activating"
	StateDeactivating ActiveState = "deactivating"
	StateInactive     ActiveState = "inactive"
	StateFailed       ActiveState = "failed"
)

// Routable reports whether a unit in this state should have routing
// configuration emitted for it. Units that are still activating will
// fire another properties signal once they finish, so only a fully
// active unit counts.
func (s ActiveState) Routable() bool {
	return s == StateActive
}

// UnitSnapshot is the result of inspecting a unit at a point in time.
//
// It is a pure value: the bus connector produces it, the builder consumes
// it, nothing mutates it after creation.
type UnitSnapshot struct {
	// Name is the full unit name. Example: sleep.service
	Name string

	// ActiveState is the activation state at inspection time.
	ActiveState ActiveState

	// Description is the raw Description property, which may carry
	// route.* annotations. Empty means no routing intent.
	Description string
}
