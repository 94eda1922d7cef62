package sysbus

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/unitroute/unitroute/internal/domain"
)

// Inspect queries a unit's current activation state and annotation
// payload. It returns domain.ErrUnitNotFound when the unit vanished
// between the triggering event and this query; any other failure is
// transient and left to the caller to retry.
func (c *Connector) Inspect(ctx context.Context, name string) (*domain.UnitSnapshot, error) {
	conn := c.current()
	if conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	var unitPath dbus.ObjectPath
	err := conn.Object(busName, managerPath).
		CallWithContext(callCtx, managerIface+".GetUnit", 0, name).
		Store(&unitPath)
	if isDBusError(err, errNoSuchUnit) {
		return nil, domain.ErrUnitNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve unit %s: %w", name, err)
	}

	propCtx, propCancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer propCancel()

	var props map[string]dbus.Variant
	err = conn.Object(busName, unitPath).
		CallWithContext(propCtx, propsIface+".GetAll", 0, unitIface).
		Store(&props)
	if isDBusError(err, errUnknownObject) || isDBusError(err, errNoSuchUnit) {
		// Unloaded between the two calls.
		return nil, domain.ErrUnitNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read properties of %s: %w", name, err)
	}

	return &domain.UnitSnapshot{
		Name:        name,
		ActiveState: domain.ActiveState(stringProp(props, "ActiveState")),
		Description: stringProp(props, "Description"),
	}, nil
}

func stringProp(props map[string]dbus.Variant, key string) string {
	v, ok := props[key]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}
