package sysbus

import (
	"errors"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/unitroute/unitroute/internal/domain"
)

// mapSignal converts a raw bus signal into a unit event. Signals for
// non-service units, and signals this daemon has no use for, are
// dropped.
func mapSignal(sig *dbus.Signal) (domain.Event, bool) {
	switch sig.Name {
	case managerIface + ".UnitNew", managerIface + ".UnitRemoved":
		if len(sig.Body) < 1 {
			return domain.Event{}, false
		}
		name, ok := sig.Body[0].(string)
		if !ok || !strings.HasSuffix(name, serviceSuffix) {
			return domain.Event{}, false
		}
		kind := domain.UnitAdded
		if strings.HasSuffix(sig.Name, ".UnitRemoved") {
			kind = domain.UnitRemoved
		}
		return domain.Event{Kind: kind, Unit: name}, true

	case propsIface + ".PropertiesChanged":
		name, ok := unitNameFromPath(sig.Path)
		if !ok || !strings.HasSuffix(name, serviceSuffix) {
			return domain.Event{}, false
		}
		return domain.Event{Kind: domain.UnitChanged, Unit: name}, true
	}

	return domain.Event{}, false
}

// unitNameFromPath recovers a unit name from its escaped object path.
// systemd escapes every byte outside [a-zA-Z0-9] (and a leading digit)
// as '_' followed by two hex digits, e.g.
// /org/freedesktop/systemd1/unit/sleep_2eservice -> sleep.service.
func unitNameFromPath(path dbus.ObjectPath) (string, bool) {
	s := string(path)
	prefix := string(unitPathNS) + "/"
	if !strings.HasPrefix(s, prefix) {
		return "", false
	}
	escaped := s[len(prefix):]
	if escaped == "" || strings.Contains(escaped, "/") {
		return "", false
	}

	var b strings.Builder
	b.Grow(len(escaped))
	for i := 0; i < len(escaped); i++ {
		if escaped[i] != '_' {
			b.WriteByte(escaped[i])
			continue
		}
		if i+2 >= len(escaped) {
			return "", false
		}
		v, err := strconv.ParseUint(escaped[i+1:i+3], 16, 8)
		if err != nil {
			return "", false
		}
		b.WriteByte(byte(v))
		i += 2
	}
	return b.String(), true
}

func isDBusError(err error, name string) bool {
	var derr dbus.Error
	if errors.As(err, &derr) {
		return derr.Name == name
	}
	return false
}
