package sysbus

import (
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/unitroute/unitroute/internal/domain"
)

func TestUnitNameFromPath(t *testing.T) {
	tests := []struct {
		name string
		path dbus.ObjectPath
		want string
		ok   bool
	}{
		{
			name: "simple service",
			path: "/org/freedesktop/systemd1/unit/sleep_2eservice",
			want: "sleep.service",
			ok:   true,
		},
		{
			name: "dash and dot",
			path: "/org/freedesktop/systemd1/unit/my_2dapp_2eservice",
			want: "my-app.service",
			ok:   true,
		},
		{
			name: "instance unit",
			path: "/org/freedesktop/systemd1/unit/getty_40tty1_2eservice",
			want: "getty@tty1.service",
			ok:   true,
		},
		{
			name: "wrong prefix",
			path: "/org/freedesktop/systemd1/job/42",
			ok:   false,
		},
		{
			name: "truncated escape",
			path: "/org/freedesktop/systemd1/unit/bad_2",
			ok:   false,
		},
		{
			name: "invalid hex",
			path: "/org/freedesktop/systemd1/unit/bad_zz",
			ok:   false,
		},
		{
			name: "empty segment",
			path: "/org/freedesktop/systemd1/unit/",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := unitNameFromPath(tt.path)
			if ok != tt.ok {
				t.Fatalf("unitNameFromPath(%q) ok = %v, want %v", tt.path, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("unitNameFromPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestMapSignal(t *testing.T) {
	tests := []struct {
		name string
		sig  *dbus.Signal
		want domain.Event
		ok   bool
	}{
		{
			name: "unit new",
			sig: &dbus.Signal{
				Name: managerIface + ".UnitNew",
				Body: []interface{}{"web.service", dbus.ObjectPath("/org/freedesktop/systemd1/unit/web_2eservice")},
			},
			want: domain.Event{Kind: domain.UnitAdded, Unit: "web.service"},
			ok:   true,
		},
		{
			name: "unit removed",
			sig: &dbus.Signal{
				Name: managerIface + ".UnitRemoved",
				Body: []interface{}{"web.service", dbus.ObjectPath("/org/freedesktop/systemd1/unit/web_2eservice")},
			},
			want: domain.Event{Kind: domain.UnitRemoved, Unit: "web.service"},
			ok:   true,
		},
		{
			name: "properties changed",
			sig: &dbus.Signal{
				Name: propsIface + ".PropertiesChanged",
				Path: "/org/freedesktop/systemd1/unit/web_2eservice",
				Body: []interface{}{unitIface, map[string]dbus.Variant{}, []string{}},
			},
			want: domain.Event{Kind: domain.UnitChanged, Unit: "web.service"},
			ok:   true,
		},
		{
			name: "non service unit filtered",
			sig: &dbus.Signal{
				Name: managerIface + ".UnitNew",
				Body: []interface{}{"tmp.mount", dbus.ObjectPath("/org/freedesktop/systemd1/unit/tmp_2emount")},
			},
			ok: false,
		},
		{
			name: "non service properties filtered",
			sig: &dbus.Signal{
				Name: propsIface + ".PropertiesChanged",
				Path: "/org/freedesktop/systemd1/unit/tmp_2emount",
			},
			ok: false,
		},
		{
			name: "unrelated signal",
			sig: &dbus.Signal{
				Name: "org.freedesktop.DBus.NameOwnerChanged",
				Body: []interface{}{"x", "y", "z"},
			},
			ok: false,
		},
		{
			name: "empty body",
			sig:  &dbus.Signal{Name: managerIface + ".UnitNew"},
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := mapSignal(tt.sig)
			if ok != tt.ok {
				t.Fatalf("mapSignal() ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("mapSignal() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
