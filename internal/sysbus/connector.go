package sysbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/unitroute/unitroute/internal/domain"
	"github.com/unitroute/unitroute/internal/logger"
)

const (
	busName      = "org.freedesktop.systemd1"
	managerPath  = dbus.ObjectPath("/org/freedesktop/systemd1")
	managerIface = "org.freedesktop.systemd1.Manager"
	unitIface    = "org.freedesktop.systemd1.Unit"
	propsIface   = "org.freedesktop.DBus.Properties"
	unitPathNS   = dbus.ObjectPath("/org/freedesktop/systemd1/unit")

	errNoSuchUnit        = "org.freedesktop.systemd1.NoSuchUnit"
	errUnknownObject     = "org.freedesktop.DBus.Error.UnknownObject"
	errAlreadySubscribed = "org.freedesktop.systemd1.AlreadySubscribed"

	serviceSuffix = ".service"
)

// Options defines bus connection and retry behavior.
type Options struct {
	CallTimeout    time.Duration // per request/response call (ex: 5s)
	ConnectTimeout time.Duration // total budget for the initial connection (ex: 30s)
	RetryInterval  time.Duration // initial wait between attempts, grows exponentially
	MaxWait        time.Duration // cap on the wait between attempts
	WarnThreshold  int           // escalate attempt logging after this many failures
}

// Connector maintains the connection to the service manager on the
// system bus and turns its signals into a stream of typed unit events.
//
// It owns reconnection: after the initial budgeted connect, a lost
// connection is retried forever with capped backoff, and every
// successful (re)connect re-enumerates all units, injecting a synthetic
// change per listed unit and a removal per unit that vanished since the
// previous enumeration, so downstream state reconverges without signal
// replay.
type Connector struct {
	opts Options
	log  logger.Logger

	events   chan domain.Event
	resyncCh chan struct{}

	// lister is the live ListUnits call; swapped for a fake in tests.
	lister unitLister

	// known is the set of service units seen by the last successful
	// enumeration. Touched only from the Run goroutine.
	known map[string]struct{}

	// mu guards the connection handle, which is read by Inspect from
	// worker goroutines while Run may swap it during a reconnect.
	mu    sync.RWMutex
	conn  *dbus.Conn
	sigCh chan *dbus.Signal
}

// unitLister abstracts the manager's ListUnits call so enumeration can
// be tested without a live bus.
type unitLister interface {
	listUnits(ctx context.Context) ([]listedUnit, error)
}

func New(opts Options, log logger.Logger) *Connector {
	c := &Connector{
		opts:     opts,
		log:      log,
		events:   make(chan domain.Event, 256),
		resyncCh: make(chan struct{}, 1),
		known:    make(map[string]struct{}),
	}
	c.lister = c
	return c
}

// Events returns the unit event stream. It stays open across
// reconnects.
func (c *Connector) Events() <-chan domain.Event {
	return c.events
}

// Resync requests a full re-enumeration on the next loop turn. Safe to
// call from any goroutine; coalesces while one is already queued.
func (c *Connector) Resync() {
	select {
	case c.resyncCh <- struct{}{}:
	default:
	}
}

// Connect establishes the initial bus session, retrying with
// exponential backoff until the configured budget runs out. Exhausting
// the budget is fatal to the process.
func (c *Connector) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	c.log.Info("connecting to system bus",
		logger.Duration("timeout", c.opts.ConnectTimeout))

	attempt := 0
	wait := c.opts.RetryInterval
	for {
		attempt++
		err := c.connect(ctx)
		if err == nil {
			if attempt > 1 {
				c.log.Warn("connected to system bus after retry",
					logger.Int("attempts", attempt))
			} else {
				c.log.Info("connected to system bus")
			}
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.log.Error("system bus unavailable - failed to connect within budget",
				logger.Int("attempts", attempt),
				logger.Duration("timeout", c.opts.ConnectTimeout),
				logger.Error(err))
			return fmt.Errorf("system bus unavailable after %d attempts (timeout: %v): %w",
				attempt, c.opts.ConnectTimeout, err)

		case <-timer.C:
			if attempt <= c.opts.WarnThreshold {
				c.log.Warn("bus connection failed, retrying",
					logger.Int("attempt", attempt),
					logger.Duration("next_retry_in", wait),
					logger.Error(err))
			} else {
				c.log.Error("system bus still unavailable - connection attempts failing",
					logger.Int("attempt", attempt),
					logger.Duration("next_retry_in", wait),
					logger.Error(err))
			}
			wait *= 2
			if wait > c.opts.MaxWait {
				wait = c.opts.MaxWait
			}
		}
	}
}

// connect performs a single connection attempt: open a private session,
// subscribe to the manager's signals, and install the match rules for
// unit lifecycle and property changes.
func (c *Connector) connect(ctx context.Context) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("failed to open system bus: %w", err)
	}

	mgr := conn.Object(busName, managerPath)
	if err := mgr.CallWithContext(ctx, managerIface+".Subscribe", 0).Err; err != nil {
		if !isDBusError(err, errAlreadySubscribed) {
			_ = conn.Close()
			return fmt.Errorf("failed to subscribe to manager signals: %w", err)
		}
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchSender(busName),
		dbus.WithMatchInterface(managerIface),
		dbus.WithMatchObjectPath(managerPath),
	); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to match manager signals: %w", err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchSender(busName),
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(unitPathNS),
	); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to match property signals: %w", err)
	}

	sigCh := make(chan *dbus.Signal, 256)
	conn.Signal(sigCh)

	c.mu.Lock()
	c.conn = conn
	c.sigCh = sigCh
	c.mu.Unlock()
	return nil
}

// Run consumes bus signals until ctx is canceled, reconnecting on
// connection loss. Must be called after a successful Connect.
func (c *Connector) Run(ctx context.Context) error {
	if err := c.enumerate(ctx); err != nil {
		c.log.Warn("initial unit enumeration failed",
			logger.Error(err))
	}

	for {
		c.mu.RLock()
		sigCh := c.sigCh
		c.mu.RUnlock()

		select {
		case <-ctx.Done():
			c.close()
			return nil

		case <-c.resyncCh:
			c.log.Debug("resync requested")
			if err := c.enumerate(ctx); err != nil {
				c.log.Warn("unit enumeration failed",
					logger.Error(err))
			}

		case sig, ok := <-sigCh:
			if !ok {
				c.log.Warn("system bus connection lost, reconnecting")
				if !c.reconnect(ctx) {
					c.close()
					return nil
				}
				if err := c.enumerate(ctx); err != nil {
					c.log.Warn("unit enumeration after reconnect failed",
						logger.Error(err))
				}
				continue
			}
			if ev, ok := mapSignal(sig); ok {
				c.emit(ctx, ev)
			}
		}
	}
}

// reconnect retries until a connection is re-established or ctx is
// canceled. Unlike Connect there is no budget: after a successful start
// a flapping bus is a transient condition, never fatal.
func (c *Connector) reconnect(ctx context.Context) bool {
	attempt := 0
	wait := c.opts.RetryInterval
	for {
		attempt++
		if err := c.connect(ctx); err == nil {
			c.log.Info("reconnected to system bus",
				logger.Int("attempts", attempt))
			return true
		} else if attempt <= c.opts.WarnThreshold {
			c.log.Warn("bus reconnection failed, retrying",
				logger.Int("attempt", attempt),
				logger.Duration("next_retry_in", wait),
				logger.Error(err))
		} else {
			c.log.Error("system bus still unavailable - reconnection attempts failing",
				logger.Int("attempt", attempt),
				logger.Duration("next_retry_in", wait),
				logger.Error(err))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		wait *= 2
		if wait > c.opts.MaxWait {
			wait = c.opts.MaxWait
		}
	}
}

// listedUnit mirrors the wire layout of one Manager.ListUnits entry.
type listedUnit struct {
	Name        string
	Description string
	LoadState   string
	ActiveState string
	SubState    string
	Followed    string
	Path        dbus.ObjectPath
	JobID       uint32
	JobType     string
	JobPath     dbus.ObjectPath
}

// listUnits performs the live Manager.ListUnits call.
func (c *Connector) listUnits(ctx context.Context) ([]listedUnit, error) {
	conn := c.current()
	if conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	var units []listedUnit
	err := conn.Object(busName, managerPath).
		CallWithContext(callCtx, managerIface+".ListUnits", 0).
		Store(&units)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	return units, nil
}

// enumerate lists all currently loaded units, injects a synthetic
// change event for every service unit, and emits a removal for every
// unit the previous enumeration saw but the fresh listing does not. The
// diff is what cleans up output for units whose UnitRemoved signal was
// lost while the bus was down. An enumeration failure leaves the known
// set untouched, so a vanished unit's removal is emitted on the next
// successful pass.
func (c *Connector) enumerate(ctx context.Context) error {
	units, err := c.lister.listUnits(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]struct{}, len(units))
	for _, u := range units {
		if !strings.HasSuffix(u.Name, serviceSuffix) {
			continue
		}
		next[u.Name] = struct{}{}
		c.emit(ctx, domain.Event{Kind: domain.UnitChanged, Unit: u.Name})
	}

	vanished := 0
	for name := range c.known {
		if _, ok := next[name]; !ok {
			vanished++
			c.emit(ctx, domain.Event{Kind: domain.UnitRemoved, Unit: name})
		}
	}
	c.known = next

	c.log.Info("enumerated service units",
		logger.Int("count", len(next)),
		logger.Int("vanished", vanished))
	return nil
}

func (c *Connector) emit(ctx context.Context, ev domain.Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func (c *Connector) current() *dbus.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Connector) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
