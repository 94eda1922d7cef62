package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

type Config struct {
	OutDir string // directory for emitted dynamic config files

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	DebounceWindow time.Duration // per-unit settle window (ex: 250ms)
	Workers        int           // max concurrent unit settles
	ResyncInterval time.Duration // full re-enumeration interval (0 = disabled)

	ShutdownTimeout time.Duration // grace period for in-flight settles

	// Bus
	BusCallTimeout    time.Duration // per request/response call (ex: 5s)
	BusConnectTimeout time.Duration // total budget for the initial connection (ex: 30s)
	BusRetryInterval  time.Duration // initial wait between attempts, grows exponentially
	BusMaxWait        time.Duration // cap on the wait between attempts
	BusWarnThreshold  int           // escalate attempt logging after this many failures
}

func Load() *Config {
	cfg := &Config{
		OutDir: getenv("UNITROUTE_OUT_DIR", "/etc/traefik/dynamic/units"),

		LogLevel:  getenv("UNITROUTE_LOG_LEVEL", "info"),
		PrettyLog: mustBool("UNITROUTE_PRETTY_LOG", false),

		DebounceWindow: mustDuration("UNITROUTE_DEBOUNCE_WINDOW", 250*time.Millisecond),
		Workers:        getenvInt("UNITROUTE_WORKERS", 4),
		ResyncInterval: mustDuration("UNITROUTE_RESYNC_INTERVAL", time.Hour),

		ShutdownTimeout: mustDuration("UNITROUTE_SHUTDOWN_TIMEOUT", 5*time.Second),

		BusCallTimeout:    mustDuration("UNITROUTE_BUS_CALL_TIMEOUT", 5*time.Second),
		BusConnectTimeout: mustDuration("UNITROUTE_BUS_CONNECT_TIMEOUT", 30*time.Second),
		BusRetryInterval:  mustDuration("UNITROUTE_BUS_RETRY_INTERVAL", 2*time.Second),
		BusMaxWait:        mustDuration("UNITROUTE_BUS_MAX_WAIT", 10*time.Second),
		BusWarnThreshold:  getenvInt("UNITROUTE_BUS_WARN_THRESHOLD", 3),
	}

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	if cfg.LogLevel == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", *cfg)
	}

	return cfg
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
