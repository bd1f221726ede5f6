// Package mswitchurl parses the mswitchdirect:// open-URL form into a
// config.SwitcherConfig, mirroring how the original collaborator accepted
// its options as a flat query string rather than a structured config file.
package mswitchurl

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/mswitch/internal/config"
)

const scheme = "mswitchdirect"

const (
	minPort    = 1024
	maxPort    = 65535
	minSources = 1
	maxSources = 10

	minHealthInterval = 100 * time.Millisecond
	maxHealthInterval = 10000 * time.Millisecond
	minSourceTimeout  = 1000 * time.Millisecond
	maxSourceTimeout  = 60000 * time.Millisecond
	minGracePeriod    = 0 * time.Millisecond
	maxGracePeriod    = 60000 * time.Millisecond
)

// Parse decodes a mswitchdirect:// URL into a SwitcherConfig, applying the
// same defaults as config.SetDefaults for any option left unspecified.
func Parse(rawURL string) (config.SwitcherConfig, error) {
	var cfg config.SwitcherConfig

	u, err := url.Parse(rawURL)
	if err != nil {
		return cfg, fmt.Errorf("parsing url: %w", err)
	}
	if u.Scheme != scheme {
		return cfg, fmt.Errorf("unsupported scheme %q, expected %q", u.Scheme, scheme)
	}

	q := u.Query()

	sources, err := parseSources(q.Get("msw_sources"))
	if err != nil {
		return cfg, err
	}
	cfg.Sources = sources

	cfg.ControlPort = 8099
	if raw := q.Get("msw_port"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return cfg, fmt.Errorf("msw_port: %w", err)
		}
		if port < minPort || port > maxPort {
			return cfg, fmt.Errorf("msw_port %d out of range [%d, %d]", port, minPort, maxPort)
		}
		cfg.ControlPort = port
	}

	cfg.AutoFailoverEnabled = true
	if raw := q.Get("msw_auto_failover"); raw != "" {
		enabled, err := parseBool(raw)
		if err != nil {
			return cfg, fmt.Errorf("msw_auto_failover: %w", err)
		}
		cfg.AutoFailoverEnabled = enabled
	}

	cfg.HealthCheckInterval = 2000 * time.Millisecond
	if raw := q.Get("msw_health_interval"); raw != "" {
		d, err := parseMillis(raw, minHealthInterval, maxHealthInterval)
		if err != nil {
			return cfg, fmt.Errorf("msw_health_interval: %w", err)
		}
		cfg.HealthCheckInterval = d
	}

	cfg.SourceTimeout = 5000 * time.Millisecond
	if raw := q.Get("msw_source_timeout"); raw != "" {
		d, err := parseMillis(raw, minSourceTimeout, maxSourceTimeout)
		if err != nil {
			return cfg, fmt.Errorf("msw_source_timeout: %w", err)
		}
		cfg.SourceTimeout = d
	}

	cfg.StartupGracePeriod = 0
	if raw := q.Get("msw_grace_period"); raw != "" {
		d, err := parseMillis(raw, minGracePeriod, maxGracePeriod)
		if err != nil {
			return cfg, fmt.Errorf("msw_grace_period: %w", err)
		}
		cfg.StartupGracePeriod = d
	}

	// Options with no open-URL equivalent keep the program-wide defaults.
	cfg.SourceDialTimeout = 100 * time.Millisecond
	cfg.ManualSwitchGrace = 3000 * time.Millisecond
	cfg.SwitchTimeout = 3000 * time.Millisecond
	cfg.QueueCapacity = 90
	cfg.TimestampDriftThreshold = 90000

	return cfg, nil
}

func parseSources(raw string) ([]string, error) {
	if raw == "" {
		return nil, fmt.Errorf("msw_sources is required")
	}
	parts := strings.Split(raw, ",")
	sources := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		sources = append(sources, p)
	}
	if len(sources) < minSources || len(sources) > maxSources {
		return nil, fmt.Errorf("msw_sources must have between %d and %d entries, got %d", minSources, maxSources, len(sources))
	}
	return sources, nil
}

func parseBool(raw string) (bool, error) {
	switch raw {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("must be 0 or 1, got %q", raw)
	}
}

func parseMillis(raw string, min, max time.Duration) (time.Duration, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	d := time.Duration(ms) * time.Millisecond
	if d < min || d > max {
		return 0, fmt.Errorf("%d ms out of range [%d, %d]", ms, min/time.Millisecond, max/time.Millisecond)
	}
	return d, nil
}
