package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/modoterra/telesink/pkg/core"
)

// Validate checks the config for structural correctness.
func Validate(c *Config) []error {
	var errs []error

	if c.Version != 1 {
		errs = append(errs, fmt.Errorf("version must be 1, got %d", c.Version))
	}

	if _, port, err := net.SplitHostPort(c.Listen); err != nil {
		errs = append(errs, fmt.Errorf("listen must be host:port, got %q", c.Listen))
	} else if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		errs = append(errs, fmt.Errorf("listen port out of range: %q", port))
	}

	if _, err := core.ParseTarget(c.ReceivePolicy); err != nil {
		errs = append(errs, fmt.Errorf("receive_policy: %w", err))
	}

	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout))
	}

	if c.Discovery.Enabled {
		d := c.Discovery
		if d.Instance == "" {
			errs = append(errs, fmt.Errorf("discovery: instance is required"))
		}
		if d.Domain == "" {
			errs = append(errs, fmt.Errorf("discovery: domain is required"))
		}
		if !validServiceType(d.Service) {
			errs = append(errs, fmt.Errorf("discovery: service must look like _name._tcp or _name._udp, got %q", d.Service))
		}
		if d.Address != "" && net.ParseIP(d.Address) == nil {
			errs = append(errs, fmt.Errorf("discovery: address %q is not an IP", d.Address))
		}
	}

	if c.Mirror.RedisURL != "" && c.Mirror.Key == "" {
		errs = append(errs, fmt.Errorf("mirror: key is required when redis_url is set"))
	}

	if c.Viewer.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("viewer: poll_interval must be positive"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log: level must be debug, info, warn, or error; got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log: format must be text or json; got %q", c.Log.Format))
	}

	return errs
}

func validServiceType(s string) bool {
	name, proto, ok := strings.Cut(s, ".")
	if !ok || len(name) < 2 || name[0] != '_' {
		return false
	}
	return proto == "_tcp" || proto == "_udp"
}
