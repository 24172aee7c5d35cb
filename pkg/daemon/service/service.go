// Package service manages the telesinkd systemd user service unit and
// reports readiness to systemd.
package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
)

const unitName = "telesinkd.service"

// UnitContents returns the systemd unit file contents for the given binary
// and config paths.
func UnitContents(binaryPath, configPath string) string {
	execStart := binaryPath
	if configPath != "" {
		execStart += " --config " + configPath
	}
	return fmt.Sprintf(`[Unit]
Description=Telesink daemon, telemetry sink for embedded devices
Documentation=https://github.com/modoterra/telesink
After=network-online.target
Wants=network-online.target

[Service]
Type=notify
ExecStart=%s
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`, execStart)
}

// UnitPath returns the path to the systemd user unit file.
func UnitPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	return filepath.Join(configDir, "systemd", "user", unitName), nil
}

// Install writes the unit file, reloads systemd, and enables+starts the
// service. configPath is made absolute; empty runs with built-in defaults.
func Install(configPath string) error {
	binaryPath, err := exec.LookPath("telesinkd")
	if err != nil {
		return fmt.Errorf("telesinkd not found in PATH: %w", err)
	}
	binaryPath, err = filepath.Abs(binaryPath)
	if err != nil {
		return fmt.Errorf("cannot resolve telesinkd path: %w", err)
	}
	if configPath != "" {
		if configPath, err = filepath.Abs(configPath); err != nil {
			return fmt.Errorf("cannot resolve config path: %w", err)
		}
	}

	unitPath, err := UnitPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}

	contents := UnitContents(binaryPath, configPath)
	if err := os.WriteFile(unitPath, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("cannot write unit file: %w", err)
	}

	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", "--now", unitName)
}

// Uninstall stops+disables the service, removes the unit file, and reloads systemd.
func Uninstall() error {
	// Best-effort stop and disable; ignore errors if not running.
	_ = systemctl("stop", unitName)
	_ = systemctl("disable", unitName)

	unitPath, err := UnitPath()
	if err != nil {
		return err
	}

	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove unit file: %w", err)
	}

	return systemctl("daemon-reload")
}

// Status returns a human-readable status string covering the control
// socket and the systemd user unit.
func Status(ctx context.Context, socketPath string) string {
	var lines []string

	if socketPath != "" {
		if _, err := os.Stat(socketPath); err == nil {
			lines = append(lines, "socket: active ("+socketPath+")")
		} else {
			lines = append(lines, "socket: inactive ("+socketPath+")")
		}
	}

	unitPath, err := UnitPath()
	if err == nil {
		if _, statErr := os.Stat(unitPath); statErr == nil {
			lines = append(lines, "systemd user service: "+UnitState(ctx))
		} else {
			lines = append(lines, "systemd user service: not installed")
		}
	}

	return strings.Join(lines, "\n")
}

// UnitState asks the user systemd instance over D-Bus for the unit's
// state, e.g. "active (running)". It returns "unknown" when the bus is
// unreachable.
func UnitState(ctx context.Context) string {
	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return "unknown"
	}
	defer conn.Close()

	units, err := conn.ListUnitsByNamesContext(ctx, []string{unitName})
	if err != nil || len(units) == 0 {
		return "unknown"
	}
	return describeState(units[0].ActiveState, units[0].SubState)
}

func describeState(active, sub string) string {
	switch {
	case active == "":
		return "unknown"
	case sub == "" || sub == active:
		return active
	default:
		return active + " (" + sub + ")"
	}
}

func systemctl(args ...string) error {
	cmd := exec.Command("systemctl", append([]string{"--user"}, args...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemctl --user %s: %w", strings.Join(args, " "), err)
	}
	return nil
}
