// Package launcher starts telesinkd detached from the terminal and stops
// it cooperatively, escalating to signals only when the daemon does not
// exit on its own.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrNotRunning is returned by Stop when no live daemon is recorded.
var ErrNotRunning = errors.New("daemon not running")

// ErrAlreadyRunning is returned by Start when the pid file names a live
// process.
var ErrAlreadyRunning = errors.New("daemon already running")

// Launcher manages one detached daemon process through a pid file.
type Launcher struct {
	Binary  string   // telesinkd path
	Args    []string // extra daemon arguments, e.g. --config
	PIDFile string
	LogFile string // daemon stdout/stderr; empty discards output
	Logger  *slog.Logger
}

// DefaultPIDFile returns the pid file path used when none is configured.
func DefaultPIDFile() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "telesinkd.pid")
	}
	return filepath.Join(os.TempDir(), "telesinkd.pid")
}

func (l *Launcher) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// Start spawns the daemon in its own process group and records its pid.
// The child is reaped in the background so it never lingers as a zombie
// while this process is alive.
func (l *Launcher) Start() (int, error) {
	if pid, err := l.PID(); err == nil && l.owns(pid) {
		return pid, ErrAlreadyRunning
	}
	if l.Binary == "" {
		return 0, errors.New("start: binary is required")
	}

	cmd := exec.Command(l.Binary, l.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()

	if l.LogFile != "" {
		f, err := os.OpenFile(l.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return 0, fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", l.Binary, err)
	}
	pid := cmd.Process.Pid

	if err := os.WriteFile(l.PIDFile, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		syscall.Kill(-pid, syscall.SIGKILL)
		cmd.Wait()
		return 0, fmt.Errorf("write pid file: %w", err)
	}

	go cmd.Wait()

	l.logger().Info("daemon started", "pid", pid, "binary", l.Binary)
	return pid, nil
}

// PID reads the pid file.
func (l *Launcher) PID() (int, error) {
	data, err := os.ReadFile(l.PIDFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s", l.PIDFile)
	}
	return pid, nil
}

// Running reports whether the recorded process is alive and still runs
// the daemon binary.
func (l *Launcher) Running() bool {
	pid, err := l.PID()
	return err == nil && l.owns(pid)
}

// Stop asks the daemon to exit through request (normally POST /shutdown)
// and waits up to grace for it to go. It then sends SIGTERM to the
// process group, waits again, and finally SIGKILLs it. The pid file is
// removed in every case. A recorded pid that the kernel has handed to an
// unrelated program is treated as stale and never signalled.
func (l *Launcher) Stop(ctx context.Context, request func(context.Context) error, grace time.Duration) error {
	pid, err := l.PID()
	if err != nil || !l.owns(pid) {
		if err == nil && alive(pid) {
			l.logger().Warn("stale pid file names another program", "pid", pid, "binary", l.Binary)
		}
		os.Remove(l.PIDFile)
		return ErrNotRunning
	}
	defer os.Remove(l.PIDFile)

	log := l.logger().With("pid", pid)

	if request != nil {
		if err := request(ctx); err != nil {
			log.Warn("cooperative shutdown failed", "err", err)
		} else if waitExit(ctx, pid, grace) {
			log.Info("daemon stopped")
			return nil
		}
	}

	log.Warn("daemon still running, sending SIGTERM")
	signalGroup(pid, syscall.SIGTERM)
	if waitExit(ctx, pid, grace) {
		return nil
	}

	log.Warn("daemon ignored SIGTERM, sending SIGKILL")
	signalGroup(pid, syscall.SIGKILL)
	if waitExit(ctx, pid, grace) {
		return nil
	}
	return fmt.Errorf("pid %d did not exit", pid)
}

// signalGroup signals the process group led by pid, falling back to the
// process alone when it does not lead a group.
func signalGroup(pid int, sig syscall.Signal) {
	if err := syscall.Kill(-pid, sig); err != nil {
		syscall.Kill(pid, sig)
	}
}

// owns reports whether pid is alive and running l.Binary.
func (l *Launcher) owns(pid int) bool {
	return alive(pid) && l.matchesBinary(pid)
}

// matchesBinary compares the executable and argv[0] of pid against
// l.Binary. Without a usable /proc any live pid matches.
func (l *Launcher) matchesBinary(pid int) bool {
	if _, err := os.Stat("/proc/self/exe"); err != nil {
		return true
	}
	if l.Binary == "" {
		return false
	}
	proc := filepath.Join("/proc", strconv.Itoa(pid))
	want := filepath.Base(l.Binary)

	if exe, err := os.Readlink(filepath.Join(proc, "exe")); err == nil {
		exe = strings.TrimSuffix(exe, " (deleted)")
		if filepath.Base(exe) == want {
			return true
		}
		if path, err := exec.LookPath(l.Binary); err == nil {
			if resolved, err := filepath.EvalSymlinks(path); err == nil && resolved == exe {
				return true
			}
		}
	}

	cmdline, err := os.ReadFile(filepath.Join(proc, "cmdline"))
	if err != nil || len(cmdline) == 0 {
		return false
	}
	argv0, _, _ := strings.Cut(string(cmdline), "\x00")
	return filepath.Base(argv0) == want
}

func alive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func waitExit(ctx context.Context, pid int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		if !alive(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return !alive(pid)
		case <-deadline.C:
			return !alive(pid)
		case <-tick.C:
		}
	}
}
