// telesinkd is the telemetry sink daemon. It accepts log lines and data
// samples from devices over HTTP, keeps them in memory, announces itself
// on the local network, and runs until POST /shutdown or a signal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/modoterra/telesink/internal/buildinfo"
	"github.com/modoterra/telesink/pkg/config"
	"github.com/modoterra/telesink/pkg/daemon"
	"github.com/modoterra/telesink/pkg/discovery"
	"github.com/modoterra/telesink/pkg/mirror"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	configPath  string
	listen      string
	socket      string
	logLevel    string
	noDiscovery bool
	version     bool
}

func parseFlags(args []string) (*flags, *pflag.FlagSet, error) {
	var f flags
	flagSet := pflag.NewFlagSet("telesinkd", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&f.configPath, "config", config.DefaultPath, "path to the YAML config file")
	flagSet.StringVar(&f.listen, "listen", "", "HTTP listen address (overrides config)")
	flagSet.StringVar(&f.socket, "socket", "", "control socket path (overrides config)")
	flagSet.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	flagSet.BoolVar(&f.noDiscovery, "no-discovery", false, "do not announce the service over DNS-SD")
	flagSet.BoolVar(&f.version, "version", false, "print version and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		return nil, flagSet, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, flagSet, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return &f, flagSet, nil
}

func run(args []string) error {
	f, flagSet, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if f.version {
		fmt.Printf("telesinkd %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
		return nil
	}

	cfg, err := loadConfig(f, flagSet.Changed("config"))
	if err != nil {
		return err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return errors.Join(append([]error{fmt.Errorf("invalid config %s", describePath(cfg))}, errs...)...)
	}

	logger := newLogger(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var announcer discovery.Announcer = discovery.Nop{}
	if cfg.Discovery.Enabled {
		announcer = discovery.NewZeroconf(discovery.Options{
			Instance:   cfg.Discovery.Instance,
			Service:    cfg.Discovery.Service,
			Domain:     cfg.Discovery.Domain,
			Address:    cfg.Discovery.Address,
			Interfaces: cfg.Discovery.Interfaces,
			Text:       cfg.Discovery.Text,
			Logger:     logger,
		})
	}

	var publisher mirror.Publisher = mirror.Nop{}
	if cfg.Mirror.RedisURL != "" {
		r, err := mirror.NewRedis(ctx, cfg.Mirror.RedisURL, cfg.Mirror.Key, logger)
		if err != nil {
			return fmt.Errorf("mirror: %w", err)
		}
		publisher = r
	}

	d, err := daemon.New(daemon.Options{
		Config:    cfg,
		Logger:    logger,
		Announcer: announcer,
		Mirror:    publisher,
	})
	if err != nil {
		publisher.Close()
		return err
	}

	logger.Info("starting telesinkd",
		"version", buildinfo.Version,
		"config", describePath(cfg),
		"listen", cfg.Listen,
		"discovery", cfg.Discovery.Enabled,
	)
	if err := d.Run(ctx); err != nil {
		return err
	}
	logger.Info("telesinkd stopped")
	return nil
}

// loadConfig reads the config file and applies flag overrides. A missing
// file is only an error when the path was given explicitly.
func loadConfig(f *flags, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		cfg = config.Default()
	default:
		return nil, err
	}

	if f.listen != "" {
		cfg.Listen = f.listen
	}
	if f.socket != "" {
		cfg.Control.Socket = f.socket
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.noDiscovery {
		cfg.Discovery.Enabled = false
	}
	return cfg, nil
}

func newLogger(c config.Log, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func describePath(cfg *config.Config) string {
	if cfg.FilePath == "" {
		return "(defaults)"
	}
	return cfg.FilePath
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `telesinkd collects log lines and data samples from devices over HTTP.

Usage:
  telesinkd [flags]

Flags:
%s`, flagSet.FlagUsages())
}
