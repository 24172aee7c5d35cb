// Package discovery announces the sink on the local network with DNS-SD so
// a device can find it by service type instead of a fixed address.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ErrNoAddress is returned when no usable host address can be found.
var ErrNoAddress = errors.New("no usable host address")

// Announcer registers the sink's address and port under a service type.
type Announcer interface {
	// Register publishes the announcement for port. Failure is fatal to
	// startup.
	Register(ctx context.Context, port int) error
	// Unregister withdraws the announcement.
	Unregister() error
	// Close releases the announcer's resources.
	Close() error
}

// Options configures a Zeroconf announcer.
type Options struct {
	Instance   string   // e.g. ESP32Server
	Service    string   // e.g. _http._tcp
	Domain     string   // e.g. local.
	Address    string   // empty: DetectAddress
	Interfaces []string // empty: all multicast interfaces
	Text       []string
	Logger     *slog.Logger
}

// FullNames returns the fully qualified service type and instance name.
func (o Options) FullNames() (service, instance string) {
	domain := strings.TrimSuffix(o.Domain, ".") + "."
	service = o.Service + "." + domain
	return service, o.Instance + "." + service
}

// Zeroconf announces through a multicast DNS responder.
type Zeroconf struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	server   responder
	closed   bool
	register registerFunc
}

// responder is the running mDNS responder; *zeroconf.Server satisfies it.
type responder interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, host string, ips, text []string, ifaces []net.Interface) (responder, error)

func zeroconfRegister(instance, service, domain string, port int, host string, ips, text []string, ifaces []net.Interface) (responder, error) {
	server, err := zeroconf.RegisterProxy(instance, service, domain, port, host, ips, text, ifaces)
	if err != nil {
		return nil, err
	}
	return server, nil
}

// NewZeroconf creates an announcer. Nothing is sent until Register.
func NewZeroconf(opts Options) *Zeroconf {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Zeroconf{opts: opts, logger: logger, register: zeroconfRegister}
}

// Register resolves the host address and starts answering for the
// announcement.
func (z *Zeroconf) Register(ctx context.Context, port int) error {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.closed {
		return errors.New("register: announcer closed")
	}
	if z.server != nil {
		return errors.New("register: already registered")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := z.opts.Address
	if addr == "" {
		ip, err := DetectAddress(ctx)
		if err != nil {
			return fmt.Errorf("detect address: %w", err)
		}
		addr = ip.String()
	}

	ifaces, err := resolveInterfaces(z.opts.Interfaces)
	if err != nil {
		return err
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = z.opts.Instance
	}
	host = strings.TrimSuffix(host, ".")

	server, err := z.register(z.opts.Instance, z.opts.Service, z.opts.Domain, port, host, []string{addr}, z.opts.Text, ifaces)
	if err != nil {
		return fmt.Errorf("register %s: %w", z.opts.Instance, err)
	}
	z.server = server

	service, instance := z.opts.FullNames()
	z.logger.Info("service announced", "service", service, "instance", instance, "address", addr, "port", port)
	return nil
}

// Unregister sends goodbye records and stops answering queries. Calling it
// without a registration is a no-op.
func (z *Zeroconf) Unregister() error {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.server == nil {
		return nil
	}
	z.server.Shutdown()
	z.server = nil
	z.logger.Info("service announcement withdrawn", "instance", z.opts.Instance)
	return nil
}

// Close withdraws any remaining announcement and prevents further use.
func (z *Zeroconf) Close() error {
	err := z.Unregister()
	z.mu.Lock()
	z.closed = true
	z.mu.Unlock()
	return err
}

func resolveInterfaces(names []string) ([]net.Interface, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]net.Interface, 0, len(names))
	for _, name := range names {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("interface %q: %w", name, err)
		}
		out = append(out, *iface)
	}
	return out, nil
}

// Nop is used when the device is configured with a fixed address.
type Nop struct{}

func (Nop) Register(context.Context, int) error { return nil }
func (Nop) Unregister() error                    { return nil }
func (Nop) Close() error                         { return nil }
