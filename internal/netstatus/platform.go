package netstatus

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Platform is the operating system's own view of connectivity.
type Platform interface {
	// Online reports whether the host believes it has a usable network.
	Online() bool

	// Watch calls onChange whenever Online may have changed, until ctx is
	// done. The returned channel is closed once watching has stopped and no
	// onChange call is running or pending. It returns an error only if
	// watching could not start.
	Watch(ctx context.Context, onChange func()) (<-chan struct{}, error)
}

// debounceInterval lets a burst of resolver rewrites settle before
// re-evaluating interfaces.
const debounceInterval = 100 * time.Millisecond

// InterfacePlatform derives connectivity from the host's network interfaces
// and learns about changes by watching the resolver configuration, which
// network managers rewrite whenever a link comes up or goes down.
type InterfacePlatform struct {
	ResolvConf string
	Logger     *slog.Logger

	// interfaces is swapped out in tests.
	interfaces func() ([]net.Interface, error)
	addrs      func(net.Interface) ([]net.Addr, error)
}

// NewInterfacePlatform returns a Platform that watches resolvConf. An empty
// path disables watching; Online still works.
func NewInterfacePlatform(resolvConf string, logger *slog.Logger) *InterfacePlatform {
	if logger == nil {
		logger = slog.Default()
	}
	return &InterfacePlatform{
		ResolvConf: resolvConf,
		Logger:     logger.With("component", "netstatus"),
		interfaces: net.Interfaces,
		addrs:      func(i net.Interface) ([]net.Addr, error) { return i.Addrs() },
	}
}

// Online implements Platform. The host counts as online when any interface
// other than loopback is up and carries a routable unicast address.
func (p *InterfacePlatform) Online() bool {
	ifaces, err := p.interfaces()
	if err != nil {
		p.Logger.Debug("list interfaces", "error", err)
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := p.addrs(iface)
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if routable(addr) {
				return true
			}
		}
	}
	return false
}

func routable(addr net.Addr) bool {
	var ip net.IP
	switch a := addr.(type) {
	case *net.IPNet:
		ip = a.IP
	case *net.IPAddr:
		ip = a.IP
	default:
		return false
	}
	return ip.IsGlobalUnicast() && !ip.IsLinkLocalUnicast()
}

// Watch implements Platform. The parent directory is watched because
// resolvers are usually replaced by rename rather than written in place.
func (p *InterfacePlatform) Watch(ctx context.Context, onChange func()) (<-chan struct{}, error) {
	done := make(chan struct{})
	if p.ResolvConf == "" {
		close(done)
		return done, nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create resolver watcher: %w", err)
	}
	dir := filepath.Dir(p.ResolvConf)
	if err := fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	go p.run(ctx, fsWatcher, onChange, done)
	return done, nil
}

func (p *InterfacePlatform) run(ctx context.Context, fsWatcher *fsnotify.Watcher, onChange func(), done chan struct{}) {
	var (
		debounceTimer *time.Timer
		debounceMu    sync.Mutex
		stopped       bool
		inflight      sync.WaitGroup
	)
	defer func() {
		debounceMu.Lock()
		stopped = true
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceMu.Unlock()
		inflight.Wait()
		_ = fsWatcher.Close()
		close(done)
	}()

	fire := func() {
		debounceMu.Lock()
		if stopped {
			debounceMu.Unlock()
			return
		}
		inflight.Add(1)
		debounceMu.Unlock()
		defer inflight.Done()
		onChange()
	}
	trigger := func() {
		debounceMu.Lock()
		defer debounceMu.Unlock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(debounceInterval, fire)
	}

	target := filepath.Base(p.ResolvConf)
	p.Logger.Debug("watching resolver configuration", "path", p.ResolvConf)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				trigger()
			}

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			p.Logger.Warn("resolver watcher error", "error", err)
		}
	}
}
