package services

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/logger"
)

// PortAllocator hands out exclusive, currently-bindable TCP ports from a
// fixed range for per-worktree dev servers. Before probing a candidate it
// force-kills any stale occupant, so a crashed session's orphans can't
// permanently block restarts. Scanning restarts from the base port on every
// call, so low ports are preferred and reused quickly after release.
type PortAllocator struct {
	basePort    int
	maxPort     int
	auxPorts    []int
	settleDelay time.Duration

	killer PortKiller

	mu       sync.Mutex
	reserved map[int]bool
}

// NewPortAllocator creates an allocator for the configured range using the
// platform port killer.
func NewPortAllocator(cfg config.DevServerConfig) *PortAllocator {
	return NewPortAllocatorWithKiller(cfg, NewPortKiller())
}

// NewPortAllocatorWithKiller creates an allocator with an explicit killer,
// used by tests to observe and fake host-level kills.
func NewPortAllocatorWithKiller(cfg config.DevServerConfig, killer PortKiller) *PortAllocator {
	return &PortAllocator{
		basePort:    cfg.BasePort,
		maxPort:     cfg.MaxPort,
		auxPorts:    cfg.AuxiliaryPorts,
		settleDelay: cfg.PortSettle(),
		killer:      killer,
		reserved:    make(map[int]bool),
	}
}

// Allocate scans candidate ports in ascending order from the base port and
// returns the first one that can actually be bound, reserving it for the
// caller. Stale occupants are killed before each probe. ErrNoPortsAvailable
// is returned when the whole range is exhausted.
//
// Each candidate is tentatively reserved before the kill/settle/probe
// sequence and rolled back if the probe fails, so the lock is never held
// across the settle wait and Release callers don't stall behind a scan.
func (a *PortAllocator) Allocate() (int, error) {
	for port := a.basePort; port <= a.maxPort; port++ {
		if !a.tryReserve(port) {
			continue
		}

		// Ports in this range are private to the orchestrator; whatever is
		// still holding one is a leftover from a previous session.
		if killed, err := a.killer.KillPort(port); err != nil {
			logger.Debugf("kill attempt on port %d failed: %v", port, err)
		} else if killed > 0 {
			logger.Infof("reclaimed port %d from %d stale process(es)", port, killed)
		}

		if a.settleDelay > 0 {
			time.Sleep(a.settleDelay)
		}

		if !isPortBindable(port) {
			a.Release(port)
			continue
		}

		a.clearAuxiliaryPorts()
		logger.Debugf("allocated port %d", port)
		return port, nil
	}

	return 0, ErrNoPortsAvailable
}

// tryReserve claims a port if it is free. The claim holds through the
// bindability probe; unbindable candidates are released again.
func (a *PortAllocator) tryReserve(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.reserved[port] {
		return false
	}
	a.reserved[port] = true
	return true
}

// Release removes a port's reservation. Releasing a port that is not
// reserved is a no-op.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.reserved[port] {
		delete(a.reserved, port)
		logger.Debugf("released port %d", port)
	}
}

// Reserved reports whether a port is currently reserved.
func (a *PortAllocator) Reserved(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reserved[port]
}

// clearAuxiliaryPorts best-effort kills the companion live-reload ports so
// HMR sockets from dead sessions don't shadow the new server's. Failures
// are logged and never propagated.
func (a *PortAllocator) clearAuxiliaryPorts() {
	for _, port := range a.auxPorts {
		if _, err := a.killer.KillPort(port); err != nil {
			logger.Debugf("auxiliary port %d cleanup failed: %v", port, err)
		}
	}
}

// isPortBindable checks availability by actually listening on the port.
func isPortBindable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}
