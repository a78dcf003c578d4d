package services

// PortKiller force-terminates whatever process currently holds a local TCP
// port. Ports in the orchestrator's range are private to it, so reclaiming a
// stale occupant left by a crashed session is safe. Implementations are
// platform-specific: Unix-likes resolve pids with lsof, Windows parses the
// connection table (see port_killer_unix.go / port_killer_windows.go).
type PortKiller interface {
	// KillPort terminates every process listening on port. It returns the
	// number of processes signalled; zero with a nil error means the port
	// had no occupant.
	KillPort(port int) (int, error)
}

// NewPortKiller returns the killer for the current platform.
func NewPortKiller() PortKiller {
	return newPlatformKiller()
}
