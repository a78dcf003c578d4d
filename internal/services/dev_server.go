package services

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/logger"
	"github.com/atelier-dev/atelier/internal/models"
	"github.com/atelier-dev/atelier/internal/recovery"
)

// devServerEntry is the in-memory record for one worktree's running dev
// server. The worktree path is the unique key; the port is reserved for the
// entry's whole lifetime; the process handle is exclusively owned.
type devServerEntry struct {
	worktreePath string
	port         int
	url          string
	cmd          *exec.Cmd
	startedAt    time.Time
	output       *OutputBuffer

	// stopping is one-way. Once set, the exit watcher's cleanup and stopped
	// notification are suppressed: whoever set it owns the teardown.
	stopping bool
}

func (e *devServerEntry) info() models.DevServerInfo {
	pid := 0
	if e.cmd.Process != nil {
		pid = e.cmd.Process.Pid
	}
	return models.DevServerInfo{
		WorktreePath: e.worktreePath,
		Port:         e.port,
		URL:          e.url,
		PID:          pid,
		StartedAt:    e.startedAt,
	}
}

// DevServerManager spawns and supervises one dev server per git worktree.
// It owns the port allocator and each entry's output buffer, and reports
// lifecycle and throttled output through the attached events emitter.
type DevServerManager struct {
	mu       sync.Mutex
	servers  map[string]*devServerEntry
	inFlight map[string]bool

	allocator *PortAllocator
	cfg       config.DevServerConfig
	host      string

	emitterMu sync.RWMutex
	emitter   EventsEmitter

	// resolveCommand is swappable so tests can spawn plain shell commands
	// instead of real package managers.
	resolveCommand func(worktreePath string) *StartCommand
}

// NewDevServerManager creates a manager using the configured port range and
// output pipeline tunables.
func NewDevServerManager(cfg *config.Config) *DevServerManager {
	return &DevServerManager{
		servers:        make(map[string]*devServerEntry),
		inFlight:       make(map[string]bool),
		allocator:      NewPortAllocator(cfg.DevServers),
		cfg:            cfg.DevServers,
		host:           cfg.Host,
		emitter:        noopEmitter{},
		resolveCommand: ResolveStartCommand,
	}
}

// SetEventsHandler attaches the host application's event hub.
func (m *DevServerManager) SetEventsHandler(emitter EventsEmitter) {
	m.emitterMu.Lock()
	defer m.emitterMu.Unlock()
	m.emitter = emitter
}

func (m *DevServerManager) events() EventsEmitter {
	m.emitterMu.RLock()
	defer m.emitterMu.RUnlock()
	return m.emitter
}

// Start launches a dev server for the worktree. Starting an already-running
// worktree is success and returns the existing entry unchanged; no second
// process is spawned. On any failure the reserved port is released and no
// entry is left behind.
func (m *DevServerManager) Start(projectPath, worktreePath string) (models.DevServerInfo, error) {
	m.mu.Lock()
	if existing, ok := m.servers[worktreePath]; ok {
		info := existing.info()
		m.mu.Unlock()
		return info, nil
	}
	if m.inFlight[worktreePath] {
		m.mu.Unlock()
		return models.DevServerInfo{}, fmt.Errorf("dev server for %s is already starting", worktreePath)
	}
	m.inFlight[worktreePath] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.inFlight, worktreePath)
		m.mu.Unlock()
	}()

	if info, err := os.Stat(worktreePath); err != nil || !info.IsDir() {
		return models.DevServerInfo{}, fmt.Errorf("%w: %s", ErrWorktreeNotFound, worktreePath)
	}

	startCmd := m.resolveCommand(worktreePath)
	if startCmd == nil {
		return models.DevServerInfo{}, fmt.Errorf("%w: %s", ErrManifestNotFound, worktreePath)
	}

	port, err := m.allocator.Allocate()
	if err != nil {
		return models.DevServerInfo{}, err
	}

	entry, exitCh, err := m.spawn(worktreePath, startCmd, port)
	if err != nil {
		m.allocator.Release(port)
		return models.DevServerInfo{}, err
	}

	// Grace period: a process that dies this quickly never started at all,
	// which is a different user-facing story than "started, later stopped".
	select {
	case waitErr := <-exitCh:
		entry.output.Stop()
		m.allocator.Release(port)
		exitCode, _ := exitStatus(waitErr)
		logger.Warnf("dev server for %s exited during startup (exit code %d)", worktreePath, exitCode)
		return models.DevServerInfo{}, fmt.Errorf("%w (exit code %d)", ErrEarlyExit, exitCode)
	case <-time.After(m.cfg.GracePeriod()):
	}

	m.mu.Lock()
	m.servers[worktreePath] = entry
	m.mu.Unlock()

	recovery.SafeGo("dev-server-watcher", func() {
		m.handleExit(entry, <-exitCh)
	})

	logger.Infof("dev server started for %s on port %d (%s %v)", worktreePath, port, startCmd.Command, startCmd.Args)
	m.events().EmitDevServerStarted(worktreePath, port, entry.url)
	return entry.info(), nil
}

// spawn launches the resolved command in the worktree with the allocated
// port injected, wiring both output streams into a fresh output buffer.
func (m *DevServerManager) spawn(worktreePath string, startCmd *StartCommand, port int) (*devServerEntry, chan error, error) {
	cmd := exec.Command(startCmd.Command, startCmd.Args...)
	cmd.Dir = worktreePath
	// Force color even though the child sees a pipe, not a terminal.
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("PORT=%d", port),
		"FORCE_COLOR=1",
		"CLICOLOR_FORCE=1",
	)
	configureSysProcAttr(cmd)

	entry := &devServerEntry{
		worktreePath: worktreePath,
		port:         port,
		url:          fmt.Sprintf("http://%s:%d", m.host, port),
		cmd:          cmd,
	}
	entry.output = NewOutputBuffer(m.cfg.ScrollbackLimit, m.cfg.OutputBatchSize, m.cfg.FlushInterval(), func(content string) {
		m.events().EmitDevServerOutput(worktreePath, content)
	})

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEarlyExit, err)
	}
	entry.startedAt = time.Now()

	recovery.SafeGo("dev-server-stdout", func() {
		readInto(entry.output, stdout)
	})
	recovery.SafeGo("dev-server-stderr", func() {
		readInto(entry.output, stderr)
	})

	exitCh := make(chan error, 1)
	recovery.SafeGo("dev-server-wait", func() {
		exitCh <- cmd.Wait()
	})

	return entry, exitCh, nil
}

// handleExit cleans up after a server that died on its own. If the entry was
// already stopping (caller-initiated terminate), everything here is skipped:
// the stop path owns the teardown and the caller needs no notification.
func (m *DevServerManager) handleExit(entry *devServerEntry, waitErr error) {
	m.mu.Lock()
	current, ok := m.servers[entry.worktreePath]
	if !ok || current != entry || entry.stopping {
		m.mu.Unlock()
		return
	}
	entry.stopping = true
	delete(m.servers, entry.worktreePath)
	m.mu.Unlock()

	entry.output.Stop()
	m.allocator.Release(entry.port)

	exitCode, errMsg := exitStatus(waitErr)
	logger.Infof("dev server for %s stopped (exit code %d)", entry.worktreePath, exitCode)
	m.events().EmitDevServerStopped(entry.worktreePath, entry.port, exitCode, errMsg)
}

// Stop terminates the worktree's dev server. A worktree with no entry is
// already stopped, which is success: the process may have crashed on its
// own and the caller must still be able to clear its state. The released
// port is returned, zero when nothing was running.
func (m *DevServerManager) Stop(worktreePath string) (int, error) {
	m.mu.Lock()
	entry, ok := m.servers[worktreePath]
	if !ok {
		m.mu.Unlock()
		return 0, nil
	}
	entry.stopping = true
	delete(m.servers, worktreePath)
	m.mu.Unlock()

	entry.output.Stop()
	killProcessTree(entry.cmd)
	m.allocator.Release(entry.port)

	logger.Infof("dev server for %s terminated, port %d released", worktreePath, entry.port)
	return entry.port, nil
}

// List returns a snapshot of all active dev servers, ordered by worktree
// path for stable output.
func (m *DevServerManager) List() []models.DevServerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]models.DevServerInfo, 0, len(m.servers))
	for _, entry := range m.servers {
		infos = append(infos, entry.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].WorktreePath < infos[j].WorktreePath
	})
	return infos
}

// GetLogs returns the worktree's scrollback for replay to a newly attached
// viewer, or ErrNotRunning when no server is registered.
func (m *DevServerManager) GetLogs(worktreePath string) (models.DevServerLogs, error) {
	m.mu.Lock()
	entry, ok := m.servers[worktreePath]
	m.mu.Unlock()

	if !ok {
		return models.DevServerLogs{}, fmt.Errorf("%w: %s", ErrNotRunning, worktreePath)
	}

	return models.DevServerLogs{
		WorktreePath: entry.worktreePath,
		Port:         entry.port,
		URL:          entry.url,
		Logs:         entry.output.History(),
		StartedAt:    entry.startedAt,
	}, nil
}

// StopAll sequentially stops every active dev server. Wired into the host
// process's shutdown path so no orphaned servers survive the parent's exit.
func (m *DevServerManager) StopAll() {
	m.mu.Lock()
	paths := make([]string, 0, len(m.servers))
	for path := range m.servers {
		paths = append(paths, path)
	}
	m.mu.Unlock()

	for _, path := range paths {
		if _, err := m.Stop(path); err != nil {
			logger.Warnf("failed to stop dev server for %s: %v", path, err)
		}
	}

	if len(paths) > 0 {
		logger.Infof("stopped %d dev server(s)", len(paths))
	}
}

// readInto pumps a process output stream into the buffer until EOF.
func readInto(output *OutputBuffer, r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			output.Append(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// exitStatus extracts an exit code and error message from a Wait result.
// Signal-terminated and unstartable processes report -1 plus the error text.
func exitStatus(waitErr error) (int, string) {
	if waitErr == nil {
		return 0, ""
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		if code >= 0 {
			return code, ""
		}
		// Signal-terminated: no exit code, so carry "signal: killed" etc.
		return code, exitErr.Error()
	}
	return -1, waitErr.Error()
}
