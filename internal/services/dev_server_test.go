package services

import (
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-dev/atelier/internal/config"
)

type stoppedEvent struct {
	worktreePath string
	port         int
	exitCode     int
	errMsg       string
}

// recordingEmitter captures everything the orchestrator reports.
type recordingEmitter struct {
	mu      sync.Mutex
	started []string
	output  []string
	stopped []stoppedEvent
}

func (r *recordingEmitter) EmitDevServerStarted(worktreePath string, port int, url string) {
	r.mu.Lock()
	r.started = append(r.started, worktreePath)
	r.mu.Unlock()
}

func (r *recordingEmitter) EmitDevServerOutput(worktreePath string, content string) {
	r.mu.Lock()
	r.output = append(r.output, content)
	r.mu.Unlock()
}

func (r *recordingEmitter) EmitDevServerStopped(worktreePath string, port int, exitCode int, errMsg string) {
	r.mu.Lock()
	r.stopped = append(r.stopped, stoppedEvent{worktreePath, port, exitCode, errMsg})
	r.mu.Unlock()
}

func (r *recordingEmitter) stoppedEvents() []stoppedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]stoppedEvent(nil), r.stopped...)
}

func (r *recordingEmitter) allOutput() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.output, "")
}

// newTestManager builds a manager with fast timings, a recording emitter,
// and a resolver that runs a plain shell command instead of npm.
func newTestManager(t *testing.T, basePort int, script string) (*DevServerManager, *recordingEmitter) {
	t.Helper()

	cfg := config.Defaults()
	cfg.DevServers.BasePort = basePort
	cfg.DevServers.MaxPort = basePort + 20
	cfg.DevServers.PortSettleMs = 0
	cfg.DevServers.AuxiliaryPorts = nil
	cfg.DevServers.GracePeriodMs = 150
	cfg.DevServers.FlushIntervalMs = 5

	manager := NewDevServerManager(cfg)
	manager.allocator = NewPortAllocatorWithKiller(cfg.DevServers, &fakeKiller{})
	manager.resolveCommand = func(string) *StartCommand {
		return &StartCommand{Command: "sh", Args: []string{"-c", script}}
	}

	emitter := &recordingEmitter{}
	manager.SetEventsHandler(emitter)

	t.Cleanup(manager.StopAll)
	return manager, emitter
}

func TestDevServerManager_Start_HappyPath(t *testing.T) {
	manager, emitter := newTestManager(t, 43101, `echo "PORT=$PORT"; sleep 30`)
	worktree := t.TempDir()

	info, err := manager.Start("/proj", worktree)
	require.NoError(t, err)
	assert.Equal(t, worktree, info.WorktreePath)
	assert.Equal(t, 43101, info.Port)
	assert.Equal(t, "http://localhost:43101", info.URL)
	assert.Greater(t, info.PID, 0)
	assert.False(t, info.StartedAt.IsZero())

	// The allocated port is injected into the child's environment and its
	// output flows through the throttled pipeline.
	require.Eventually(t, func() bool {
		return strings.Contains(emitter.allOutput(), "PORT=43101")
	}, 3*time.Second, 10*time.Millisecond)

	logs, err := manager.GetLogs(worktree)
	require.NoError(t, err)
	assert.Contains(t, logs.Logs, "PORT=43101")
	assert.Equal(t, 43101, logs.Port)
}

func TestDevServerManager_Start_Idempotent(t *testing.T) {
	manager, _ := newTestManager(t, 43201, "sleep 30")
	worktree := t.TempDir()

	first, err := manager.Start("/proj", worktree)
	require.NoError(t, err)

	second, err := manager.Start("/proj", worktree)
	require.NoError(t, err)

	assert.Equal(t, first.Port, second.Port)
	assert.Equal(t, first.URL, second.URL)
	assert.Equal(t, first.PID, second.PID, "no second process spawned")
	assert.Len(t, manager.List(), 1)
}

func TestDevServerManager_Start_WorktreeNotFound(t *testing.T) {
	manager, _ := newTestManager(t, 43301, "sleep 30")

	_, err := manager.Start("/proj", "/nonexistent/worktree/path")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorktreeNotFound)
	assert.Empty(t, manager.List())
}

func TestDevServerManager_Start_ManifestNotFound(t *testing.T) {
	manager, _ := newTestManager(t, 43351, "sleep 30")
	manager.resolveCommand = ResolveStartCommand

	_, err := manager.Start("/proj", t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrManifestNotFound)
	assert.Empty(t, manager.List())
}

func TestDevServerManager_Start_EarlyExitFailure(t *testing.T) {
	manager, emitter := newTestManager(t, 43401, "exit 3")
	worktree := t.TempDir()

	_, err := manager.Start("/proj", worktree)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEarlyExit)

	// Nothing registered, no events, and the port is immediately reusable.
	assert.Empty(t, manager.List())
	assert.Empty(t, emitter.stoppedEvents())
	assert.False(t, manager.allocator.Reserved(43401))

	manager.resolveCommand = func(string) *StartCommand {
		return &StartCommand{Command: "sh", Args: []string{"-c", "sleep 30"}}
	}
	info, err := manager.Start("/proj", worktree)
	require.NoError(t, err)
	assert.Equal(t, 43401, info.Port)
}

func TestDevServerManager_ExitAfterGrace_CleansUpOnce(t *testing.T) {
	manager, emitter := newTestManager(t, 43501, "sleep 1; exit 7")
	worktree := t.TempDir()

	info, err := manager.Start("/proj", worktree)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(emitter.stoppedEvents()) > 0
	}, 5*time.Second, 20*time.Millisecond)

	stopped := emitter.stoppedEvents()
	require.Len(t, stopped, 1)
	assert.Equal(t, worktree, stopped[0].worktreePath)
	assert.Equal(t, info.Port, stopped[0].port)
	assert.Equal(t, 7, stopped[0].exitCode)

	assert.Empty(t, manager.List())
	assert.False(t, manager.allocator.Reserved(info.Port))

	// Stop after the crash is still success and emits nothing further.
	port, err := manager.Stop(worktree)
	require.NoError(t, err)
	assert.Equal(t, 0, port)
	assert.Len(t, emitter.stoppedEvents(), 1)
}

func TestDevServerManager_SignalDeath_ReportsError(t *testing.T) {
	// A server killed by a signal has no exit code; the stopped event
	// carries -1 plus the signal description instead.
	manager, emitter := newTestManager(t, 43551, "sleep 0.3; kill -KILL $$")
	worktree := t.TempDir()

	_, err := manager.Start("/proj", worktree)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(emitter.stoppedEvents()) > 0
	}, 5*time.Second, 20*time.Millisecond)

	stopped := emitter.stoppedEvents()
	require.Len(t, stopped, 1)
	assert.Equal(t, -1, stopped[0].exitCode)
	assert.Contains(t, stopped[0].errMsg, "signal")
}

func TestExitStatus(t *testing.T) {
	code, msg := exitStatus(nil)
	assert.Equal(t, 0, code)
	assert.Empty(t, msg)

	err := exec.Command("sh", "-c", "exit 3").Run()
	require.Error(t, err)
	code, msg = exitStatus(err)
	assert.Equal(t, 3, code)
	assert.Empty(t, msg)

	err = exec.Command("sh", "-c", "kill -KILL $$").Run()
	require.Error(t, err)
	code, msg = exitStatus(err)
	assert.Equal(t, -1, code)
	assert.Contains(t, msg, "signal")
}

func TestDevServerManager_Stop_Idempotent(t *testing.T) {
	manager, emitter := newTestManager(t, 43601, "sleep 30")

	port, err := manager.Stop("/never/started")
	require.NoError(t, err)
	assert.Equal(t, 0, port)
	assert.Empty(t, emitter.stoppedEvents())
}

func TestDevServerManager_Stop_SuppressesStoppedEvent(t *testing.T) {
	manager, emitter := newTestManager(t, 43701, "sleep 30")
	worktree := t.TempDir()

	info, err := manager.Start("/proj", worktree)
	require.NoError(t, err)

	port, err := manager.Stop(worktree)
	require.NoError(t, err)
	assert.Equal(t, info.Port, port)
	assert.False(t, manager.allocator.Reserved(info.Port))

	// Caller-initiated stop: the exit watcher must not also fire a stopped
	// notification for the killed process.
	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, emitter.stoppedEvents())
	assert.Empty(t, manager.List())
}

func TestDevServerManager_StopThenGetLogs(t *testing.T) {
	manager, _ := newTestManager(t, 43801, "sleep 30")
	worktree := t.TempDir()

	_, err := manager.Start("/proj", worktree)
	require.NoError(t, err)

	_, err = manager.Stop(worktree)
	require.NoError(t, err)

	_, err = manager.GetLogs(worktree)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestDevServerManager_List_PortExclusivity(t *testing.T) {
	manager, _ := newTestManager(t, 43901, "sleep 30")

	worktreeA := t.TempDir()
	worktreeB := t.TempDir()

	_, err := manager.Start("/proj", worktreeA)
	require.NoError(t, err)
	_, err = manager.Start("/proj", worktreeB)
	require.NoError(t, err)

	servers := manager.List()
	require.Len(t, servers, 2)
	assert.NotEqual(t, servers[0].Port, servers[1].Port)
	assert.True(t, servers[0].WorktreePath < servers[1].WorktreePath, "list is sorted")
}

func TestDevServerManager_StopAll(t *testing.T) {
	manager, emitter := newTestManager(t, 44001, "sleep 30")

	_, err := manager.Start("/proj", t.TempDir())
	require.NoError(t, err)
	_, err = manager.Start("/proj", t.TempDir())
	require.NoError(t, err)
	require.Len(t, manager.List(), 2)

	manager.StopAll()

	assert.Empty(t, manager.List())
	assert.Empty(t, emitter.stoppedEvents())
}
