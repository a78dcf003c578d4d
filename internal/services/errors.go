package services

import "errors"

// Failure kinds that propagate to callers of the dev-server registry. Every
// other failure (filesystem probes, port kills, auxiliary cleanup) is
// best-effort: logged locally and never allowed to abort the operation.
var (
	// ErrNoPortsAvailable means the allocator exhausted its range.
	ErrNoPortsAvailable = errors.New("no ports available in allocation range")

	// ErrWorktreeNotFound means the worktree directory does not exist.
	ErrWorktreeNotFound = errors.New("worktree directory not found")

	// ErrManifestNotFound means the worktree has no package.json, so there
	// is no resolvable dev command.
	ErrManifestNotFound = errors.New("no package manifest found in worktree")

	// ErrEarlyExit means the spawned dev server errored or exited within the
	// startup grace period and was never registered as running.
	ErrEarlyExit = errors.New("dev server exited during startup")

	// ErrNotRunning means no dev server is registered for the worktree.
	ErrNotRunning = errors.New("no dev server running for worktree")
)
