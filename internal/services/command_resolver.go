package services

import (
	"os"
	"path/filepath"
)

// StartCommand is a resolved "run the dev script" invocation.
type StartCommand struct {
	Command string
	Args    []string
}

// lockfilePriority maps lockfiles to their package manager, probed in
// order. Bun ships two lockfile formats, binary and text.
var lockfilePriority = []struct {
	file    string
	manager string
}{
	{"bun.lockb", "bun"},
	{"bun.lock", "bun"},
	{"pnpm-lock.yaml", "pnpm"},
	{"yarn.lock", "yarn"},
	{"package-lock.json", "npm"},
}

// ResolveStartCommand detects the worktree's package manager from its
// lockfile and maps it to the conventional dev invocation. A package.json
// with no lockfile falls back to npm. Returns nil when there is no
// package.json at all.
func ResolveStartCommand(worktreePath string) *StartCommand {
	if !fileExists(filepath.Join(worktreePath, "package.json")) {
		return nil
	}

	manager := "npm"
	for _, lf := range lockfilePriority {
		if fileExists(filepath.Join(worktreePath, lf.file)) {
			manager = lf.manager
			break
		}
	}

	switch manager {
	case "bun":
		return &StartCommand{Command: "bun", Args: []string{"run", "dev"}}
	case "pnpm":
		return &StartCommand{Command: "pnpm", Args: []string{"run", "dev"}}
	case "yarn":
		return &StartCommand{Command: "yarn", Args: []string{"dev"}}
	default:
		return &StartCommand{Command: "npm", Args: []string{"run", "dev"}}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
