package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0644))
}

func TestResolveStartCommand_NoManifest(t *testing.T) {
	dir := t.TempDir()

	cmd := ResolveStartCommand(dir)
	assert.Nil(t, cmd)
}

func TestResolveStartCommand_ManifestOnly_FallsBackToNpm(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json")

	cmd := ResolveStartCommand(dir)
	require.NotNil(t, cmd)
	assert.Equal(t, "npm", cmd.Command)
	assert.Equal(t, []string{"run", "dev"}, cmd.Args)
}

func TestResolveStartCommand_DetectsManagers(t *testing.T) {
	tests := []struct {
		lockfile string
		command  string
		args     []string
	}{
		{"bun.lockb", "bun", []string{"run", "dev"}},
		{"bun.lock", "bun", []string{"run", "dev"}},
		{"pnpm-lock.yaml", "pnpm", []string{"run", "dev"}},
		{"yarn.lock", "yarn", []string{"dev"}},
		{"package-lock.json", "npm", []string{"run", "dev"}},
	}

	for _, tt := range tests {
		t.Run(tt.lockfile, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "package.json")
			writeFile(t, dir, tt.lockfile)

			cmd := ResolveStartCommand(dir)
			require.NotNil(t, cmd)
			assert.Equal(t, tt.command, cmd.Command)
			assert.Equal(t, tt.args, cmd.Args)
		})
	}
}

func TestResolveStartCommand_LockfilePriority(t *testing.T) {
	// Bun's lockfile wins over everything else when several are present.
	dir := t.TempDir()
	writeFile(t, dir, "package.json")
	writeFile(t, dir, "package-lock.json")
	writeFile(t, dir, "yarn.lock")
	writeFile(t, dir, "pnpm-lock.yaml")
	writeFile(t, dir, "bun.lockb")

	cmd := ResolveStartCommand(dir)
	require.NotNil(t, cmd)
	assert.Equal(t, "bun", cmd.Command)

	// Without bun, pnpm takes priority over yarn and npm.
	require.NoError(t, os.Remove(filepath.Join(dir, "bun.lockb")))
	cmd = ResolveStartCommand(dir)
	require.NotNil(t, cmd)
	assert.Equal(t, "pnpm", cmd.Command)
}

func TestResolveStartCommand_IgnoresDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "package.json"), 0755))

	assert.Nil(t, ResolveStartCommand(dir))
}
