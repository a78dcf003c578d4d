//go:build !windows

package services

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/atelier-dev/atelier/internal/logger"
)

// unixKiller resolves the pids listening on a port with lsof and sends them
// SIGKILL. lsof is present on Linux and macOS alike, which keeps this one
// implementation working across the Unix-likes we care about.
type unixKiller struct{}

func newPlatformKiller() PortKiller {
	return &unixKiller{}
}

func (k *unixKiller) KillPort(port int) (int, error) {
	pids, err := k.pidsOnPort(port)
	if err != nil {
		return 0, err
	}

	killed := 0
	for _, pid := range pids {
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
			logger.Debugf("failed to kill pid %d on port %d: %v", pid, port, err)
			continue
		}
		logger.Infof("killed stale process %d holding port %d", pid, port)
		killed++
	}
	return killed, nil
}

// pidsOnPort finds processes listening on the port. lsof exits non-zero when
// nothing matches, which we treat as an empty result rather than an error.
func (k *unixKiller) pidsOnPort(port int) ([]int, error) {
	cmd := exec.Command("lsof", "-t", "-i", fmt.Sprintf("tcp:%d", port), "-sTCP:LISTEN")
	output, err := cmd.Output()
	if err != nil {
		return nil, nil
	}

	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}
