//go:build windows

package services

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/atelier-dev/atelier/internal/logger"
)

// windowsKiller parses the netstat connection table to resolve the pid
// listening on a port, then forces it down with taskkill.
type windowsKiller struct{}

func newPlatformKiller() PortKiller {
	return &windowsKiller{}
}

func (k *windowsKiller) KillPort(port int) (int, error) {
	pids, err := k.pidsOnPort(port)
	if err != nil {
		return 0, err
	}

	killed := 0
	for _, pid := range pids {
		cmd := exec.Command("taskkill", "/F", "/PID", strconv.Itoa(pid))
		if err := cmd.Run(); err != nil {
			logger.Debugf("taskkill failed for pid %d on port %d: %v", pid, port, err)
			continue
		}
		logger.Infof("killed stale process %d holding port %d", pid, port)
		killed++
	}
	return killed, nil
}

func (k *windowsKiller) pidsOnPort(port int) ([]int, error) {
	cmd := exec.Command("netstat", "-ano", "-p", "tcp")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("netstat failed: %w", err)
	}

	suffix := fmt.Sprintf(":%d", port)
	seen := make(map[int]bool)
	var pids []int

	for _, line := range strings.Split(string(output), "\n") {
		fields := strings.Fields(line)
		// Proto Local Foreign State PID
		if len(fields) < 5 || fields[0] != "TCP" {
			continue
		}
		if !strings.HasSuffix(fields[1], suffix) || fields[3] != "LISTENING" {
			continue
		}
		pid, err := strconv.Atoi(fields[4])
		if err != nil || pid == 0 || seen[pid] {
			continue
		}
		seen[pid] = true
		pids = append(pids, pid)
	}
	return pids, nil
}
