//go:build linux

package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"labyrinth/internal/sandbox"
)

const cpuPeriod = 100000

func createRunCgroup(root, sessionID string) (string, func(), error) {
	if root == "" {
		return "", func() {}, fmt.Errorf("cgroup root is required")
	}
	cgroupPath := filepath.Join(root, fmt.Sprintf("%s-%d", sessionID, time.Now().UnixNano()))
	if err := os.Mkdir(cgroupPath, 0750); err != nil {
		return "", func() {}, fmt.Errorf("create cgroup path: %w", err)
	}
	cleanup := func() {
		_ = killCgroup(cgroupPath)
		// rmdir fails with EBUSY until the last member has been reaped.
		for i := 0; i < 50; i++ {
			err := os.Remove(cgroupPath)
			if err == nil || errors.Is(err, os.ErrNotExist) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	return cgroupPath, cleanup, nil
}

func applyCgroupLimits(cgroupPath string, limits sandbox.Limits) error {
	if err := writeCgroupValue(cgroupPath, "pids.max", strconv.Itoa(limits.PIDs)); err != nil {
		return err
	}
	memBytes := int64(limits.MemoryMB) * 1024 * 1024
	if err := writeCgroupValue(cgroupPath, "memory.max", strconv.FormatInt(memBytes, 10)); err != nil {
		return err
	}
	// Absent when swap accounting is off, in which case there is no swap to limit.
	if err := writeCgroupValue(cgroupPath, "memory.swap.max", "0"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := writeCgroupValue(cgroupPath, "cpu.max", cpuMax(limits.CPUShare)); err != nil {
		return err
	}
	return nil
}

func cpuMax(share float64) string {
	quota := int64(share * cpuPeriod)
	if quota < 1000 {
		quota = 1000
	}
	return fmt.Sprintf("%d %d", quota, cpuPeriod)
}

func killCgroup(cgroupPath string) error {
	if cgroupPath == "" {
		return nil
	}
	killPath := filepath.Join(cgroupPath, "cgroup.kill")
	if _, err := os.Stat(killPath); err != nil {
		return err
	}
	return os.WriteFile(killPath, []byte("1"), 0600)
}

func wasOomKilled(cgroupPath string) bool {
	if cgroupPath == "" {
		return false
	}
	data, err := os.ReadFile(filepath.Join(cgroupPath, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if fields[0] == "oom_kill" {
			val, _ := strconv.ParseInt(fields[1], 10, 64)
			return val > 0
		}
	}
	return false
}

func writeCgroupValue(cgroupPath, name, value string) error {
	return os.WriteFile(filepath.Join(cgroupPath, name), []byte(value), 0640)
}
