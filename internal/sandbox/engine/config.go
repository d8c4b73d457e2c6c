// Package engine runs submissions in Linux namespaces under a per-run cgroup,
// through the sandbox-init helper.
package engine

import (
	"net/http"
	"time"

	"labyrinth/internal/sandbox"
)

// Config controls sandbox engine behavior.
type Config struct {
	HelperPath     string
	CgroupRoot     string
	RootFS         string
	WorkRoot       string
	Python         string
	SeccompProfile string
	// Upstream serves look/move for the callback proxy. When nil the
	// request's CallbackURL is proxied instead.
	Upstream             http.Handler
	StdoutStderrMaxBytes int64
	Grace                time.Duration
	EnableSeccomp        bool
	EnableCgroup         bool
	EnableNamespaces     bool

	// unconfined lets package tests drive the process plumbing without
	// namespaces or cgroups.
	unconfined bool
}

const (
	defaultHelperPath = "sandbox-init"
	defaultPython     = "python3"

	// SandboxDir is where the scratch directory appears inside the rootfs.
	SandboxDir = "/sandbox"
	socketName = "maze.sock"
)

func (c *Config) applyDefaults() {
	if c.StdoutStderrMaxBytes <= 0 {
		c.StdoutStderrMaxBytes = sandbox.DefaultOutputMaxBytes
	}
	if c.HelperPath == "" {
		c.HelperPath = defaultHelperPath
	}
	if c.Python == "" {
		c.Python = defaultPython
	}
	if c.Grace <= 0 {
		c.Grace = 5 * time.Second
	}
}
