//go:build linux

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"labyrinth/internal/sandbox"
	"labyrinth/internal/sandbox/callback"
	"labyrinth/internal/sandbox/harness"
	appErr "labyrinth/pkg/errors"
	"labyrinth/pkg/utils/logger"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

const (
	tmpfsSizeMB = 10
	fileSizeMB  = 10
	maxOpenFile = 64
)

type linuxEngine struct {
	cfg    Config
	python []string
}

// NewProvider creates the Linux namespace provider.
func NewProvider(cfg Config) (sandbox.Provider, error) {
	cfg.applyDefaults()
	if !cfg.unconfined && (!cfg.EnableNamespaces || !cfg.EnableCgroup) {
		return nil, fmt.Errorf("namespaces and cgroups must both be enabled")
	}
	if cfg.EnableNamespaces && cfg.RootFS == "" {
		return nil, fmt.Errorf("rootfs is required when namespaces are enabled")
	}
	if cfg.EnableCgroup && cfg.CgroupRoot == "" {
		return nil, fmt.Errorf("cgroup root is required when cgroups are enabled")
	}
	python, err := shlex.Split(cfg.Python)
	if err != nil || len(python) == 0 {
		return nil, fmt.Errorf("invalid python command %q: %v", cfg.Python, err)
	}
	return &linuxEngine{cfg: cfg, python: python}, nil
}

func (e *linuxEngine) Name() string { return "namespace" }

func (e *linuxEngine) Execute(ctx context.Context, req sandbox.Request) (sandbox.Result, error) {
	if err := req.Validate(); err != nil {
		return sandbox.Result{}, err
	}
	ctx = logger.WithSession(ctx, req.SessionID)

	scratch, err := os.MkdirTemp(e.cfg.WorkRoot, "sandbox-")
	if err != nil {
		return sandbox.Result{}, appErr.Wrapf(err, appErr.SandboxSystemError, "create scratch dir failed")
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn(ctx, "remove scratch dir failed", zap.String("dir", scratch), zap.Error(err))
		}
	}()
	if err := os.Chmod(scratch, 0755); err != nil {
		return sandbox.Result{}, appErr.Wrapf(err, appErr.SandboxSystemError, "chmod scratch dir failed")
	}
	if err := harness.Install(scratch, req.Code); err != nil {
		return sandbox.Result{}, appErr.Wrap(err, appErr.SandboxSystemError)
	}

	upstream, err := e.upstream(req)
	if err != nil {
		return sandbox.Result{}, appErr.Wrap(err, appErr.SandboxSystemError)
	}
	proxy, err := callback.Listen(filepath.Join(scratch, socketName), req.SessionID, req.CallbackToken, upstream)
	if err != nil {
		return sandbox.Result{}, appErr.Wrap(err, appErr.SandboxSystemError)
	}
	defer func() { _ = proxy.Close() }()

	cgroupPath := ""
	var cgroupFD *os.File
	if e.cfg.EnableCgroup {
		var cleanup func()
		cgroupPath, cleanup, err = createRunCgroup(e.cfg.CgroupRoot, req.SessionID)
		if err != nil {
			return sandbox.Result{}, appErr.Wrap(err, appErr.SandboxSystemError)
		}
		defer cleanup()
		if err := applyCgroupLimits(cgroupPath, req.Limits); err != nil {
			return sandbox.Result{}, appErr.Wrapf(err, appErr.SandboxSystemError, "apply cgroup limits failed")
		}
		cgroupFD, err = os.Open(cgroupPath)
		if err != nil {
			return sandbox.Result{}, appErr.Wrapf(err, appErr.SandboxSystemError, "open cgroup failed")
		}
		defer cgroupFD.Close()
	}

	payload, err := json.Marshal(e.buildInitRequest(scratch, req))
	if err != nil {
		return sandbox.Result{}, fmt.Errorf("encode init request: %w", err)
	}

	cmd := exec.Command(e.cfg.HelperPath)
	cmd.SysProcAttr = buildSysProcAttr(e.cfg.EnableNamespaces, cgroupFD)
	cmd.Stdin = bytes.NewReader(payload)
	stdout := sandbox.NewCappedBuffer(e.cfg.StdoutStderrMaxBytes)
	stderr := sandbox.NewCappedBuffer(e.cfg.StdoutStderrMaxBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Grandchildren that escaped the kill must not hold Wait open forever.
	cmd.WaitDelay = time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return sandbox.Result{}, appErr.Wrapf(err, appErr.SandboxSystemError, "start helper failed")
	}
	pid := cmd.Process.Pid

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		timer := time.NewTimer(req.Limits.Timeout() + e.cfg.Grace)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			e.kill(pid, cgroupPath)
		case <-timer.C:
			timedOut.Store(true)
			e.kill(pid, cgroupPath)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	elapsed := time.Since(start)

	switch {
	case timedOut.Load():
		logger.Warn(ctx, "sandbox execution timed out", zap.Duration("elapsed", elapsed))
		res := sandbox.TimeoutResult(req.Limits)
		res.SessionID = req.SessionID
		res.Duration = elapsed
		res.Stderr = stderr.String()
		return res, nil
	case ctx.Err() != nil:
		return sandbox.Result{SessionID: req.SessionID, ExitCode: -1, Error: "Execution cancelled", Duration: elapsed}, ctx.Err()
	case cmd.ProcessState == nil:
		return sandbox.Result{}, appErr.Wrapf(waitErr, appErr.SandboxSystemError, "wait helper failed")
	}

	exitCode := exitCodeFromErr(waitErr, cmd.ProcessState)
	res := sandbox.ParseOutput(stdout.String(), stderr.String(), exitCode)
	sandbox.ApplyTermination(&res, signalOf(cmd.ProcessState), wasOomKilled(cgroupPath))
	if res.SessionID == "" {
		res.SessionID = req.SessionID
	}
	res.Duration = elapsed

	if stdout.Truncated() {
		logger.Warn(ctx, "sandbox stdout truncated", zap.Int64("max_bytes", e.cfg.StdoutStderrMaxBytes))
	}
	if exitCode != 0 && res.Stderr != "" {
		logger.Warn(ctx, "sandbox helper failed", zap.Int("exit_code", exitCode), zap.String("stderr", res.Stderr))
	}
	return res, nil
}

func (e *linuxEngine) upstream(req sandbox.Request) (http.Handler, error) {
	if e.cfg.Upstream != nil {
		return e.cfg.Upstream, nil
	}
	return callback.RemoteUpstream(req.CallbackURL)
}

func (e *linuxEngine) buildInitRequest(scratch string, req sandbox.Request) InitRequest {
	workDir := scratch
	rootFS := ""
	if e.cfg.EnableNamespaces {
		workDir = SandboxDir
		rootFS = e.cfg.RootFS
	}
	cmd := append([]string{}, e.python...)
	cmd = append(cmd, "-E", "-s",
		filepath.Join(workDir, harness.RunnerFile),
		filepath.Join(workDir, harness.UserCodeFile),
	)
	return InitRequest{
		ScratchDir: scratch,
		RootFS:     rootFS,
		WorkDir:    workDir,
		Cmd:        cmd,
		Env: []string{
			"PATH=/usr/local/bin:/usr/bin:/bin",
			"HOME=/tmp",
			"PYTHONDONTWRITEBYTECODE=1",
			"PYTHONUNBUFFERED=1",
			"SESSION_ID=" + req.SessionID,
			"API_URL=http://sandbox",
			"MAZE_SOCKET=" + filepath.Join(workDir, socketName),
		},
		Rlimits: Rlimits{
			CPUSeconds: uint64(req.Limits.TimeoutSeconds) + uint64(e.cfg.Grace/time.Second) + 1,
			FileSizeMB: fileSizeMB,
			NoFile:     maxOpenFile,
		},
		TmpfsSizeMB:    tmpfsSizeMB,
		SeccompProfile: e.cfg.SeccompProfile,
		EnableSeccomp:  e.cfg.EnableSeccomp && e.cfg.SeccompProfile != "",
		EnableNs:       e.cfg.EnableNamespaces,
	}
}

func (e *linuxEngine) kill(pid int, cgroupPath string) {
	if pid > 0 {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
	if cgroupPath != "" {
		if err := killCgroup(cgroupPath); err != nil {
			logger.Warn(context.Background(), "kill cgroup failed", zap.String("cgroup", cgroupPath), zap.Error(err))
		}
	}
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		if code := state.ExitCode(); code >= 0 {
			return code
		}
		if sig := signalOf(state); sig != 0 {
			return 128 + sig
		}
		return -1
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func signalOf(state *os.ProcessState) int {
	if state == nil {
		return 0
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return 0
	}
	return int(ws.Signal())
}

func buildSysProcAttr(enableNamespaces bool, cgroupFD *os.File) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if cgroupFD != nil {
		attr.UseCgroupFD = true
		attr.CgroupFD = int(cgroupFD.Fd())
	}
	if !enableNamespaces {
		return attr
	}

	// A fresh net namespace has only a down loopback, so the callback socket
	// is the one way out.
	attr.Cloneflags = uintptr(syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS |
		syscall.CLONE_NEWIPC | syscall.CLONE_NEWNET | syscall.CLONE_NEWUSER)
	attr.GidMappingsEnableSetgroups = false
	attr.UidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getuid(),
		Size:        1,
	}}
	attr.GidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getgid(),
		Size:        1,
	}}
	return attr
}
