// Package docker runs submissions in throwaway containers on an internal
// bridge network.
package docker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"labyrinth/internal/sandbox"
	"labyrinth/internal/sandbox/harness"
	appErr "labyrinth/pkg/errors"
	"labyrinth/pkg/utils/logger"

	"github.com/google/shlex"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultCommand = "docker"
	defaultImage   = "labyrinth-sandbox"
	defaultNetwork = "labyrinth-sandbox-net"
	killTimeout    = 10 * time.Second
)

// Config controls how containers are launched.
type Config struct {
	// Command is the docker invocation, e.g. "sudo -n docker".
	Command  string
	Image    string
	Network  string
	WorkRoot string
	Grace    time.Duration

	// OutputMaxBytes caps captured stdout and stderr per stream.
	OutputMaxBytes int64
}

// Provider executes submissions with docker run.
type Provider struct {
	cfg    Config
	prefix []string
}

var _ sandbox.Provider = (*Provider)(nil)

// New parses the docker command and fills in defaults.
func New(cfg Config) (*Provider, error) {
	if cfg.Command == "" {
		cfg.Command = defaultCommand
	}
	if cfg.Image == "" {
		cfg.Image = defaultImage
	}
	if cfg.Network == "" {
		cfg.Network = defaultNetwork
	}
	if cfg.Grace <= 0 {
		cfg.Grace = sandbox.DefaultGrace
	}
	if cfg.OutputMaxBytes <= 0 {
		cfg.OutputMaxBytes = sandbox.DefaultOutputMaxBytes
	}
	prefix, err := shlex.Split(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse docker command: %w", err)
	}
	if len(prefix) == 0 {
		return nil, fmt.Errorf("docker command is empty")
	}
	return &Provider{cfg: cfg, prefix: prefix}, nil
}

func (p *Provider) Name() string { return "docker" }

func (p *Provider) Execute(ctx context.Context, req sandbox.Request) (sandbox.Result, error) {
	if err := req.Validate(); err != nil {
		return sandbox.Result{}, err
	}
	ctx = logger.WithSession(ctx, req.SessionID)

	codeDir, err := os.MkdirTemp(p.cfg.WorkRoot, "sandbox-code-")
	if err != nil {
		return sandbox.Result{}, appErr.Wrapf(err, appErr.SandboxSystemError, "create code dir failed")
	}
	defer func() { _ = os.RemoveAll(codeDir) }()
	if err := os.Chmod(codeDir, 0755); err != nil {
		return sandbox.Result{}, appErr.Wrapf(err, appErr.SandboxSystemError, "chmod code dir failed")
	}
	codePath := filepath.Join(codeDir, harness.UserCodeFile)
	if err := os.WriteFile(codePath, []byte(req.Code), 0444); err != nil {
		return sandbox.Result{}, appErr.Wrapf(err, appErr.SandboxSystemError, "write user code failed")
	}

	name := "sandbox-" + uuid.NewString()[:8]
	cmd := p.command(p.runArgs(name, codePath, req)...)
	// The token reaches docker through its environment so it never shows up
	// in the host process list.
	cmd.Env = append(os.Environ(), "SESSION_TOKEN="+req.CallbackToken)
	stdout := sandbox.NewCappedBuffer(p.cfg.OutputMaxBytes)
	stderr := sandbox.NewCappedBuffer(p.cfg.OutputMaxBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return sandbox.Result{}, appErr.Wrapf(err, appErr.SandboxSystemError, "start docker failed")
	}

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		timer := time.NewTimer(req.Limits.Timeout() + p.cfg.Grace)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			p.kill(ctx, name, cmd)
		case <-timer.C:
			timedOut.Store(true)
			p.kill(ctx, name, cmd)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	elapsed := time.Since(start)

	switch {
	case timedOut.Load():
		logger.Warn(ctx, "container timed out", zap.String("container", name), zap.Duration("elapsed", elapsed))
		res := sandbox.TimeoutResult(req.Limits)
		res.SessionID = req.SessionID
		res.Duration = elapsed
		return res, nil
	case ctx.Err() != nil:
		return sandbox.Result{SessionID: req.SessionID, ExitCode: -1, Error: "Execution cancelled", Duration: elapsed}, ctx.Err()
	case cmd.ProcessState == nil:
		return sandbox.Result{}, appErr.Wrapf(waitErr, appErr.SandboxSystemError, "wait docker failed")
	}

	exitCode := cmd.ProcessState.ExitCode()
	res := sandbox.ParseOutput(stdout.String(), stderr.String(), exitCode)
	// docker reports OOM kills as 137.
	sandbox.ApplyTermination(&res, 0, false)
	if res.SessionID == "" {
		res.SessionID = req.SessionID
	}
	res.Duration = elapsed
	if stdout.Truncated() {
		logger.Warn(ctx, "container stdout truncated", zap.String("container", name), zap.Int64("max_bytes", p.cfg.OutputMaxBytes))
	}
	return res, nil
}

func (p *Provider) runArgs(name, codePath string, req sandbox.Request) []string {
	mem := strconv.Itoa(req.Limits.MemoryMB) + "m"
	return []string{
		"run", "--rm",
		"--name=" + name,
		"--memory=" + mem,
		"--memory-swap=" + mem,
		"--cpus=" + strconv.FormatFloat(req.Limits.CPUShare, 'f', -1, 64),
		"--pids-limit=" + strconv.Itoa(req.Limits.PIDs),
		"--network=" + p.cfg.Network,
		"--read-only",
		"--tmpfs=/tmp:size=10m,noexec",
		"--security-opt=no-new-privileges:true",
		"--cap-drop=ALL",
		"-e", "SESSION_ID=" + req.SessionID,
		"-e", "API_URL=" + req.CallbackURL,
		"-e", "SESSION_TOKEN",
		"-v", codePath + ":/app/" + harness.UserCodeFile + ":ro",
		p.cfg.Image,
	}
}

func (p *Provider) kill(ctx context.Context, name string, cmd *exec.Cmd) {
	killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), killTimeout)
	defer cancel()
	out, err := p.commandContext(killCtx, "kill", name).CombinedOutput()
	if err != nil {
		logger.Warn(ctx, "docker kill failed", zap.String("container", name), zap.String("output", strings.TrimSpace(string(out))), zap.Error(err))
	}
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// EnsureNetwork creates the sandbox network as an internal bridge when it
// does not exist yet.
func (p *Provider) EnsureNetwork(ctx context.Context) error {
	if err := p.commandContext(ctx, "network", "inspect", p.cfg.Network).Run(); err == nil {
		return nil
	}
	out, err := p.commandContext(ctx, "network", "create", "--internal", p.cfg.Network).CombinedOutput()
	if err != nil {
		return appErr.Wrapf(err, appErr.SandboxSystemError, "create sandbox network failed: %s", strings.TrimSpace(string(out)))
	}
	logger.Info(ctx, "sandbox network created", zap.String("network", p.cfg.Network))
	return nil
}

func (p *Provider) command(args ...string) *exec.Cmd {
	full := append(append([]string{}, p.prefix[1:]...), args...)
	return exec.Command(p.prefix[0], full...)
}

func (p *Provider) commandContext(ctx context.Context, args ...string) *exec.Cmd {
	full := append(append([]string{}, p.prefix[1:]...), args...)
	return exec.CommandContext(ctx, p.prefix[0], full...)
}
