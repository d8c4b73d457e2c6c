// Package sandbox defines the isolated execution interface used by the grading worker.
package sandbox

import (
	"context"
	"time"

	appErr "labyrinth/pkg/errors"
)

// ResultMarker separates user output from the runner's JSON result on stdout.
const ResultMarker = "===RESULT==="

// CallbackTokenHeader carries the session's callback token on look and move
// requests that come from a sandbox rather than a user.
const CallbackTokenHeader = "X-Sandbox-Token"

// DefaultGrace is added to the timeout before the watchdog fires.
const DefaultGrace = 5 * time.Second

// Limits bounds one execution. Every field must be set.
type Limits struct {
	TimeoutSeconds int     `yaml:"timeoutSeconds" json:"timeout_seconds"`
	MemoryMB       int     `yaml:"memoryMB" json:"memory_mb"`
	CPUShare       float64 `yaml:"cpuShare" json:"cpu_share"`
	PIDs           int     `yaml:"pids" json:"pids"`
}

// DefaultLimits returns the production limits.
func DefaultLimits() Limits {
	return Limits{
		TimeoutSeconds: 300,
		MemoryMB:       256,
		CPUShare:       0.5,
		PIDs:           50,
	}
}

// Validate rejects incomplete or nonsensical limits.
func (l Limits) Validate() error {
	switch {
	case l.TimeoutSeconds <= 0:
		return appErr.New(appErr.SandboxLimitsInvalid).WithDetail("field", "timeout_seconds")
	case l.MemoryMB <= 0:
		return appErr.New(appErr.SandboxLimitsInvalid).WithDetail("field", "memory_mb")
	case l.CPUShare <= 0:
		return appErr.New(appErr.SandboxLimitsInvalid).WithDetail("field", "cpu_share")
	case l.PIDs <= 0:
		return appErr.New(appErr.SandboxLimitsInvalid).WithDetail("field", "pids")
	}
	return nil
}

// Timeout returns the configured run time as a duration.
func (l Limits) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// Request is one execution of user code against a maze session.
type Request struct {
	Code          string
	SessionID     string
	CallbackURL   string
	CallbackToken string
	Limits        Limits
}

// Validate checks that the request can be executed.
func (r Request) Validate() error {
	if r.SessionID == "" {
		return appErr.ValidationError("session_id", "session id is required")
	}
	if r.Code == "" {
		return appErr.ValidationError("code", "code is required")
	}
	return r.Limits.Validate()
}

// Result is the outcome of one execution.
type Result struct {
	Success   bool          `json:"success"`
	Output    string        `json:"output"`
	Error     string        `json:"error,omitempty"`
	ExitCode  int           `json:"exit_code"`
	TimedOut  bool          `json:"timed_out"`
	SessionID string        `json:"session_id,omitempty"`
	Turns     int           `json:"turns"`
	Completed bool          `json:"completed"`
	Signal    string        `json:"signal,omitempty"`
	OOMKilled bool          `json:"oom_killed"`
	Duration  time.Duration `json:"duration"`
	// Stderr is kept for operators and never shown to the submission owner.
	Stderr string `json:"-"`
}

// Provider runs code in an isolation context. Execute must release every
// resource it created before returning, including when ctx is cancelled.
type Provider interface {
	Name() string
	Execute(ctx context.Context, req Request) (Result, error)
}
