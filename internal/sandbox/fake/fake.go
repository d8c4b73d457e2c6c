// Package fake is an in-process sandbox provider for tests. It runs a Go
// script against a look/move stepper instead of untrusted Python.
package fake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"labyrinth/internal/maze"
	"labyrinth/internal/sandbox"
)

// Stepper is the look/move surface a script sees.
type Stepper interface {
	Look(ctx context.Context) (maze.LookResult, error)
	Move(ctx context.Context, dir maze.Direction) (maze.MoveResult, error)
}

// Script plays one session. It must return once ctx is done. Anything
// written to out becomes the result output.
type Script func(ctx context.Context, s Stepper, out io.Writer) error

// Provider executes Script for every request.
type Provider struct {
	Script Script
	// Connect returns the stepper for a request's session.
	Connect func(req sandbox.Request) Stepper
	// Watchdog overrides the limits-derived deadline when positive.
	Watchdog time.Duration

	mu       sync.Mutex
	requests []sandbox.Request
	running  atomic.Int32
}

var _ sandbox.Provider = (*Provider)(nil)

func (p *Provider) Name() string { return "fake" }

// Requests returns the requests seen so far.
func (p *Provider) Requests() []sandbox.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]sandbox.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// Running reports scripts that have not returned yet.
func (p *Provider) Running() int {
	return int(p.running.Load())
}

func (p *Provider) Execute(ctx context.Context, req sandbox.Request) (sandbox.Result, error) {
	if err := req.Validate(); err != nil {
		return sandbox.Result{}, err
	}
	if p.Script == nil || p.Connect == nil {
		return sandbox.Result{}, fmt.Errorf("fake provider needs a script and a connector")
	}
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	wait := p.Watchdog
	if wait <= 0 {
		wait = req.Limits.Timeout() + sandbox.DefaultGrace
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	track := &tracker{inner: p.Connect(req)}
	var out bytes.Buffer
	done := make(chan error, 1)
	start := time.Now()
	p.running.Add(1)
	go func() {
		defer p.running.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- p.Script(runCtx, track, &out)
	}()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case err := <-done:
		res := sandbox.Result{
			Success:   err == nil,
			Output:    out.String(),
			SessionID: req.SessionID,
			Turns:     track.turns(),
			Completed: track.completed(),
			Duration:  time.Since(start),
		}
		if err != nil {
			res.Error = err.Error()
			res.ExitCode = 1
		}
		return res, nil
	case <-timer.C:
		cancel()
		<-done
		res := sandbox.TimeoutResult(req.Limits)
		res.Duration = time.Since(start)
		return res, nil
	case <-ctx.Done():
		cancel()
		<-done
		return sandbox.Result{ExitCode: -1, Error: "Execution cancelled"}, ctx.Err()
	}
}

// tracker mirrors what the Python client records: the last reported turn
// count and whether the exit was reached.
type tracker struct {
	inner Stepper

	mu   sync.Mutex
	n    int
	done bool
}

func (t *tracker) Look(ctx context.Context) (maze.LookResult, error) {
	return t.inner.Look(ctx)
}

func (t *tracker) Move(ctx context.Context, dir maze.Direction) (maze.MoveResult, error) {
	res, err := t.inner.Move(ctx, dir)
	if err != nil {
		return res, err
	}
	t.mu.Lock()
	t.n = res.Turns
	if res.Status == maze.MoveCompleted {
		t.done = true
	}
	t.mu.Unlock()
	return res, nil
}

func (t *tracker) turns() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

func (t *tracker) completed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// EngineConnector plays sessions directly against an in-process engine.
func EngineConnector(engine *maze.Engine) func(req sandbox.Request) Stepper {
	return func(req sandbox.Request) Stepper {
		return engineStepper{engine: engine, sessionID: req.SessionID}
	}
}

type engineStepper struct {
	engine    *maze.Engine
	sessionID string
}

func (s engineStepper) Look(ctx context.Context) (maze.LookResult, error) {
	if err := ctx.Err(); err != nil {
		return maze.LookResult{}, err
	}
	return s.engine.Look(s.sessionID)
}

func (s engineStepper) Move(ctx context.Context, dir maze.Direction) (maze.MoveResult, error) {
	if err := ctx.Err(); err != nil {
		return maze.MoveResult{}, err
	}
	return s.engine.Move(s.sessionID, dir)
}
