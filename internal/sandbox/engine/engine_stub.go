//go:build !linux

package engine

import (
	"context"

	"labyrinth/internal/sandbox"
	appErr "labyrinth/pkg/errors"
)

type stubEngine struct{}

// NewProvider returns a provider that always fails outside linux.
func NewProvider(cfg Config) (sandbox.Provider, error) {
	return &stubEngine{}, nil
}

func (s *stubEngine) Name() string { return "namespace" }

func (s *stubEngine) Execute(ctx context.Context, req sandbox.Request) (sandbox.Result, error) {
	return sandbox.Result{}, appErr.Newf(appErr.SandboxSystemError, "sandbox engine is only supported on linux")
}
