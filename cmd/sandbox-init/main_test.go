//go:build linux

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"labyrinth/internal/sandbox/engine"

	"github.com/seccomp/libseccomp-golang"
)

func TestDecodeAndValidateRequest(t *testing.T) {
	req, err := decodeRequest(strings.NewReader(`{"workDir":"/sandbox","cmd":["python3"],"enableNs":true,"rootFS":"/srv/root","scratchDir":"/tmp/s"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := validateRequest(req); err != nil {
		t.Fatalf("validate: %v", err)
	}

	cases := []engine.InitRequest{
		{WorkDir: "/sandbox"},
		{Cmd: []string{"python3"}},
		{Cmd: []string{"python3"}, WorkDir: "/sandbox", EnableNs: true},
		{Cmd: []string{"python3"}, WorkDir: "/sandbox", RootFS: "/srv/root"},
	}
	for i, tc := range cases {
		if err := validateRequest(tc); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}

	if _, err := decodeRequest(strings.NewReader("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestParseSeccompAction(t *testing.T) {
	cases := map[string]seccomp.ScmpAction{
		"SCMP_ACT_ALLOW":        seccomp.ActAllow,
		"scmp_act_kill":         seccomp.ActKillProcess,
		"SCMP_ACT_KILL_PROCESS": seccomp.ActKillProcess,
	}
	for in, want := range cases {
		got, err := parseSeccompAction(in)
		if err != nil || got != want {
			t.Fatalf("%s: got %v err %v", in, got, err)
		}
	}
	if _, err := parseSeccompAction("SCMP_ACT_TRACE"); err == nil {
		t.Fatalf("expected unsupported action error")
	}
}

func TestApplySeccompRejectsBadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	if err := os.WriteFile(path, []byte(`{"defaultAction":"SCMP_ACT_NOPE"}`), 0644); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	if err := applySeccomp(path); err == nil {
		t.Fatalf("expected bad default action to fail")
	}
	if err := applySeccomp(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected missing profile to fail")
	}
}
