package docker

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"labyrinth/internal/sandbox"
)

// fakeDocker writes a shell script standing in for the docker CLI. Every
// invocation is appended to the returned log file.
func fakeDocker(t *testing.T, onRun string) (string, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	script := `#!/bin/sh
echo "$@" >> ` + logPath + `
case "$1" in
run)
` + onRun + `
;;
network)
  if [ "$2" = "inspect" ]; then exit 1; fi
  exit 0
;;
esac
exit 0
`
	path := filepath.Join(dir, "docker")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("write fake docker: %v", err)
	}
	return path, logPath
}

func calls(t *testing.T, logPath string) []string {
	t.Helper()
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func testRequest() sandbox.Request {
	limits := sandbox.DefaultLimits()
	limits.TimeoutSeconds = 1
	return sandbox.Request{
		Code:        "move('east')",
		SessionID:   "sess_d",
		CallbackURL: "http://api:8000",
		Limits:      limits,
	}
}

func TestRunArgs(t *testing.T) {
	p, err := New(Config{Image: "img", Network: "net"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	args := strings.Join(p.runArgs("sandbox-abcd1234", "/tmp/x/user_code.py", testRequest()), " ")
	for _, want := range []string{
		"run --rm --name=sandbox-abcd1234",
		"--memory=256m --memory-swap=256m --cpus=0.5 --pids-limit=50",
		"--network=net --read-only --tmpfs=/tmp:size=10m,noexec",
		"--security-opt=no-new-privileges:true --cap-drop=ALL",
		"-e SESSION_ID=sess_d -e API_URL=http://api:8000 -e SESSION_TOKEN -v",
		"-v /tmp/x/user_code.py:/app/user_code.py:ro img",
	} {
		if !strings.Contains(args, want) {
			t.Fatalf("args %q missing %q", args, want)
		}
	}
}

func TestCommandPrefix(t *testing.T) {
	p, err := New(Config{Command: "sudo -n docker"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cmd := p.command("ps")
	if strings.Join(cmd.Args, " ") != "sudo -n docker ps" {
		t.Fatalf("args = %v", cmd.Args)
	}
	if _, err := New(Config{Command: `"unterminated`}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestExecutePassesTokenThroughEnvironment(t *testing.T) {
	bin, logPath := fakeDocker(t, `printf '===RESULT==={"success": true, "output": "%s"}\n' "$SESSION_TOKEN"`)
	p, err := New(Config{Command: bin, WorkRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	req := testRequest()
	req.CallbackToken = "tok-5f1c"
	res, err := p.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Output != "tok-5f1c" {
		t.Fatalf("container saw token %q", res.Output)
	}
	for _, call := range calls(t, logPath) {
		if strings.Contains(call, "tok-5f1c") {
			t.Fatalf("token on command line: %s", call)
		}
	}
}

func TestExecuteParsesResult(t *testing.T) {
	bin, _ := fakeDocker(t, `echo '===RESULT==={"success": true, "output": "done", "turns": 4, "completed": true}'`)
	p, err := New(Config{Command: bin, WorkRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := p.Execute(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || res.Turns != 4 || !res.Completed || res.SessionID != "sess_d" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestExecuteCapsOutput(t *testing.T) {
	bin, _ := fakeDocker(t, `head -c 5000 /dev/zero | tr '\0' 'a'; head -c 5000 /dev/zero | tr '\0' 'b' >&2`)
	p, err := New(Config{Command: bin, WorkRoot: t.TempDir(), OutputMaxBytes: 100})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := p.Execute(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(res.Output) != 100 || len(res.Stderr) != 100 {
		t.Fatalf("output not capped: stdout=%d stderr=%d", len(res.Output), len(res.Stderr))
	}
	if !res.Success {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestExecuteOOMExit(t *testing.T) {
	bin, _ := fakeDocker(t, "exit 137")
	p, _ := New(Config{Command: bin, WorkRoot: t.TempDir()})
	res, err := p.Execute(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success || !res.OOMKilled || res.Signal != "SIGKILL" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestExecuteTimeoutKillsContainer(t *testing.T) {
	bin, logPath := fakeDocker(t, "exec sleep 30")
	work := t.TempDir()
	p, _ := New(Config{Command: bin, WorkRoot: work, Grace: time.Millisecond})

	res, err := p.Execute(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.TimedOut || res.ExitCode != -1 || res.Error != "Execution timed out after 1 seconds" {
		t.Fatalf("unexpected result %+v", res)
	}
	log := calls(t, logPath)
	if len(log) != 2 || !strings.HasPrefix(log[1], "kill sandbox-") {
		t.Fatalf("calls = %v", log)
	}
	if !strings.Contains(log[0], strings.TrimPrefix(log[1], "kill ")) {
		t.Fatalf("killed a different container: %v", log)
	}
	entries, _ := os.ReadDir(work)
	if len(entries) != 0 {
		t.Fatalf("code dir left behind: %v", entries)
	}
}

func TestEnsureNetworkCreatesInternal(t *testing.T) {
	bin, logPath := fakeDocker(t, "exit 0")
	p, _ := New(Config{Command: bin, Network: "mazes"})
	if err := p.EnsureNetwork(context.Background()); err != nil {
		t.Fatalf("ensure network: %v", err)
	}
	log := calls(t, logPath)
	if len(log) != 2 || log[0] != "network inspect mazes" || log[1] != "network create --internal mazes" {
		t.Fatalf("calls = %v", log)
	}
}
