package harness

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"labyrinth/internal/sandbox"
)

func TestInstallWritesHarnessAndCode(t *testing.T) {
	dir := t.TempDir()
	if err := Install(dir, "move('east')\n"); err != nil {
		t.Fatalf("install: %v", err)
	}
	for _, name := range []string{RunnerFile, ClientFile, UserCodeFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
		if info.Mode().Perm()&0o222 != 0 {
			t.Fatalf("%s is writable: %v", name, info.Mode())
		}
	}
	code, _ := os.ReadFile(filepath.Join(dir, UserCodeFile))
	if string(code) != "move('east')\n" {
		t.Fatalf("user code = %q", code)
	}
}

func TestRunnerEmitsResultMarker(t *testing.T) {
	if !bytes.Contains(Files()[RunnerFile], []byte("===RESULT===")) {
		t.Fatalf("runner does not print the result marker")
	}
	if !bytes.Contains(Files()[ClientFile], []byte("MAZE_SOCKET")) && !bytes.Contains(Files()[RunnerFile], []byte("MAZE_SOCKET")) {
		t.Fatalf("harness has no unix socket support")
	}
}

func TestClientSendsCallbackTokenHeader(t *testing.T) {
	if !bytes.Contains(Files()[ClientFile], []byte(`"`+sandbox.CallbackTokenHeader+`"`)) {
		t.Fatalf("client does not send %s", sandbox.CallbackTokenHeader)
	}
	if !bytes.Contains(Files()[RunnerFile], []byte(`os.environ.pop("SESSION_TOKEN"`)) {
		t.Fatalf("runner leaves the token in the user's environment")
	}
}
