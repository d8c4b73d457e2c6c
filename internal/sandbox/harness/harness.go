// Package harness ships the Python runner and look/move client that execute
// inside every sandbox.
package harness

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

const (
	RunnerFile   = "runner.py"
	ClientFile   = "maze_client.py"
	UserCodeFile = "user_code.py"
)

//go:embed runner.py
var runner []byte

//go:embed maze_client.py
var client []byte

// Files returns the harness scripts keyed by file name.
func Files() map[string][]byte {
	return map[string][]byte{
		RunnerFile: runner,
		ClientFile: client,
	}
}

// Install writes the harness and the user's code into dir. Files are
// read-only for everyone so the sandboxed process cannot rewrite them.
func Install(dir, code string) error {
	files := Files()
	files[UserCodeFile] = []byte(code)
	for name, data := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o444); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
