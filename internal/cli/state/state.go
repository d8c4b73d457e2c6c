package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PlayState remembers the last remote session so play can resume it.
type PlayState struct {
	BaseURL   string    `json:"base_url"`
	SessionID string    `json:"session_id"`
	MazeID    string    `json:"maze_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Resumable reports whether st refers to a session on baseURL.
func (st PlayState) Resumable(baseURL string) bool {
	return st.SessionID != "" && st.BaseURL == baseURL
}

func Load(path string) (PlayState, error) {
	var st PlayState
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("read play state failed: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse play state failed: %w", err)
	}
	return st, nil
}

func Save(path string, st PlayState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create play state dir failed: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal play state failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write play state failed: %w", err)
	}
	return nil
}

func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove play state failed: %w", err)
	}
	return nil
}
