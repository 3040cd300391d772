// FILE: state.go
// Package main – Crash-safe persistence of the accounting that must survive
// a restart: daily PnL boundary, peak equity, guard window and status, and
// the per-instrument cooldown anchors.
//
// Writes go to a temp file first and rename into place, so a crash mid-write
// leaves the previous snapshot intact.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// BotState is the on-disk snapshot.
type BotState struct {
	SavedAt    time.Time            `json:"saved_at"`
	Risk       RiskSnapshot         `json:"risk"`
	Guard      GuardSnapshot        `json:"guard"`
	LastTrades map[string]time.Time `json:"last_trades"`
}

// saveState writes the snapshot atomically.
func saveState(path string, st BotState) error {
	if path == "" {
		return nil
	}
	st.SavedAt = time.Now().UTC()
	bs, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("state dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, bs, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, path)
}

// loadState reads a prior snapshot. A missing file returns ok=false with no
// error; the caller starts fresh.
func loadState(path string) (BotState, bool, error) {
	var st BotState
	if path == "" {
		return st, false, nil
	}
	bs, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return st, false, nil
	}
	if err != nil {
		return st, false, fmt.Errorf("read state: %w", err)
	}
	if err := json.Unmarshal(bs, &st); err != nil {
		return st, false, fmt.Errorf("parse state: %w", err)
	}
	return st, true, nil
}
