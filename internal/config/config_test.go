package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// --- Default ---

func TestDefault_CoversAllSixKinds(t *testing.T) {
	cfg := Default()

	for _, kind := range []string{"memory", "filesystem", "git", "sqlite", "postgres", "checkpoint"} {
		if _, ok := cfg.Collaborators[kind]; !ok {
			t.Errorf("default roster missing collaborator %q", kind)
		}
	}
}

func TestDefault_RetryPolicy(t *testing.T) {
	cfg := Default()

	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.BaseDelay != 500*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 500ms", cfg.Retry.BaseDelay)
	}
	if cfg.Retry.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", cfg.Retry.MaxDelay)
	}
}

// --- Load ---

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Collaborators) != 6 {
		t.Errorf("collaborator count = %d, want 6", len(cfg.Collaborators))
	}
}

func TestLoad_OverlayMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	roster := `{
		"collaborators": {
			"memory": {"command": "my-memory-server", "args": ["--db", "/tmp/x"]}
		},
		"retry": {"max_attempts": 2}
	}`
	if err := os.WriteFile(RosterPath(dir), []byte(roster), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Collaborators["memory"].Command != "my-memory-server" {
		t.Errorf("memory command = %q, want my-memory-server", cfg.Collaborators["memory"].Command)
	}
	// Untouched entries keep their defaults.
	if cfg.Collaborators["git"].Command != "uvx" {
		t.Errorf("git command = %q, want uvx", cfg.Collaborators["git"].Command)
	}
	if cfg.Retry.MaxAttempts != 2 {
		t.Errorf("MaxAttempts = %d, want 2", cfg.Retry.MaxAttempts)
	}
	// Zero overlay fields must not clobber defaults.
	if cfg.Retry.BaseDelay != 500*time.Millisecond {
		t.Errorf("BaseDelay = %v, want default 500ms", cfg.Retry.BaseDelay)
	}
}

func TestLoad_MalformedRoster(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(RosterPath(dir), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(dir); err == nil {
		t.Error("Load should fail on malformed roster")
	}
}

// --- Save ---

func TestSave_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	cfg := Default()
	cfg.Collaborators["git"] = Collaborator{Command: "custom-git"}

	if err := Save(dir, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Collaborators["git"].Command != "custom-git" {
		t.Errorf("git command = %q, want custom-git", loaded.Collaborators["git"].Command)
	}
}

// --- Path helpers ---

func TestRosterPath(t *testing.T) {
	got := RosterPath("/home/user/.maestro")
	want := filepath.Join("/home/user/.maestro", RosterFile)
	if got != want {
		t.Errorf("RosterPath = %s, want %s", got, want)
	}
}
