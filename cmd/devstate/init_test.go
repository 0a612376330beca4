package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnsureGitignore(t *testing.T) {
	root := t.TempDir()

	if err := ensureGitignore(root); err != nil {
		t.Fatalf("failed on missing .gitignore: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		t.Fatalf("failed to read .gitignore: %v", err)
	}
	for _, entry := range gitignoreEntries {
		if !strings.Contains(string(data), entry) {
			t.Errorf("expected entry %q in .gitignore", entry)
		}
	}

	// A second run must not duplicate entries.
	if err := ensureGitignore(root); err != nil {
		t.Fatalf("failed on existing .gitignore: %v", err)
	}
	after, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		t.Fatalf("failed to re-read .gitignore: %v", err)
	}
	if string(after) != string(data) {
		t.Errorf("second run changed .gitignore:\n%s", string(after))
	}
}

func TestEnsureGitignorePreservesExistingContent(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, ".gitignore")
	if err := os.WriteFile(path, []byte("node_modules/"), 0o644); err != nil {
		t.Fatalf("failed to seed .gitignore: %v", err)
	}

	if err := ensureGitignore(root); err != nil {
		t.Fatalf("failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read .gitignore: %v", err)
	}
	if !strings.HasPrefix(string(data), "node_modules/\n") {
		t.Errorf("existing content not preserved:\n%s", string(data))
	}
}
