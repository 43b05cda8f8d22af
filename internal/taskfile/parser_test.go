package taskfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTaskFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestParseFullDescriptor(t *testing.T) {
	dir := t.TempDir()
	path := writeTaskFile(t, dir, "refactor-auth.yaml", `
task_id: refactor-auth
mode: code
priority: high
parallel_safety: SAFE
estimated_duration_minutes: 45
conflicts_with:
  - migrate-db
depends_on:
  - design-auth
modifies_files:
  - internal/auth/handler.go
  - internal\auth\middleware.go
reads_files:
  - internal/config/config.go
locked_resources:
  - go.mod
parallel_compatible: true
`)

	d, err := NewParser().Parse(path)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if d.TaskID != "refactor-auth" || d.Mode != "code" || d.Priority != "high" {
		t.Errorf("unexpected identity fields: %+v", d)
	}
	if d.ParallelSafety != "SAFE" || !d.ParallelCompatible {
		t.Errorf("unexpected safety fields: %+v", d)
	}
	if d.EstimatedDuration != 45*time.Minute {
		t.Errorf("expected 45m duration, got %v", d.EstimatedDuration)
	}
	if len(d.ConflictsWith) != 1 || d.ConflictsWith[0] != "migrate-db" {
		t.Errorf("unexpected conflicts: %v", d.ConflictsWith)
	}
	// Normalize runs on parse: backslashes become forward slashes.
	if d.ModifiesFiles[1] != "internal/auth/middleware.go" {
		t.Errorf("path not normalized: %v", d.ModifiesFiles)
	}
	targets := d.WriteTargets()
	if len(targets) != 3 {
		t.Errorf("expected modifies+locked as write targets, got %v", targets)
	}
}

func TestParseDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeTaskFile(t, dir, "fix-typo.yaml", `
modifies_files:
  - README.md
`)

	d, err := NewParser().Parse(path)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if d.TaskID != "fix-typo" {
		t.Errorf("task id should default to file name, got %q", d.TaskID)
	}
	if d.Mode != "unknown" || d.Priority != "medium" || d.ParallelSafety != "CONDITIONAL" {
		t.Errorf("defaults not applied: %+v", d)
	}
	if d.EstimatedDuration != time.Hour {
		t.Errorf("expected default 1h duration, got %v", d.EstimatedDuration)
	}
	if d.ParallelCompatible {
		t.Error("parallel_compatible should default to false")
	}
}

func TestParseErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := NewParser().Parse(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeTaskFile(t, dir, "broken.yaml", "task_id: [unclosed\n  bad: : indent")
	if _, err := NewParser().Parse(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestParseDir(t *testing.T) {
	dir := t.TempDir()
	writeTaskFile(t, dir, "t1.yaml", "task_id: t1\n")
	writeTaskFile(t, dir, "t2.yml", "task_id: t2\n")
	writeTaskFile(t, dir, "broken.yaml", "task_id: [unclosed\n  bad: : indent")
	writeTaskFile(t, dir, "notes.txt", "not a task file")

	descriptors, errs := NewParser().ParseDir(dir)
	if len(descriptors) != 2 {
		t.Errorf("expected 2 descriptors, got %d", len(descriptors))
	}
	if len(errs) != 1 {
		t.Errorf("expected 1 parse error, got %v", errs)
	}

	ids := make(map[string]bool)
	for _, d := range descriptors {
		ids[d.TaskID] = true
	}
	if !ids["t1"] || !ids["t2"] {
		t.Errorf("unexpected descriptor set: %v", ids)
	}
}
