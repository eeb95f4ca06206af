package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// The command tree keeps its flags in package state, so these tests run
// sequentially.

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func writeYAML(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "rtcore.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunOnceThenJournal(t *testing.T) {
	dir := t.TempDir()
	cfg := writeYAML(t, dir, `
logging:
  level: error
runtime:
  tick_interval: 1ms
storage:
  driver: file
  path: `+filepath.ToSlash(filepath.Join(dir, "rtcore.db"))+`
`)

	out, err := execute(t, "run", "--once", "--config", cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if want := "40.000000\nhello world from typescript!\nhello 2!\n246.000000\n"; out != want {
		t.Fatalf("run output = %q, want %q", out, want)
	}

	out, err = execute(t, "journal", "-c", cfg, "-n", "100")
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if !strings.Contains(out, "object.destroyed") || !strings.Contains(out, "task.executed") {
		t.Fatalf("journal output missing lifecycle entries:\n%s", out)
	}
}

func TestRootRunsWithoutSubcommand(t *testing.T) {
	cfg := writeYAML(t, t.TempDir(), "logging:\n  level: error\nruntime:\n  tick_interval: 1ms\n")
	out, err := execute(t, "--once", "-c", cfg)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if !strings.HasPrefix(out, "40.000000\n") {
		t.Fatalf("root output = %q", out)
	}
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	good := writeYAML(t, dir, `
runtime:
  timezone: UTC
  strict_refcount: true
schedules:
  - name: stats
    spec: every:1m
    action: snapshot
`)
	out, err := execute(t, "check", "-c", good)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	for _, want := range []string{"Timezone: UTC", "Strict:   true", "Journal:  none", "stats"} {
		if !strings.Contains(out, want) {
			t.Fatalf("check output missing %q:\n%s", want, out)
		}
	}

	bad := writeYAML(t, t.TempDir(), "schedules:\n  - name: x\n    spec: every:1m\n    action: explode\n")
	if _, err := execute(t, "check", "-c", bad); err == nil {
		t.Fatal("check should reject unknown schedule action")
	}
}

func TestJournalRequiresStorage(t *testing.T) {
	cfg := writeYAML(t, t.TempDir(), "logging:\n  level: error\n")
	if _, err := execute(t, "journal", "-c", cfg); err == nil {
		t.Fatal("journal without storage should fail")
	}
}
