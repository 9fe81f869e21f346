package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/refactorswarm/internal/db"
	"github.com/lucasnoah/refactorswarm/internal/pipeline"
)

func executeCommand(args ...string) (string, error) {
	configFile = ""
	resetHelpFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// resetHelpFlags clears --help state that cobra keeps on the shared command
// tree between Execute calls.
func resetHelpFlags(cmd *cobra.Command) {
	if f := cmd.Flags().Lookup("help"); f != nil {
		_ = f.Value.Set("false")
		f.Changed = false
	}
	for _, c := range cmd.Commands() {
		resetHelpFlags(c)
	}
}

// writeConfig writes a config whose state lives in a temp dir.
func writeConfig(t *testing.T, extra string) (path, stateDir string) {
	t.Helper()
	dir := t.TempDir()
	stateDir = filepath.Join(dir, "state")
	path = filepath.Join(dir, "swarm.yaml")
	content := "state_dir: " + stateDir + "\noracle:\n  provider: ollama\n" + extra
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, stateDir
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{"run", "status", "history", "config", "db", "templates", "version"}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestSubcommandHelp(t *testing.T) {
	cases := [][]string{
		{"run"},
		{"config", "show"},
		{"config", "validate"},
		{"history", "show"},
		{"history", "stats"},
		{"db", "migrate"},
		{"db", "reset"},
		{"templates", "install"},
	}
	for _, c := range cases {
		out, err := executeCommand(append(c, "--help")...)
		if err != nil {
			t.Errorf("%v --help failed: %v", c, err)
		}
		if out == "" {
			t.Errorf("%v --help produced no output", c)
		}
	}
}

func TestRunRequiresTargetDir(t *testing.T) {
	cfg, _ := writeConfig(t, "")
	_, err := executeCommand("run", "--config", cfg)
	if err == nil || !strings.Contains(err.Error(), "target-dir") {
		t.Fatalf("expected missing target-dir error, got %v", err)
	}
}

func TestRunMissingTarget(t *testing.T) {
	cfg, _ := writeConfig(t, "history:\n  enabled: false\n")
	missing := filepath.Join(t.TempDir(), "nope")
	_, err := executeCommand("run", "--config", cfg, "--target-dir", missing)
	if err == nil {
		t.Fatal("expected error for missing target dir")
	}
}

func TestRunRejectsBadThreshold(t *testing.T) {
	cfg, _ := writeConfig(t, "success_threshold: 1.5\n")
	_, err := executeCommand("run", "--config", cfg, "--target-dir", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "success_threshold") {
		t.Fatalf("expected threshold validation error, got %v", err)
	}
}

func TestConfigShow(t *testing.T) {
	cfg, stateDir := writeConfig(t, "max_iterations: 7\n")
	out, err := executeCommand("config", "show", "--config", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"max_iterations: 7", "state_dir: " + stateDir, "provider: ollama"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q:\n%s", want, out)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg, _ := writeConfig(t, "")
	out, err := executeCommand("config", "validate", "--config", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "valid") {
		t.Errorf("expected valid message, got: %s", out)
	}

	bad, _ := writeConfig(t, "max_iterations: 0\n")
	if _, err := executeCommand("config", "validate", "--config", bad); err == nil {
		t.Error("expected validation error for max_iterations 0")
	}
}

func TestTemplatesInstall(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "templates")
	out, err := executeCommand("templates", "install", "--dir", dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "fix.md") {
		t.Errorf("expected fix.md to be written, got: %s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "audit.md")); err != nil {
		t.Errorf("audit.md not installed: %v", err)
	}

	out, err = executeCommand("templates", "install", "--dir", dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "already present") {
		t.Errorf("expected second install to be a no-op, got: %s", out)
	}
}

func TestHistoryAndDB(t *testing.T) {
	cfg, stateDir := writeConfig(t, "")

	if _, err := executeCommand("db", "migrate", "--config", cfg); err != nil {
		t.Fatalf("db migrate: %v", err)
	}

	path, err := db.DefaultDBPath(stateDir)
	if err != nil {
		t.Fatal(err)
	}
	d, err := db.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.StartRun("run-0123456789", "/src/app", 3, 1.0); err != nil {
		t.Fatal(err)
	}
	if err := d.FinishRun("run-0123456789", db.RunSummary{Success: true, Reason: "all 4 tests passed", IterationsUsed: 1, TestsPassed: 4, TestsTotal: 4}); err != nil {
		t.Fatal(err)
	}
	d.Close()

	out, err := executeCommand("history", "--config", cfg)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "run-0123") || !strings.Contains(out, "success") {
		t.Errorf("history output missing run: %s", out)
	}

	out, err = executeCommand("history", "stats", "--config", cfg)
	if err != nil {
		t.Fatalf("history stats: %v", err)
	}
	if !strings.Contains(out, "1 finished, 1 succeeded") {
		t.Errorf("unexpected stats output: %s", out)
	}

	if _, err := executeCommand("db", "reset", "--config", cfg); err == nil {
		t.Error("expected reset without --yes to be refused")
	}
	if _, err := executeCommand("db", "reset", "--config", cfg, "--yes"); err != nil {
		t.Fatalf("db reset: %v", err)
	}
	out, err = executeCommand("history", "--config", cfg)
	if err != nil {
		t.Fatalf("history after reset: %v", err)
	}
	if !strings.Contains(out, "No runs recorded.") {
		t.Errorf("expected empty history after reset, got: %s", out)
	}
}

func TestStatusEmpty(t *testing.T) {
	cfg, _ := writeConfig(t, "")
	out, err := executeCommand("status", "--config", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No runs found.") {
		t.Errorf("expected no runs, got: %s", out)
	}
}

func TestRenderSummary(t *testing.T) {
	out := RenderSummary(&pipeline.Report{
		RunID:          "abc",
		Success:        true,
		Reason:         "success rate 80.0% meets threshold 80.0%",
		IterationsUsed: 2,
		MaxIterations:  3,
		TestsPassed:    4,
		TestsTotal:     5,
		SuccessRate:    0.8,
		Threshold:      0.8,
		Elapsed:        1500 * time.Millisecond,
	})
	for _, want := range []string{"SUCCESS", "2/3", "4/5 passed", "meets threshold"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	out = RenderSummary(&pipeline.Report{Reason: "interrupted before FIX", Interrupted: true})
	if !strings.Contains(out, "INTERRUPTED") {
		t.Errorf("expected INTERRUPTED, got:\n%s", out)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := executeCommand("nonexistent")
	if err == nil {
		t.Error("expected error for unknown command, got nil")
	}
}
