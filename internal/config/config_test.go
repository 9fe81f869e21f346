package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `
max_iterations: 5
max_retries: 1
success_threshold: 0.8
cooldown: "0s"
test_dir: tests
exclude:
  - "migrations/**"
max_directives: 6
completeness:
  min_length: 40
  min_ratio: 0.6
oracle:
  provider: openai
  requests_per_minute: 0
  parse_retries: 2
static_analysis:
  enabled: false
tests:
  timeout: "90s"
history:
  dsn: "postgres://swarm@localhost:5432/swarm"
log:
  level: debug
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "swarm.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.MaxIterations != 5 {
		t.Errorf("MaxIterations = %d, want 5", cfg.MaxIterations)
	}
	if cfg.SuccessThreshold != 0.8 {
		t.Errorf("SuccessThreshold = %v, want 0.8", cfg.SuccessThreshold)
	}
	if cfg.CooldownDuration() != 0 {
		t.Errorf("CooldownDuration = %v, want 0", cfg.CooldownDuration())
	}
	if cfg.TestTimeout() != 90*time.Second {
		t.Errorf("TestTimeout = %v, want 90s", cfg.TestTimeout())
	}
	if cfg.Oracle.Model != "gpt-4o-mini" {
		t.Errorf("Oracle.Model = %q, want openai default", cfg.Oracle.Model)
	}
	if cfg.Oracle.APIKeyEnv != "OPENAI_API_KEY" {
		t.Errorf("Oracle.APIKeyEnv = %q, want OPENAI_API_KEY", cfg.Oracle.APIKeyEnv)
	}
	if cfg.Oracle.RequestsPerMinute != 0 {
		t.Errorf("RequestsPerMinute = %d, want explicit 0", cfg.Oracle.RequestsPerMinute)
	}
	if cfg.StaticAnalysis.Enabled {
		t.Error("StaticAnalysis.Enabled should be false")
	}
	if cfg.Tests.Command != DefaultTestCommand {
		t.Errorf("Tests.Command = %q, want default", cfg.Tests.Command)
	}

	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.MaxIterations != 3 {
		t.Errorf("MaxIterations = %d, want 3", cfg.MaxIterations)
	}
	if cfg.SuccessThreshold != 1.0 {
		t.Errorf("SuccessThreshold = %v, want 1.0", cfg.SuccessThreshold)
	}
	if cfg.CooldownDuration() != 2*time.Second {
		t.Errorf("CooldownDuration = %v, want 2s", cfg.CooldownDuration())
	}
	if cfg.LintTimeout() != 30*time.Second {
		t.Errorf("LintTimeout = %v, want 30s", cfg.LintTimeout())
	}
	if cfg.Oracle.Provider != "gemini" || cfg.Oracle.Model == "" {
		t.Errorf("Oracle = %+v, want gemini with a model", cfg.Oracle)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/swarm.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTestConfig(t, "max_iterations: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestValidate_ThresholdOutOfRange(t *testing.T) {
	for _, th := range []float64{-0.1, 1.5} {
		cfg, _ := Parse([]byte("{}"))
		cfg.SuccessThreshold = th

		errs := Validate(cfg)
		if !hasField(errs, "success_threshold") {
			t.Errorf("threshold %v: errors = %v, want success_threshold error", th, errs)
		}
	}
}

func TestValidate_Structural(t *testing.T) {
	cfg, _ := Parse([]byte("{}"))
	cfg.MaxIterations = 0
	cfg.MaxRetries = -1
	cfg.Oracle.Provider = "claude"
	cfg.Cooldown = "soon"
	cfg.Log.Level = "loud"

	errs := Validate(cfg)
	for _, field := range []string{"max_iterations", "max_retries", "oracle.provider", "cooldown", "log.level"} {
		if !hasField(errs, field) {
			t.Errorf("expected error for %s, got %v", field, errs)
		}
	}
}

func TestValidate_ReportPlaceholder(t *testing.T) {
	cfg, _ := Parse([]byte("{}"))
	cfg.Tests.Command = "pytest --json-report"
	if !hasField(Validate(cfg), "tests.command") {
		t.Error("expected tests.command error for missing {report}")
	}
}

func TestCheckCredentials(t *testing.T) {
	cfg, _ := Parse([]byte("{}"))

	none := func(string) (string, bool) { return "", false }
	if errs := CheckCredentials(cfg, none); len(errs) != 1 {
		t.Fatalf("errs = %v, want 1 error", errs)
	}

	alt := func(k string) (string, bool) {
		if k == "GEMINI_API_KEY" {
			return "key", true
		}
		return "", false
	}
	if errs := CheckCredentials(cfg, alt); len(errs) != 0 {
		t.Errorf("GEMINI_API_KEY should satisfy gemini: %v", errs)
	}

	cfg.Oracle.Provider = "ollama"
	if errs := CheckCredentials(cfg, none); len(errs) != 0 {
		t.Errorf("ollama needs no key: %v", errs)
	}
}

func TestAsError(t *testing.T) {
	if AsError(nil) != nil {
		t.Error("AsError(nil) should be nil")
	}
	err := AsError([]ValidationError{{Field: "a", Message: "bad"}})
	if !errors.Is(err, ErrInvalid) {
		t.Error("expected ErrInvalid")
	}
	if !strings.Contains(err.Error(), "a: bad") {
		t.Errorf("error = %v", err)
	}
}

func hasField(errs []ValidationError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}
