package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for durations that are also exposed to callers.
const (
	DefaultTestTimeout   = 60 * time.Second
	DefaultLintTimeout   = 30 * time.Second
	DefaultOracleTimeout = 2 * time.Minute
)

// Default test and lint commands. {report}, {targets} and {file} are
// substituted by the executors.
const (
	DefaultTestCommand = "python -m pytest -q --tb=long -p no:cacheprovider --json-report --json-report-file={report} {targets}"
	DefaultLintCommand = "python -m pylint --output-format=json2 {file}"
)

// defaultModels maps each oracle provider to the model used when none is set.
var defaultModels = map[string]string{
	"gemini": "gemini-2.5-flash",
	"openai": "gpt-4o-mini",
	"ollama": "qwen2.5-coder:7b",
}

// defaultKeyEnvs maps each hosted provider to the env var holding its API key.
var defaultKeyEnvs = map[string]string{
	"gemini": "GOOGLE_API_KEY",
	"openai": "OPENAI_API_KEY",
}

// Default returns the built-in configuration.
func Default() *SwarmConfig {
	return &SwarmConfig{
		MaxIterations:    3,
		MaxRetries:       2,
		SuccessThreshold: 1.0,
		Cooldown:         "2s",
		TestDir:          "tests",
		MaxDirectives:    10,
		Completeness: CompletenessConfig{
			MinLength: 50,
			MinRatio:  0.7,
		},
		Oracle: OracleConfig{
			Provider:          "gemini",
			Temperature:       0.2,
			RequestsPerMinute: 15,
			ParseRetries:      1,
			MaxSourceChars:    12000,
			Timeout:           "2m",
		},
		StaticAnalysis: StaticAnalysisConfig{
			Enabled: true,
			Command: DefaultLintCommand,
			Timeout: "30s",
		},
		Tests: TestsConfig{
			Command: DefaultTestCommand,
			Timeout: "60s",
		},
		History: HistoryConfig{Enabled: true},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads and parses a swarm configuration from the given YAML file path.
// Keys missing from the file keep their built-in defaults.
func Load(path string) (*SwarmConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes on top of the built-in defaults.
func Parse(data []byte) (*SwarmConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadDefault searches for a swarm config in standard locations and loads the
// first one found. Search order: ./swarm.yaml, ~/.swarm/config.yaml. When
// neither exists the built-in defaults are returned.
func LoadDefault() (*SwarmConfig, error) {
	candidates := []string{"swarm.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".swarm", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := Default()
	ApplyDefaults(cfg)
	return cfg, nil
}

// ApplyDefaults fills the values that depend on other fields. It is safe to
// call again after a field such as the oracle provider changes.
func ApplyDefaults(cfg *SwarmConfig) {
	o := &cfg.Oracle
	if o.Model == "" {
		o.Model = defaultModels[o.Provider]
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = defaultKeyEnvs[o.Provider]
	}

	if cfg.StateDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.StateDir = filepath.Join(home, ".swarm")
		}
	}
	if cfg.Tests.Command == "" {
		cfg.Tests.Command = DefaultTestCommand
	}
	if cfg.StaticAnalysis.Command == "" {
		cfg.StaticAnalysis.Command = DefaultLintCommand
	}
}
