package config

import "time"

// SwarmConfig is the top-level configuration structure parsed from swarm YAML.
type SwarmConfig struct {
	MaxIterations    int                  `yaml:"max_iterations" validate:"gte=1"`
	MaxRetries       int                  `yaml:"max_retries" validate:"gte=0"`
	SuccessThreshold float64              `yaml:"success_threshold" validate:"gte=0,lte=1"`
	Cooldown         string               `yaml:"cooldown"`
	StateDir         string               `yaml:"state_dir"`
	TestDir          string               `yaml:"test_dir" validate:"required"`
	Exclude          []string             `yaml:"exclude"`
	MaxDirectives    int                  `yaml:"max_directives" validate:"gte=1"`
	Completeness     CompletenessConfig   `yaml:"completeness"`
	Oracle           OracleConfig         `yaml:"oracle"`
	StaticAnalysis   StaticAnalysisConfig `yaml:"static_analysis"`
	Tests            TestsConfig          `yaml:"tests"`
	History          HistoryConfig        `yaml:"history"`
	Log              LogConfig            `yaml:"log"`
}

// CompletenessConfig holds the truncation heuristics for candidates.
type CompletenessConfig struct {
	MinLength int     `yaml:"min_length" validate:"gte=0"`
	MinRatio  float64 `yaml:"min_ratio" validate:"gte=0,lte=1"`
}

// OracleConfig selects and tunes the remediation oracle backend.
type OracleConfig struct {
	Provider          string  `yaml:"provider" validate:"oneof=gemini openai ollama"`
	Model             string  `yaml:"model" validate:"required"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	BaseURL           string  `yaml:"base_url" validate:"omitempty,url"`
	Temperature       float32 `yaml:"temperature" validate:"gte=0,lte=2"`
	RequestsPerMinute int     `yaml:"requests_per_minute" validate:"gte=0"`
	ParseRetries      int     `yaml:"parse_retries" validate:"gte=0,lte=5"`
	MaxSourceChars    int     `yaml:"max_source_chars" validate:"gte=0"`
	Timeout           string  `yaml:"timeout"`
}

// StaticAnalysisConfig configures the linter used during the audit phase.
type StaticAnalysisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Command string `yaml:"command"`
	Timeout string `yaml:"timeout"`
}

// TestsConfig configures the test executor.
type TestsConfig struct {
	Command string `yaml:"command" validate:"required"`
	Timeout string `yaml:"timeout"`
}

// HistoryConfig points at the run-history database. An empty DSN uses the
// SQLite file in the state directory; postgres:// DSNs use Postgres.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// LogConfig controls console verbosity. File, when set, receives a copy of
// the console output.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	File  string `yaml:"file"`
}

// CooldownDuration returns the parsed cooldown, or zero.
func (c *SwarmConfig) CooldownDuration() time.Duration {
	return parseDuration(c.Cooldown, 0)
}

// TestTimeout returns the parsed test executor timeout.
func (c *SwarmConfig) TestTimeout() time.Duration {
	return parseDuration(c.Tests.Timeout, DefaultTestTimeout)
}

// LintTimeout returns the parsed static analyzer timeout.
func (c *SwarmConfig) LintTimeout() time.Duration {
	return parseDuration(c.StaticAnalysis.Timeout, DefaultLintTimeout)
}

// OracleTimeout returns the parsed per-request oracle timeout.
func (c *SwarmConfig) OracleTimeout() time.Duration {
	return parseDuration(c.Oracle.Timeout, DefaultOracleTimeout)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
