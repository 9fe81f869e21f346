package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ErrInvalid is wrapped by AsError so callers can detect configuration errors.
var ErrInvalid = errors.New("invalid configuration")

var validate = newValidator()

// newValidator reports struct fields by their YAML key.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks a SwarmConfig for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *SwarmConfig) []ValidationError {
	var errs []ValidationError

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, ValidationError{
					Field:   fieldPath(fe.Namespace()),
					Message: tagMessage(fe),
				})
			}
		} else {
			errs = append(errs, ValidationError{Field: "config", Message: err.Error()})
		}
	}

	validateDuration("cooldown", cfg.Cooldown, &errs)
	validateDuration("oracle.timeout", cfg.Oracle.Timeout, &errs)
	validateDuration("static_analysis.timeout", cfg.StaticAnalysis.Timeout, &errs)
	validateDuration("tests.timeout", cfg.Tests.Timeout, &errs)

	if !strings.Contains(cfg.Tests.Command, "{report}") && strings.Contains(cfg.Tests.Command, "--json-report") {
		errs = append(errs, ValidationError{
			Field:   "tests.command",
			Message: "--json-report requires a {report} placeholder for the report file",
		})
	}
	if cfg.StaticAnalysis.Enabled && !strings.Contains(cfg.StaticAnalysis.Command, "{file}") {
		errs = append(errs, ValidationError{
			Field:   "static_analysis.command",
			Message: "must contain a {file} placeholder",
		})
	}

	return errs
}

// CheckCredentials verifies that the configured oracle provider has an API
// key available. Ollama needs none.
func CheckCredentials(cfg *SwarmConfig, lookup func(string) (string, bool)) []ValidationError {
	if cfg.Oracle.Provider == "ollama" {
		return nil
	}
	envs := []string{cfg.Oracle.APIKeyEnv}
	if cfg.Oracle.Provider == "gemini" {
		envs = append(envs, "GEMINI_API_KEY")
	}
	for _, env := range envs {
		if env == "" {
			continue
		}
		if v, ok := lookup(env); ok && strings.TrimSpace(v) != "" {
			return nil
		}
	}
	return []ValidationError{{
		Field:   "oracle.api_key_env",
		Message: fmt.Sprintf("no API key found for provider %q (set %s)", cfg.Oracle.Provider, strings.Join(nonEmpty(envs), " or ")),
	}}
}

// AsError folds a list of validation errors into one error wrapping ErrInvalid.
func AsError(errs []ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func validateDuration(field, value string, errs *[]ValidationError) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", value)})
		return
	}
	if d < 0 {
		*errs = append(*errs, ValidationError{Field: field, Message: "must not be negative"})
	}
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "url":
		return "must be a valid URL"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

func nonEmpty(ss []string) []string {
	var out []string
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
