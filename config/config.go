// Package config provides prefixed environment-variable loading and
// validation for the service's storage and integration settings. The
// CLI layer uses viper for flag/file/env precedence; this package is the
// lighter-weight loader for components that are configured from the
// environment alone (containers, tests, tooling).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig loads environment variables under an optional prefix, so
// NewEnvConfig("DPM").GetString("POSTGRES_URL", "") reads
// DPM_POSTGRES_URL.
type EnvConfig struct {
	prefix string
}

func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix == "" {
		return key
	}
	return ec.prefix + "_" + key
}

// GetString retrieves a string value with a default.
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		return value
	}
	return defaultValue
}

// MustGetString retrieves a required string value, panicking when it is
// absent. For settings the process cannot run without.
func (ec *EnvConfig) MustGetString(key string) string {
	value := os.Getenv(ec.buildKey(key))
	if value == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", ec.buildKey(key)))
	}
	return value
}

// GetInt retrieves an integer value with a default; unparsable values
// fall back.
func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	value := os.Getenv(ec.buildKey(key))
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// GetBool retrieves a boolean value; accepts true/1/yes/on and
// false/0/no/off.
func (ec *EnvConfig) GetBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(ec.buildKey(key))) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultValue
	}
}

// GetDuration retrieves a Go duration string value with a default.
func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(ec.buildKey(key))
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// GetStringSlice retrieves a comma-separated list.
func (ec *EnvConfig) GetStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(ec.buildKey(key))
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validator accumulates configuration errors so a misconfigured process
// reports everything wrong at once instead of failing one variable at a
// time.
type Validator struct {
	errors []string
}

func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

func (v *Validator) RequireInt(field string, value, min, max int) {
	if value < min || value > max {
		v.errors = append(v.errors, fmt.Sprintf("%s must be between %d and %d, got %d", field, min, max, value))
	}
}

func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive, got %d", field, value))
	}
}

func (v *Validator) RequireOneOf(field, value string, allowed []string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of %s, got %q", field, strings.Join(allowed, "|"), value))
}

func (v *Validator) IsValid() bool {
	return len(v.errors) == 0
}

func (v *Validator) Errors() []string {
	return v.errors
}

// Validate returns a single error summarizing every failure, nil when
// the configuration is valid.
func (v *Validator) Validate() error {
	if v.IsValid() {
		return nil
	}
	return fmt.Errorf("configuration invalid: %s", strings.Join(v.errors, "; "))
}
