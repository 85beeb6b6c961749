package editloop

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/martinemde/loom/llm"
)

// Duration is a time.Duration that round-trips through YAML in the
// "30s" / "5m" string form.
type Duration time.Duration

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// ThrottleConfig bounds the model call layer.
type ThrottleConfig struct {
	// Maximum in-flight model calls. Values below one serialize.
	Concurrency int64 `yaml:"concurrency"`
	// Retry policy for transient model errors.
	Retry llm.RetryPolicy `yaml:"retry"`
}

// Config holds session-level settings.
type Config struct {
	// Model name passed to the provider.
	Model string `yaml:"model"`
	// Dialect name used for prompt rendering and response parsing.
	Dialect string `yaml:"dialect"`
	// Maximum consecutive corrective steps before the session fails.
	RetryLimit int `yaml:"retry_limit"`
	// Disable all checks.
	NoCheck bool `yaml:"no_check"`
	// Per-check timeout. Zero means no timeout.
	CheckTimeout Duration `yaml:"check_timeout"`
	// Names of default-off checks to enable.
	Enable []string `yaml:"enable"`
	// Names of checks to disable.
	Disable []string `yaml:"disable"`
	// User-defined checks, appended to the built-in catalog.
	Checks []Check `yaml:"checks"`

	Throttle ThrottleConfig `yaml:"throttle"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Model:        "sonnet",
		Dialect:      "tags",
		RetryLimit:   3,
		CheckTimeout: Duration(5 * time.Minute),
		Throttle: ThrottleConfig{
			Concurrency: 1,
			Retry:       llm.DefaultRetryPolicy(),
		},
	}
}

// LoadConfig reads a YAML config file, layering it over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.RetryLimit < 0 {
		return cfg, fmt.Errorf("config %s: retry_limit must be non-negative", path)
	}
	return cfg, nil
}

// Throttled wraps a provider with the configured concurrency bound and
// retry policy. Engines expect their provider already throttled.
func (c Config) Throttled(provider llm.Provider, log *zap.Logger) llm.Provider {
	return llm.NewThrottle(provider, c.Throttle.Concurrency, c.Throttle.Retry, log)
}

// EnabledChecks returns the checks that apply under this configuration:
// the built-in catalog plus user-defined checks, filtered by the
// enable/disable lists and the default-off flags.
func (c Config) EnabledChecks() []Check {
	if c.NoCheck {
		return nil
	}
	enabled := make(map[string]bool, len(c.Enable))
	for _, name := range c.Enable {
		enabled[name] = true
	}
	disabled := make(map[string]bool, len(c.Disable))
	for _, name := range c.Disable {
		disabled[name] = true
	}

	var out []Check
	for _, check := range append(DefaultChecks(), c.Checks...) {
		if disabled[check.Name] {
			continue
		}
		if check.DefaultOff && !enabled[check.Name] {
			continue
		}
		out = append(out, check)
	}
	return out
}
