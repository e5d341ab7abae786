// Package config loads runtime configuration from an optional YAML file
// overridden by environment variables, using koanf the way the contextd
// example repo does: github.com/knadh/koanf/v2 with the rawbytes/yaml and
// env providers, rather than the teacher's scattered os.Getenv calls.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Timeout is a min/default/max bound for one operation class's timeout.
type Timeout struct {
	Default time.Duration `koanf:"default"`
	Min     time.Duration `koanf:"min"`
	Max     time.Duration `koanf:"max"`
}

// Clamp returns requested if it falls within [Min, Max], otherwise the
// nearer bound. A non-positive requested value yields Default.
func (t Timeout) Clamp(requested time.Duration) time.Duration {
	switch {
	case requested <= 0:
		return t.Default
	case requested < t.Min:
		return t.Min
	case requested > t.Max:
		return t.Max
	default:
		return requested
	}
}

// TimeoutClasses holds the per-operation-class timeout bounds named in
// spec.md §4.4: initialize, tool calls, resource reads, sampling,
// elicitation, completion, ping and shutdown each negotiate independently
// since a slow tool call shouldn't be bound by a ping's budget.
type TimeoutClasses struct {
	Initialize   Timeout `koanf:"initialize"`
	ToolCall     Timeout `koanf:"toolcall"`
	ResourceRead Timeout `koanf:"resourceread"`
	Sampling     Timeout `koanf:"sampling"`
	Elicitation  Timeout `koanf:"elicitation"`
	Completion   Timeout `koanf:"completion"`
	Ping         Timeout `koanf:"ping"`
	Shutdown     Timeout `koanf:"shutdown"`
	Cancellation Timeout `koanf:"cancellation"`
}

// HTTPConfig configures the Streamable HTTP transport.
type HTTPConfig struct {
	ListenAddr         string        `koanf:"listen_addr"`
	EndpointPath       string        `koanf:"endpoint_path"`
	SessionIdleTimeout time.Duration `koanf:"session_idle_timeout"`
	SSEBufferSize      int           `koanf:"sse_buffer_size"`
	ConcurrencyCap     int64         `koanf:"concurrency_cap"`
	AllowedOrigins     []string      `koanf:"allowed_origins"`
}

// AuthConfig configures the default token-validator hook.
type AuthConfig struct {
	Required  bool          `koanf:"required"`
	Audience  string        `koanf:"audience"`
	ClockSkew time.Duration `koanf:"clock_skew"`
	JWKSURL   string        `koanf:"jwks_url"`
}

// Config is the fully loaded, validated runtime configuration.
type Config struct {
	Timeouts       TimeoutClasses `koanf:"timeouts"`
	ProgressMinGap time.Duration  `koanf:"progress_min_gap"`
	HTTP           HTTPConfig     `koanf:"http"`
	Auth           AuthConfig     `koanf:"auth"`
}

// Load reads an optional YAML file at yamlPath (skipped if path is empty
// or the file does not exist), overrides it with MCPCORE_-prefixed
// environment variables, applies defaults for anything still unset, and
// validates the resulting timeout bounds.
func Load(yamlPath string) (*Config, error) {
	k := koanf.New(".")

	if yamlPath != "" {
		if content, err := os.ReadFile(yamlPath); err == nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config: load yaml %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read yaml %s: %w", yamlPath, err)
		}
	}

	if err := k.Load(env.Provider("MCPCORE_", ".", envKeyTransform), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Timeouts.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKeyTransform maps an MCPCORE_-prefixed environment variable to the
// dotted koanf key it overrides, the way contextd's loader does:
// section_field -> section.field. Timeouts nest one level deeper
// (timeouts_toolcall_default -> timeouts.toolcall.default), so that
// section alone joins up to two underscores into dots and leaves the
// rest of the name as the leaf key. A flat scalar with no recognized
// section (progress_min_gap) is left untouched since its koanf tag has
// no dot in it at all.
func envKeyTransform(s string) string {
	trimmed := strings.TrimPrefix(s, "MCPCORE_")
	lower := strings.ToLower(trimmed)
	parts := strings.Split(lower, "_")
	if len(parts) == 1 {
		return lower
	}
	switch parts[0] {
	case "timeouts":
		if len(parts) >= 3 {
			return parts[0] + "." + parts[1] + "." + strings.Join(parts[2:], "_")
		}
		return strings.Join(parts, ".")
	case "http", "auth":
		return parts[0] + "." + strings.Join(parts[1:], "_")
	default:
		return strings.Join(parts, "_")
	}
}

func applyDefaults(cfg *Config) {
	setTimeoutDefault(&cfg.Timeouts.Initialize, 10*time.Second, time.Second, 60*time.Second)
	setTimeoutDefault(&cfg.Timeouts.ToolCall, 30*time.Second, time.Second, 10*time.Minute)
	setTimeoutDefault(&cfg.Timeouts.ResourceRead, 15*time.Second, time.Second, 5*time.Minute)
	setTimeoutDefault(&cfg.Timeouts.Sampling, 60*time.Second, time.Second, 10*time.Minute)
	setTimeoutDefault(&cfg.Timeouts.Elicitation, 120*time.Second, time.Second, 30*time.Minute)
	setTimeoutDefault(&cfg.Timeouts.Completion, 10*time.Second, time.Second, 60*time.Second)
	setTimeoutDefault(&cfg.Timeouts.Ping, 5*time.Second, time.Second, 30*time.Second)
	setTimeoutDefault(&cfg.Timeouts.Shutdown, 10*time.Second, time.Second, 60*time.Second)
	setTimeoutDefault(&cfg.Timeouts.Cancellation, 5*time.Second, time.Second, 30*time.Second)

	if cfg.ProgressMinGap == 0 {
		cfg.ProgressMinGap = 500 * time.Millisecond
	}
	if cfg.HTTP.ListenAddr == "" {
		cfg.HTTP.ListenAddr = ":8080"
	}
	if cfg.HTTP.EndpointPath == "" {
		cfg.HTTP.EndpointPath = "/mcp"
	}
	if cfg.HTTP.SessionIdleTimeout == 0 {
		cfg.HTTP.SessionIdleTimeout = 30 * time.Minute
	}
	if cfg.HTTP.SSEBufferSize == 0 {
		cfg.HTTP.SSEBufferSize = 256
	}
	if cfg.HTTP.ConcurrencyCap == 0 {
		cfg.HTTP.ConcurrencyCap = 64
	}
	if cfg.Auth.ClockSkew == 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}
}

func setTimeoutDefault(t *Timeout, def, min, max time.Duration) {
	if t.Default == 0 {
		t.Default = def
	}
	if t.Min == 0 {
		t.Min = min
	}
	if t.Max == 0 {
		t.Max = max
	}
}

func (t TimeoutClasses) validate() error {
	classes := map[string]Timeout{
		"initialize":   t.Initialize,
		"toolcall":     t.ToolCall,
		"resourceread": t.ResourceRead,
		"sampling":     t.Sampling,
		"elicitation":  t.Elicitation,
		"completion":   t.Completion,
		"ping":         t.Ping,
		"shutdown":     t.Shutdown,
		"cancellation": t.Cancellation,
	}
	for name, tm := range classes {
		if tm.Min > tm.Default || tm.Default > tm.Max {
			return fmt.Errorf("config: invalid timeout bounds for %s: min=%s default=%s max=%s", name, tm.Min, tm.Default, tm.Max)
		}
	}
	return nil
}
