package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSystemPrompt is the persona sent ahead of every user message unless
// overridden by configuration.
const DefaultSystemPrompt = "Assistant IA de l'aéroport de Lomé. " +
	"Aide passagers et personnel. " +
	"Réponds en français, bref et clair."

// ServerConfig holds configuration for the chatrelay server.
type ServerConfig struct {
	Port           int           `yaml:"port"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	BackendURL     string        `yaml:"backend_url"`
	ModelName      string        `yaml:"model_name"`
	SystemPrompt   string        `yaml:"system_prompt"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	StreamTimeout  time.Duration `yaml:"stream_timeout"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ConfigFile     string        `yaml:"-"`
	LogLevel       string        `yaml:"log_level"`
	RedisAddr      string        `yaml:"redis_addr"`
}

// SetDefaults initializes unset fields of c with built-in defaults.
func (c *ServerConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = fmt.Sprintf(":%d", c.Port)
	}
	if c.BackendURL == "" {
		c.BackendURL = "http://localhost:11434"
	}
	if c.ModelName == "" {
		c.ModelName = "mistral"
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = []string{"*"}
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("server.yaml")
	}
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *ServerConfig) ApplyEnv() {
	if v := GetEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	portSet := false
	if v := GetEnv("PORT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
			portSet = true
		}
	}
	if v := GetEnv("METRICS_PORT", ""); v != "" {
		c.MetricsAddr = normalizeAddr(v)
	} else if portSet {
		c.MetricsAddr = fmt.Sprintf(":%d", c.Port)
	}
	if v := GetEnv("BACKEND_URL", GetEnv("OLLAMA_URL", "")); v != "" {
		c.BackendURL = v
	}
	if v := GetEnv("MODEL_NAME", GetEnv("OLLAMA_MODEL", "")); v != "" {
		c.ModelName = v
	}
	if v := GetEnv("SYSTEM_PROMPT", ""); v != "" {
		c.SystemPrompt = v
	}
	if v := GetEnv("REQUEST_TIMEOUT", ""); v != "" {
		if d, err := parseSeconds(v); err == nil {
			c.RequestTimeout = d
		}
	}
	if v := GetEnv("STREAM_TIMEOUT", ""); v != "" {
		if d, err := parseSeconds(v); err == nil {
			c.StreamTimeout = d
		}
	}
	if v := GetEnv("DRAIN_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DrainTimeout = d
		}
	}
	if v := GetEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
	if v := GetEnv("REDIS_ADDR", ""); v != "" {
		c.RedisAddr = v
	}
}

// BindFlagsFromCurrent binds command line flags on fs using the current config
// values as defaults.
func (c *ServerConfig) BindFlagsFromCurrent(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "server config file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.Func("port", fmt.Sprintf("HTTP listen port for the public API (default %d)", c.Port), func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		if c.MetricsAddr == fmt.Sprintf(":%d", c.Port) {
			c.MetricsAddr = fmt.Sprintf(":%d", n)
		}
		c.Port = n
		return nil
	})
	fs.Func("metrics-port", "Prometheus metrics listen address or port; defaults to the value of --port", func(v string) error {
		c.MetricsAddr = normalizeAddr(v)
		return nil
	})
	fs.StringVar(&c.BackendURL, "backend-url", c.BackendURL, "base URL of the Ollama inference server (e.g. http://localhost:11434)")
	fs.StringVar(&c.ModelName, "model-name", c.ModelName, "model identifier sent to the backend")
	fs.StringVar(&c.SystemPrompt, "system-prompt", c.SystemPrompt, "system instruction sent ahead of every user message")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL for shared server state")
	fs.Func("request-timeout", "backend timeout in seconds for non-streaming chat", func(v string) error {
		d, err := parseSeconds(v)
		if err != nil {
			return err
		}
		c.RequestTimeout = d
		return nil
	})
	fs.Func("stream-timeout", "overall deadline in seconds for a streamed reply (0 disables)", func(v string) error {
		d, err := parseSeconds(v)
		if err != nil {
			return err
		}
		c.StreamTimeout = d
		return nil
	})
	fs.DurationVar(&c.DrainTimeout, "drain-timeout", c.DrainTimeout, "time to wait for in-flight requests on shutdown (-1 to wait indefinitely, 0 to exit immediately)")
	fs.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
}

// LoadFile populates the config from a YAML file. Fields absent from the file
// keep their current values. A file that changes port without naming
// metrics_addr keeps metrics on the main listener.
func (c *ServerConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	oldPort := c.Port
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	var explicit struct {
		MetricsAddr *string `yaml:"metrics_addr"`
	}
	if err := yaml.Unmarshal(b, &explicit); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if explicit.MetricsAddr == nil {
		if c.Port != oldPort && c.MetricsAddr == fmt.Sprintf(":%d", oldPort) {
			c.MetricsAddr = fmt.Sprintf(":%d", c.Port)
		}
	} else if c.MetricsAddr != "" {
		c.MetricsAddr = normalizeAddr(c.MetricsAddr)
	}
	return nil
}

// Validate reports configuration values the server cannot start with.
func (c *ServerConfig) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil {
		return fmt.Errorf("backend_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("backend_url: %q is not an http(s) URL", c.BackendURL)
	}
	if strings.TrimSpace(c.ModelName) == "" {
		return errors.New("model_name must not be empty")
	}
	if c.RequestTimeout < 0 {
		return errors.New("request_timeout must not be negative")
	}
	if c.StreamTimeout < 0 {
		return errors.New("stream_timeout must not be negative")
	}
	return nil
}

// parseSeconds accepts either a plain number of seconds ("60", "1.5") or a Go
// duration string ("90s").
func parseSeconds(v string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func normalizeAddr(v string) string {
	if strings.Contains(v, ":") {
		return v
	}
	return ":" + v
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
