package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSetDefaults(t *testing.T) {
	var c ServerConfig
	c.SetDefaults()
	if c.Port != 8000 || c.MetricsAddr != ":8000" {
		t.Fatalf("port defaults: %d %q", c.Port, c.MetricsAddr)
	}
	if c.BackendURL != "http://localhost:11434" || c.ModelName != "mistral" {
		t.Fatalf("backend defaults: %q %q", c.BackendURL, c.ModelName)
	}
	if c.SystemPrompt != DefaultSystemPrompt {
		t.Fatalf("system prompt: %q", c.SystemPrompt)
	}
	if c.RequestTimeout != 60*time.Second || c.StreamTimeout != 0 {
		t.Fatalf("timeouts: %v %v", c.RequestTimeout, c.StreamTimeout)
	}
	if len(c.AllowedOrigins) != 1 || c.AllowedOrigins[0] != "*" {
		t.Fatalf("origins: %v", c.AllowedOrigins)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("METRICS_PORT", "")
	t.Setenv("BACKEND_URL", "http://gpu-box:11434")
	t.Setenv("MODEL_NAME", "gemma2:9b")
	t.Setenv("SYSTEM_PROMPT", "be brief")
	t.Setenv("REQUEST_TIMEOUT", "12.5")
	t.Setenv("STREAM_TIMEOUT", "2m")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, http://b.example ,")

	var c ServerConfig
	c.SetDefaults()
	c.ApplyEnv()

	if c.Port != 9000 || c.MetricsAddr != ":9000" {
		t.Fatalf("port: %d %q", c.Port, c.MetricsAddr)
	}
	if c.BackendURL != "http://gpu-box:11434" || c.ModelName != "gemma2:9b" || c.SystemPrompt != "be brief" {
		t.Fatalf("backend: %+v", c)
	}
	if c.RequestTimeout != 12500*time.Millisecond {
		t.Fatalf("request timeout: %v", c.RequestTimeout)
	}
	if c.StreamTimeout != 2*time.Minute {
		t.Fatalf("stream timeout: %v", c.StreamTimeout)
	}
	if strings.Join(c.AllowedOrigins, "|") != "http://a.example|http://b.example" {
		t.Fatalf("origins: %v", c.AllowedOrigins)
	}
}

func TestLoadFileKeepsUnsetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	data := "backend_url: http://10.0.0.5:11434\nmodel_name: llama3\nrequest_timeout: 30s\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	var c ServerConfig
	c.SetDefaults()
	if err := c.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.BackendURL != "http://10.0.0.5:11434" || c.ModelName != "llama3" {
		t.Fatalf("file values not applied: %+v", c)
	}
	if c.RequestTimeout != 30*time.Second {
		t.Fatalf("request timeout: %v", c.RequestTimeout)
	}
	if c.SystemPrompt != DefaultSystemPrompt || c.Port != 8000 {
		t.Fatalf("defaults overwritten: %+v", c)
	}
}

func TestLoadFilePortMovesMetrics(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("METRICS_PORT", "")
	cases := []struct {
		name, data, want string
	}{
		{"port only", "port: 9000\n", ":9000"},
		{"explicit addr", "port: 9000\nmetrics_addr: \"9100\"\n", ":9100"},
		{"explicit old port", "port: 9000\nmetrics_addr: \":8000\"\n", ":8000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "server.yaml")
			if err := os.WriteFile(path, []byte(tc.data), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			var c ServerConfig
			c.SetDefaults()
			if err := c.LoadFile(path); err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			c.ApplyEnv()
			if c.Port != 9000 || c.MetricsAddr != tc.want {
				t.Fatalf("port=%d metrics_addr=%q, want 9000 %q", c.Port, c.MetricsAddr, tc.want)
			}
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	var c ServerConfig
	err := c.LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestBindFlagsOverrides(t *testing.T) {
	var c ServerConfig
	c.SetDefaults()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.BindFlagsFromCurrent(fs)
	err := fs.Parse([]string{"--model-name", "phi3", "--request-timeout", "5", "--allowed-origins", "http://x"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.ModelName != "phi3" || c.RequestTimeout != 5*time.Second {
		t.Fatalf("flags not applied: %+v", c)
	}
	if len(c.AllowedOrigins) != 1 || c.AllowedOrigins[0] != "http://x" {
		t.Fatalf("origins: %v", c.AllowedOrigins)
	}
	if err := fs.Parse([]string{"--stream-timeout", "soon"}); err == nil {
		t.Fatalf("expected parse error for bad duration")
	}
}

func TestBindFlagsPortMovesMetrics(t *testing.T) {
	var c ServerConfig
	c.SetDefaults()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.BindFlagsFromCurrent(fs)
	if err := fs.Parse([]string{"--port", "9000"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Port != 9000 || c.MetricsAddr != ":9000" {
		t.Fatalf("port: %d %q", c.Port, c.MetricsAddr)
	}

	c = ServerConfig{}
	c.SetDefaults()
	fs = flag.NewFlagSet("test", flag.ContinueOnError)
	c.BindFlagsFromCurrent(fs)
	if err := fs.Parse([]string{"--metrics-port", "9100", "--port", "9000"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Port != 9000 || c.MetricsAddr != ":9100" {
		t.Fatalf("port: %d %q", c.Port, c.MetricsAddr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*ServerConfig)
	}{
		{"bad scheme", func(c *ServerConfig) { c.BackendURL = "ftp://host" }},
		{"no host", func(c *ServerConfig) { c.BackendURL = "http://" }},
		{"empty model", func(c *ServerConfig) { c.ModelName = "  " }},
		{"negative timeout", func(c *ServerConfig) { c.RequestTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c ServerConfig
			c.SetDefaults()
			tt.mod(&c)
			if err := c.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "CHATRELAY_TEST_DOTENV_MODEL"
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte(key+"=qwen2\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := GetEnv(key, ""); got != "qwen2" {
		t.Fatalf("got %q want qwen2", got)
	}
}

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		goos, home, programData, want string
	}{
		{"linux", "/home/u", "", "/etc/chatrelay/server.yaml"},
		{"darwin", "/Users/u", "", "/Users/u/Library/Application Support/chatrelay/server.yaml"},
		{"windows", "", "C:\\ProgramData\\", "C:/ProgramData/chatrelay/server.yaml"},
		{"windows", "", "", "C:/ProgramData/chatrelay/server.yaml"},
	}
	for _, tt := range tests {
		got := strings.ReplaceAll(ResolveConfigPath(tt.goos, tt.home, tt.programData, "server.yaml"), "\\", "/")
		if got != tt.want {
			t.Errorf("%s: got %q want %q", tt.goos, got, tt.want)
		}
	}
}
