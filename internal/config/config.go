package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by ApplyEnv.
const (
	EnvAPIKey     = "GEMINI_API_KEY"
	EnvModel      = "GEMINI_MODEL"
	EnvPort       = "QUILL_PORT"
	EnvLegacyPort = "WS_PORT"
	EnvServiceURL = "QUILL_SERVICE_URL"
)

// Config holds application configuration.
type Config struct {
	// Port is the processing service HTTP/WebSocket port.
	Port int `json:"port,omitempty"`

	// Bind is the interface the processing service and archive UI listen on.
	Bind string `json:"bind,omitempty"`

	// UIPort is the archive web UI port.
	UIPort int `json:"ui_port,omitempty"`

	// GeminiAPIKey is the model credential. Usually supplied via GEMINI_API_KEY.
	GeminiAPIKey string `json:"gemini_api_key,omitempty"`

	// GeminiModel is the hosted generation model name.
	GeminiModel string `json:"gemini_model,omitempty"`

	// GeminiBaseURL overrides the model API endpoint (tests, proxies).
	GeminiBaseURL string `json:"gemini_base_url,omitempty"`

	// MaxOutputTokens caps the generated reply.
	MaxOutputTokens int `json:"max_output_tokens,omitempty"`

	// RecentNotesLimit bounds the service's recent-context window.
	RecentNotesLimit int `json:"recent_notes_limit,omitempty"`

	// ContextNotes is how many recent notes are digested into each prompt.
	ContextNotes int `json:"context_notes,omitempty"`

	// ServiceURL is where the relay sends capture payloads.
	ServiceURL string `json:"service_url,omitempty"`

	// RequestTimeoutSeconds bounds the relay's call to the processing service.
	RequestTimeoutSeconds int `json:"request_timeout_seconds,omitempty"`

	// ArchiveMaxNotes caps the persisted archive; oldest notes are dropped.
	ArchiveMaxNotes int `json:"archive_max_notes,omitempty"`

	// CaptureMinChars and CaptureMaxChars bound a valid selection (runes).
	CaptureMinChars int `json:"capture_min_chars,omitempty"`
	CaptureMaxChars int `json:"capture_max_chars,omitempty"`

	// ViewerMaxAgeHours is the live viewer's retention window.
	ViewerMaxAgeHours int `json:"viewer_max_age_hours,omitempty"`

	// ReconnectDelaySeconds is the fixed delay between viewer reconnects.
	ReconnectDelaySeconds int `json:"reconnect_delay_seconds,omitempty"`

	// AllowedOrigins lists browser origins accepted by the processing service.
	// "chrome-extension://*" matches any extension origin.
	AllowedOrigins []string `json:"allowed_origins,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:                  3001,
		Bind:                  "localhost",
		UIPort:                3002,
		GeminiModel:           "gemini-2.5-flash-lite",
		MaxOutputTokens:       8192,
		RecentNotesLimit:      10,
		ContextNotes:          3,
		ServiceURL:            "http://localhost:3001",
		RequestTimeoutSeconds: 90,
		ArchiveMaxNotes:       100,
		CaptureMinChars:       10,
		CaptureMaxChars:       5000,
		ViewerMaxAgeHours:     24,
		ReconnectDelaySeconds: 3,
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://localhost:3001",
			"chrome-extension://*",
		},
	}
}

// Load loads configuration from baseDir/config.json and applies environment
// overrides. Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.quill.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// ApplyEnv overlays environment variables onto cfg. getenv is injected so
// tests don't have to mutate the process environment.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if key := strings.TrimSpace(getenv(EnvAPIKey)); key != "" {
		cfg.GeminiAPIKey = key
	}
	if model := strings.TrimSpace(getenv(EnvModel)); model != "" {
		cfg.GeminiModel = model
	}
	if u := strings.TrimSpace(getenv(EnvServiceURL)); u != "" {
		cfg.ServiceURL = strings.TrimRight(u, "/")
	}

	port := strings.TrimSpace(getenv(EnvPort))
	if port == "" {
		port = strings.TrimSpace(getenv(EnvLegacyPort))
	}
	if port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return fmt.Errorf("invalid port %q", port)
		}
		cfg.Port = p
	}
	return nil
}

// HasAPIKey reports whether a model credential is configured.
func (c *Config) HasAPIKey() bool {
	return strings.TrimSpace(c.GeminiAPIKey) != ""
}

// RequestTimeout returns the relay's HTTP timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ViewerMaxAge returns the live viewer's retention window.
func (c *Config) ViewerMaxAge() time.Duration {
	return time.Duration(c.ViewerMaxAgeHours) * time.Hour
}

// ReconnectDelay returns the fixed viewer reconnect delay.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySeconds) * time.Second
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		Port:                  firstInt(overlay.Port, base.Port),
		Bind:                  firstString(overlay.Bind, base.Bind),
		UIPort:                firstInt(overlay.UIPort, base.UIPort),
		GeminiAPIKey:          firstString(overlay.GeminiAPIKey, base.GeminiAPIKey),
		GeminiModel:           firstString(overlay.GeminiModel, base.GeminiModel),
		GeminiBaseURL:         firstString(overlay.GeminiBaseURL, base.GeminiBaseURL),
		MaxOutputTokens:       firstInt(overlay.MaxOutputTokens, base.MaxOutputTokens),
		RecentNotesLimit:      firstInt(overlay.RecentNotesLimit, base.RecentNotesLimit),
		ContextNotes:          firstInt(overlay.ContextNotes, base.ContextNotes),
		ServiceURL:            firstString(overlay.ServiceURL, base.ServiceURL),
		RequestTimeoutSeconds: firstInt(overlay.RequestTimeoutSeconds, base.RequestTimeoutSeconds),
		ArchiveMaxNotes:       firstInt(overlay.ArchiveMaxNotes, base.ArchiveMaxNotes),
		CaptureMinChars:       firstInt(overlay.CaptureMinChars, base.CaptureMinChars),
		CaptureMaxChars:       firstInt(overlay.CaptureMaxChars, base.CaptureMaxChars),
		ViewerMaxAgeHours:     firstInt(overlay.ViewerMaxAgeHours, base.ViewerMaxAgeHours),
		ReconnectDelaySeconds: firstInt(overlay.ReconnectDelaySeconds, base.ReconnectDelaySeconds),
		DBMaxOpenConns:        firstInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:        firstInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns),
	}

	result.AllowedOrigins = mergeStringSlice(base.AllowedOrigins, overlay.AllowedOrigins)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func firstString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
