// Package config loads service settings from defaults, an optional YAML file
// named by CONFIG_PATH, and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultSystemPrompt = "You are a friendly and helpful character. You love to answer questions for people."

// Duration reads "30s"-style strings from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Engine struct {
	Kind     string   `yaml:"kind"`
	URL      string   `yaml:"url"`
	APIKey   string   `yaml:"api_key"`
	Model    string   `yaml:"model"`
	Timeout  Duration `yaml:"timeout"`
	Attempts int      `yaml:"attempts"`
}

type Conversation struct {
	TTL           Duration `yaml:"ttl"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

type Capture struct {
	Enabled       bool     `yaml:"enabled"`
	Dir           string   `yaml:"dir"`
	Retention     Duration `yaml:"retention"`
	CleanInterval Duration `yaml:"clean_interval"`
	MaxFiles      int      `yaml:"max_files"`
}

type Config struct {
	ListenAddr       string       `yaml:"listen_addr"`
	TargetSampleRate int          `yaml:"target_sample_rate"`
	MaxNewTokens     int          `yaml:"max_new_tokens"`
	SystemPrompt     string       `yaml:"system_prompt"`
	MaxUploadBytes   int64        `yaml:"max_upload_bytes"`
	MaxAudio         Duration     `yaml:"max_audio"`
	MetricsEnabled   bool         `yaml:"metrics_enabled"`
	MCPEnabled       bool         `yaml:"mcp_enabled"`
	Engine           Engine       `yaml:"engine"`
	Conversation     Conversation `yaml:"conversation"`
	Capture          Capture      `yaml:"capture"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		ListenAddr:       ":8000",
		TargetSampleRate: 16000,
		MaxNewTokens:     300,
		SystemPrompt:     DefaultSystemPrompt,
		MaxUploadBytes:   32 << 20,
		MetricsEnabled:   true,
		MCPEnabled:       true,
		Engine: Engine{
			Kind:     "http",
			Timeout:  Duration(60 * time.Second),
			Attempts: 3,
		},
		Conversation: Conversation{
			SweepInterval: Duration(time.Minute),
		},
		Capture: Capture{
			Dir:           "/tmp/audio-dialogue",
			Retention:     Duration(24 * time.Hour),
			CleanInterval: Duration(10 * time.Minute),
		},
	}
}

// Load builds the effective configuration and validates it.
func Load() (Config, error) {
	cfg := Default()
	if p := strings.TrimSpace(os.Getenv("CONFIG_PATH")); p != "" {
		path, err := expandPath(p)
		if err != nil {
			return cfg, err
		}
		if err := readFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s=%q: %w", key, v, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = strings.ToLower(v) == "true"
		}
	}
	dur := func(key string, dst *Duration) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s=%q: %w", key, v, err))
				return
			}
			*dst = Duration(d)
		}
	}

	str("LISTEN_ADDR", &cfg.ListenAddr)
	num("TARGET_SAMPLE_RATE", &cfg.TargetSampleRate)
	num("MAX_NEW_TOKENS", &cfg.MaxNewTokens)
	str("SYSTEM_PROMPT", &cfg.SystemPrompt)
	if v := strings.TrimSpace(os.Getenv("MAX_UPLOAD_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES=%q: %w", v, err))
		} else {
			cfg.MaxUploadBytes = n
		}
	}
	var secs int
	num("MAX_AUDIO_SECONDS", &secs)
	if secs > 0 {
		cfg.MaxAudio = Duration(time.Duration(secs) * time.Second)
	}
	flag("METRICS_ENABLED", &cfg.MetricsEnabled)
	flag("MCP_ENABLED", &cfg.MCPEnabled)

	str("ENGINE_KIND", &cfg.Engine.Kind)
	str("ENGINE_URL", &cfg.Engine.URL)
	str("ENGINE_API_KEY", &cfg.Engine.APIKey)
	str("ENGINE_MODEL", &cfg.Engine.Model)
	var ms int
	num("ENGINE_TIMEOUT_MS", &ms)
	if ms > 0 {
		cfg.Engine.Timeout = Duration(time.Duration(ms) * time.Millisecond)
	}
	num("ENGINE_ATTEMPTS", &cfg.Engine.Attempts)

	dur("CONVERSATION_TTL", &cfg.Conversation.TTL)
	dur("CONVERSATION_SWEEP_INTERVAL", &cfg.Conversation.SweepInterval)

	flag("SAVE_AUDIO_ENABLED", &cfg.Capture.Enabled)
	str("SAVE_AUDIO_DIR", &cfg.Capture.Dir)
	dur("SAVE_AUDIO_RETENTION", &cfg.Capture.Retention)
	dur("SAVE_AUDIO_CLEAN_INTERVAL", &cfg.Capture.CleanInterval)
	num("SAVE_AUDIO_MAX_FILES", &cfg.Capture.MaxFiles)

	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.TargetSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("target_sample_rate must be positive, got %d", c.TargetSampleRate))
	}
	if c.MaxNewTokens <= 0 {
		errs = append(errs, fmt.Errorf("max_new_tokens must be positive, got %d", c.MaxNewTokens))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes))
	}
	switch strings.ToLower(c.Engine.Kind) {
	case "http", "openai", "ws":
	default:
		errs = append(errs, fmt.Errorf("engine.kind %q is not one of http, openai, ws", c.Engine.Kind))
	}
	if strings.TrimSpace(c.Engine.URL) == "" {
		errs = append(errs, errors.New("engine.url is required (ENGINE_URL)"))
	}
	if c.Engine.Timeout <= 0 {
		errs = append(errs, errors.New("engine.timeout must be positive"))
	}
	if c.Conversation.TTL > 0 && c.Conversation.TTL <= c.Engine.Timeout {
		errs = append(errs, fmt.Errorf("conversation.ttl %s must exceed engine.timeout %s",
			c.Conversation.TTL.Std(), c.Engine.Timeout.Std()))
	}
	if c.Conversation.TTL > 0 && c.Conversation.SweepInterval <= 0 {
		errs = append(errs, errors.New("conversation.sweep_interval must be positive when a ttl is set"))
	}
	if c.Capture.Enabled && strings.TrimSpace(c.Capture.Dir) == "" {
		errs = append(errs, errors.New("capture.dir is required when capture is enabled"))
	}
	return errors.Join(errs...)
}

// CaptureDir returns the capture directory, or "" when capture is off.
func (c Config) CaptureDir() string {
	if !c.Capture.Enabled {
		return ""
	}
	return c.Capture.Dir
}

func expandPath(value string) (string, error) {
	if !strings.HasPrefix(value, "~") {
		return value, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return value, err
	}
	if value == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(value[1:], "/")), nil
}
