package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	DB         DBConfig         `yaml:"db"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	Poll       PollConfig       `yaml:"poll"`
	Image      ImageConfig      `yaml:"image"`
	Reference  ReferenceConfig  `yaml:"reference"`
	Session    SessionConfig    `yaml:"session"`
	Request    RequestConfig    `yaml:"request"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Storyboard StoryboardConfig `yaml:"storyboard"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address   string `yaml:"address"`
	StaticDir string `yaml:"static_dir"` // built front-end, served at "/" when set
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server      LogSettings `yaml:"server"`
	Generations LogSettings `yaml:"generations"`
	Prompts     LogSettings `yaml:"prompts"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DBConfig holds settings for the local settings database.
type DBConfig struct {
	Path string `yaml:"path"`
}

// GeminiConfig holds settings for the hosted generation service.
type GeminiConfig struct {
	BaseURL      string             `yaml:"base_url"` // empty = SDK default
	TextModel    string             `yaml:"text_model"`
	ImageModel   string             `yaml:"image_model"`
	VideoModel   string             `yaml:"video_model"`
	Profiles     map[string]string  `yaml:"profiles"`     // intent -> model
	Temperatures map[string]float32 `yaml:"temperatures"` // intent -> temperature
	EnvKeys      []string           `yaml:"env_keys"`     // fallback credential variables, in order
}

// PollConfig controls how long-running operations are driven to completion.
type PollConfig struct {
	Interval     Duration `yaml:"interval"`
	MaxAttempts  int      `yaml:"max_attempts"`
	ProgressBase int      `yaml:"progress_base"`
	ProgressSpan int      `yaml:"progress_span"`
}

// ImageConfig holds defaults for image generation.
type ImageConfig struct {
	Count       int    `yaml:"count"`
	MIMEType    string `yaml:"mime_type"`
	AspectRatio string `yaml:"aspect_ratio"`
}

// ReferenceConfig limits reference images attached to video requests.
type ReferenceConfig struct {
	MaxSize ByteSize `yaml:"max_size"`
}

// SessionConfig controls browser session lifetimes.
type SessionConfig struct {
	TTL Duration `yaml:"ttl"`
}

// RequestConfig holds HTTP download settings.
type RequestConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// TelemetryConfig toggles tracing output.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// StoryboardConfig holds settings for the storyboard assistant.
type StoryboardConfig struct {
	CatalogPath  string `yaml:"catalog_path"` // topics and languages, built-in list when missing
	PromptsDir   string `yaml:"prompts_dir"`  // empty = built-in templates
	SceneSeconds int    `yaml:"scene_seconds"`
	MaxScenes    int    `yaml:"max_scenes"`
}

// AspectRatios lists the aspect ratios accepted for image generation.
var AspectRatios = []string{"1:1", "16:9", "9:16", "4:3", "3:4"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address: "localhost:5173",
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Generations: LogSettings{
				Path:  "./logs/generations.log",
				Level: "INFO",
			},
			Prompts: LogSettings{
				Path:  "./logs/prompts.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path: "./data/synthv.db",
		},
		Gemini: GeminiConfig{
			TextModel:  "gemini-2.5-flash",
			ImageModel: "imagen-4.0-generate-001",
			VideoModel: "veo-3.0-generate-001",
			Profiles: map[string]string{
				"idea":   "gemini-2.5-flash",
				"title":  "gemini-2.5-flash",
				"scenes": "gemini-2.5-flash",
			},
			Temperatures: map[string]float32{
				"idea":   1.0,
				"title":  0.8,
				"scenes": 0.7,
			},
			EnvKeys: []string{"GEMINI_API_KEY", "API_KEY"},
		},
		Poll: PollConfig{
			Interval:     Duration(10 * time.Second),
			MaxAttempts:  30,
			ProgressBase: 10,
			ProgressSpan: 80,
		},
		Image: ImageConfig{
			Count:       1,
			MIMEType:    "image/jpeg",
			AspectRatio: "1:1",
		},
		Reference: ReferenceConfig{
			MaxSize: 5 * MB,
		},
		Session: SessionConfig{
			TTL: Duration(12 * time.Hour),
		},
		Request: RequestConfig{
			Timeout: Duration(5 * time.Minute),
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "synthv",
		},
		Storyboard: StoryboardConfig{
			CatalogPath:  "./configs/catalog.yaml",
			SceneSeconds: 8,
			MaxScenes:    10,
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it is created with default values.
// An existing file is merged over the defaults and never written back, so user comments survive.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints that YAML decoding cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.Poll.Interval <= 0 {
		errs = append(errs, fmt.Errorf("poll.interval must be positive"))
	}
	if c.Poll.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("poll.max_attempts must be positive"))
	}
	if c.Poll.ProgressBase < 0 || c.Poll.ProgressSpan < 0 || c.Poll.ProgressBase+c.Poll.ProgressSpan > 100 {
		errs = append(errs, fmt.Errorf("poll.progress_base + poll.progress_span must stay within 0-100"))
	}
	if c.Image.Count < 1 || c.Image.Count > 4 {
		errs = append(errs, fmt.Errorf("image.count must be between 1 and 4"))
	}
	if !ValidAspectRatio(c.Image.AspectRatio) {
		errs = append(errs, fmt.Errorf("image.aspect_ratio %q is not one of %v", c.Image.AspectRatio, AspectRatios))
	}
	if !mimePattern.MatchString(c.Image.MIMEType) {
		errs = append(errs, fmt.Errorf("image.mime_type %q is not a MIME type", c.Image.MIMEType))
	}
	if c.Storyboard.SceneSeconds <= 0 || c.Storyboard.MaxScenes <= 0 {
		errs = append(errs, fmt.Errorf("storyboard.scene_seconds and storyboard.max_scenes must be positive"))
	}
	if c.Reference.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("reference.max_size must be positive"))
	}
	return errors.Join(errs...)
}

var mimePattern = regexp.MustCompile(`^image/[a-z0-9.+-]+$`)

// ValidAspectRatio reports whether ratio is an accepted image aspect ratio.
func ValidAspectRatio(ratio string) bool {
	for _, r := range AspectRatios {
		if r == ratio {
			return true
		}
	}
	return false
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# synthv configuration
# ---------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Size:     B, KB, MB, GB
# The API key is never stored here. Set GEMINI_API_KEY (or API_KEY) in the
# environment or a .env file, or enter it in the settings dialog.

`)
	data = append(header, data...)

	reAspect := regexp.MustCompile(`(?m)^(\s+)aspect_ratio:`)
	data = reAspect.ReplaceAll(data, []byte("${1}# Options: 1:1, 16:9, 9:16, 4:3, 3:4\n${1}aspect_ratio:"))

	reAttempts := regexp.MustCompile(`(?m)^(\s+)max_attempts:`)
	data = reAttempts.ReplaceAll(data, []byte("${1}# interval x max_attempts bounds how long a video job may run\n${1}max_attempts:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
