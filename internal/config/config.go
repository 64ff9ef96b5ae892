// Package config loads the service configuration: a YAML file selected with
// -config, with environment-variable overrides for the deployment-specific
// settings.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/carbondvr/carbon-dvr/internal/filespec"
	"github.com/carbondvr/carbon-dvr/internal/transcoder"
)

// Config is the full service configuration.
type Config struct {
	DatabasePath  string `yaml:"database_path"`
	ListenAddr    string `yaml:"listen_addr"`
	CaptureBinary string `yaml:"capture_binary"`

	// Output-path templates, each keyed on {recordingID}.
	Paths struct {
		RawVideo        string `yaml:"raw_video"`
		CaptureLog      string `yaml:"capture_log"`
		TranscodedVideo string `yaml:"transcoded_video"`
		Bif             string `yaml:"bif"`
		ImageDir        string `yaml:"image_dir"`
	} `yaml:"paths"`

	Transcode struct {
		Low        string `yaml:"low"`
		Medium     string `yaml:"medium"`
		High       string `yaml:"high"`
		LocationID int    `yaml:"location_id"`
	} `yaml:"transcode"`

	Bif struct {
		ExtractorCommand string `yaml:"extractor_command"`
		FrameIntervalMS  int    `yaml:"frame_interval_ms"`
		LocationID       int    `yaml:"location_id"`
	} `yaml:"bif"`

	Schedule struct {
		WindowHours int `yaml:"window_hours"`
	} `yaml:"schedule"`

	RateLimit struct {
		PerSecond float64 `yaml:"per_second"`
		Burst     int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	c.applyEnv()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8085"
	}
	if c.Bif.FrameIntervalMS == 0 {
		c.Bif.FrameIntervalMS = 10000
	}
	if c.Schedule.WindowHours == 0 {
		c.Schedule.WindowHours = 12
	}
	if c.RateLimit.PerSecond == 0 {
		c.RateLimit.PerSecond = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 40
	}
}

// applyEnv lets a deployment override the machine-specific settings without
// editing the config file.
func (c *Config) applyEnv() {
	c.DatabasePath = getEnv("CARBON_DVR_DB", c.DatabasePath)
	c.ListenAddr = getEnv("CARBON_DVR_LISTEN", c.ListenAddr)
	c.CaptureBinary = getEnv("CARBON_DVR_CAPTURE_BINARY", c.CaptureBinary)
}

func (c *Config) validate() error {
	var missing []string
	if c.DatabasePath == "" {
		missing = append(missing, "database_path")
	}
	if c.CaptureBinary == "" {
		missing = append(missing, "capture_binary")
	}
	templates := map[string]string{
		"paths.raw_video":        c.Paths.RawVideo,
		"paths.capture_log":      c.Paths.CaptureLog,
		"paths.transcoded_video": c.Paths.TranscodedVideo,
		"paths.bif":              c.Paths.Bif,
		"paths.image_dir":        c.Paths.ImageDir,
	}
	for key, tmpl := range templates {
		if tmpl == "" {
			missing = append(missing, key)
		} else if !strings.Contains(tmpl, "{recordingID}") {
			return fmt.Errorf("config: %s must contain {recordingID}", key)
		}
	}
	for key, cmd := range map[string]string{
		"transcode.low":         c.Transcode.Low,
		"transcode.medium":      c.Transcode.Medium,
		"transcode.high":        c.Transcode.High,
		"bif.extractor_command": c.Bif.ExtractorCommand,
	} {
		if cmd == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("config: missing required fields: %s", strings.Join(missing, ", "))
	}
	if c.Bif.FrameIntervalMS < 0 {
		return fmt.Errorf("config: bif.frame_interval_ms must be positive")
	}
	return nil
}

// FilePaths returns the output-path templates as a filespec bundle.
func (c *Config) FilePaths() filespec.Paths {
	return filespec.Paths{
		RawVideo:        c.Paths.RawVideo,
		CaptureLog:      c.Paths.CaptureLog,
		TranscodedVideo: c.Paths.TranscodedVideo,
		Bif:             c.Paths.Bif,
		ImageDir:        c.Paths.ImageDir,
	}
}

// PresetCommands returns the transcode command templates.
func (c *Config) PresetCommands() transcoder.PresetCommands {
	return transcoder.PresetCommands{
		Low:    c.Transcode.Low,
		Medium: c.Transcode.Medium,
		High:   c.Transcode.High,
	}
}

// PlanWindow returns the planning window as a duration.
func (c *Config) PlanWindow() time.Duration {
	return time.Duration(c.Schedule.WindowHours) * time.Hour
}
