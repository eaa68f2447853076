// Package config provides configuration management for the composer service.
// Values come from built-in defaults, an optional YAML file named by
// COMPOSER_CONFIG and environment variables (a .env file in the working
// directory is loaded first), in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort     = 8797
	DefaultLogLevel = "info"
	DefaultDataDir  = ".composer"

	DefaultSplitGuard    = 0.1
	DefaultTextSpan      = 3.0
	DefaultImageSpan     = 5.0
	DefaultFireTolerance = 0.1

	DefaultVideoCodec   = "libx264"
	DefaultAudioCodec   = "aac"
	DefaultPreset       = "veryfast"
	DefaultCRF          = 23
	DefaultFrameRate    = 30.0
	DefaultProjectTitle = "composition"

	DefaultAITimeout     = 60  // seconds
	DefaultRenderTimeout = 120 // minutes

	// Environment variable names
	EnvConfigFile = "COMPOSER_CONFIG"
	EnvPort       = "COMPOSER_PORT"
	EnvLogLevel   = "COMPOSER_LOG_LEVEL"
	EnvDataDir    = "COMPOSER_DATA_DIR"

	EnvFFmpegPath  = "COMPOSER_FFMPEG"
	EnvFFprobePath = "COMPOSER_FFPROBE"

	EnvCaptureEnabled = "COMPOSER_CAPTURE_ENABLED"
	EnvCaptureFormat  = "COMPOSER_CAPTURE_FORMAT"
	EnvCaptureInput   = "COMPOSER_CAPTURE_INPUT"

	EnvAIEndpoint = "COMPOSER_AI_ENDPOINT"
	EnvAIToken    = "COMPOSER_AI_TOKEN"
	EnvAIVoice    = "COMPOSER_AI_VOICE"

	EnvSplitGuard    = "COMPOSER_SPLIT_GUARD"
	EnvTextSpan      = "COMPOSER_TEXT_SPAN"
	EnvImageSpan     = "COMPOSER_IMAGE_SPAN"
	EnvFireTolerance = "COMPOSER_FIRE_TOLERANCE"

	EnvVideoCodec   = "COMPOSER_VIDEO_CODEC"
	EnvPreset       = "COMPOSER_PRESET"
	EnvCRF          = "COMPOSER_CRF"
	EnvFrameRate    = "COMPOSER_FRAME_RATE"
	EnvProjectTitle = "COMPOSER_PROJECT_TITLE"

	// Database filename
	DBFilename = "composer.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	AssetsDir() string
	ExportsDir() string
	WorkDir() string

	FFmpegPath() string
	FFprobePath() string
	RenderTimeout() time.Duration

	CaptureEnabled() bool
	CaptureFormat() string
	CaptureInput() string

	AIEndpoint() string
	AIToken() string
	AIVoice() string
	AITimeout() time.Duration

	SplitGuard() float64
	TextSpan() float64
	ImageSpan() float64
	FireTolerance() float64

	VideoCodec() string
	AudioCodec() string
	Preset() string
	CRF() int
	FrameRate() float64
	ProjectTitle() string
}

// fileConfig mirrors the YAML layout. Zero values mean "not set".
type fileConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`

	FFmpeg struct {
		Path        string `yaml:"path"`
		ProbePath   string `yaml:"probe_path"`
		TimeoutMins int    `yaml:"render_timeout_minutes"`
	} `yaml:"ffmpeg"`

	Capture struct {
		Enabled *bool  `yaml:"enabled"`
		Format  string `yaml:"format"`
		Input   string `yaml:"input"`
	} `yaml:"capture"`

	AI struct {
		Endpoint    string `yaml:"endpoint"`
		Token       string `yaml:"token"`
		Voice       string `yaml:"voice"`
		TimeoutSecs int    `yaml:"timeout_seconds"`
	} `yaml:"ai"`

	Timeline struct {
		SplitGuard    float64 `yaml:"split_guard"`
		TextSpan      float64 `yaml:"text_span"`
		ImageSpan     float64 `yaml:"image_span"`
		FireTolerance float64 `yaml:"fire_tolerance"`
	} `yaml:"timeline"`

	Export struct {
		VideoCodec string  `yaml:"video_codec"`
		AudioCodec string  `yaml:"audio_codec"`
		Preset     string  `yaml:"preset"`
		CRF        int     `yaml:"crf"`
		FrameRate  float64 `yaml:"frame_rate"`
		Title      string  `yaml:"title"`
	} `yaml:"export"`
}

// EnvConfig holds the resolved configuration.
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string

	ffmpegPath    string
	ffprobePath   string
	renderTimeout time.Duration

	captureEnabled bool
	captureFormat  string
	captureInput   string

	aiEndpoint string
	aiToken    string
	aiVoice    string
	aiTimeout  time.Duration

	splitGuard    float64
	textSpan      float64
	imageSpan     float64
	fireTolerance float64

	videoCodec   string
	audioCodec   string
	preset       string
	crf          int
	frameRate    float64
	projectTitle string
}

// New creates a new EnvConfig with defaults, file values and environment
// variable overrides.
func New() (*EnvConfig, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := &EnvConfig{
		port:           DefaultPort,
		logLevel:       DefaultLogLevel,
		dataDir:        defaultDataDir(),
		renderTimeout:  time.Duration(DefaultRenderTimeout) * time.Minute,
		captureEnabled: true,
		aiTimeout:      time.Duration(DefaultAITimeout) * time.Second,
		splitGuard:     DefaultSplitGuard,
		textSpan:       DefaultTextSpan,
		imageSpan:      DefaultImageSpan,
		fireTolerance:  DefaultFireTolerance,
		videoCodec:     DefaultVideoCodec,
		audioCodec:     DefaultAudioCodec,
		preset:         DefaultPreset,
		crf:            DefaultCRF,
		frameRate:      DefaultFrameRate,
		projectTitle:   DefaultProjectTitle,
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("cannot load %s: %w", path, err)
	}
	return nil
}

func (c *EnvConfig) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read config file: %w", err)
	}

	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	setInt(&c.port, f.Port)
	setString(&c.logLevel, f.LogLevel)
	setString(&c.dataDir, f.DataDir)

	setString(&c.ffmpegPath, f.FFmpeg.Path)
	setString(&c.ffprobePath, f.FFmpeg.ProbePath)
	if f.FFmpeg.TimeoutMins > 0 {
		c.renderTimeout = time.Duration(f.FFmpeg.TimeoutMins) * time.Minute
	}

	if f.Capture.Enabled != nil {
		c.captureEnabled = *f.Capture.Enabled
	}
	setString(&c.captureFormat, f.Capture.Format)
	setString(&c.captureInput, f.Capture.Input)

	setString(&c.aiEndpoint, f.AI.Endpoint)
	setString(&c.aiToken, f.AI.Token)
	setString(&c.aiVoice, f.AI.Voice)
	if f.AI.TimeoutSecs > 0 {
		c.aiTimeout = time.Duration(f.AI.TimeoutSecs) * time.Second
	}

	setFloat(&c.splitGuard, f.Timeline.SplitGuard)
	setFloat(&c.textSpan, f.Timeline.TextSpan)
	setFloat(&c.imageSpan, f.Timeline.ImageSpan)
	setFloat(&c.fireTolerance, f.Timeline.FireTolerance)

	setString(&c.videoCodec, f.Export.VideoCodec)
	setString(&c.audioCodec, f.Export.AudioCodec)
	setString(&c.preset, f.Export.Preset)
	setInt(&c.crf, f.Export.CRF)
	setFloat(&c.frameRate, f.Export.FrameRate)
	setString(&c.projectTitle, f.Export.Title)
	return nil
}

func (c *EnvConfig) applyEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	envString(&c.logLevel, EnvLogLevel)
	envString(&c.dataDir, EnvDataDir)
	envString(&c.ffmpegPath, EnvFFmpegPath)
	envString(&c.ffprobePath, EnvFFprobePath)
	envString(&c.captureFormat, EnvCaptureFormat)
	envString(&c.captureInput, EnvCaptureInput)
	envString(&c.aiEndpoint, EnvAIEndpoint)
	envString(&c.aiToken, EnvAIToken)
	envString(&c.aiVoice, EnvAIVoice)
	envString(&c.videoCodec, EnvVideoCodec)
	envString(&c.preset, EnvPreset)
	envString(&c.projectTitle, EnvProjectTitle)

	if v := os.Getenv(EnvCaptureEnabled); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvCaptureEnabled, err)
		}
		c.captureEnabled = b
	}

	if v := os.Getenv(EnvCRF); v != "" {
		crf, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvCRF, err)
		}
		c.crf = crf
	}

	floats := []struct {
		env string
		dst *float64
	}{
		{EnvSplitGuard, &c.splitGuard},
		{EnvTextSpan, &c.textSpan},
		{EnvImageSpan, &c.imageSpan},
		{EnvFireTolerance, &c.fireTolerance},
		{EnvFrameRate, &c.frameRate},
	}
	for _, f := range floats {
		v := os.Getenv(f.env)
		if v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.env, err)
		}
		*f.dst = n
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.port)
	}
	for name, v := range map[string]float64{
		"split guard":    c.splitGuard,
		"text span":      c.textSpan,
		"image span":     c.imageSpan,
		"fire tolerance": c.fireTolerance,
		"frame rate":     c.frameRate,
	} {
		if !(v > 0) {
			return fmt.Errorf("invalid %s %v: must be positive", name, v)
		}
	}
	if c.crf < 0 || c.crf > 51 {
		return fmt.Errorf("invalid crf %d: must be between 0 and 51", c.crf)
	}
	if strings.TrimSpace(c.dataDir) == "" {
		return fmt.Errorf("data dir is empty")
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// AssetsDir holds imported images and voice-over takes.
func (c *EnvConfig) AssetsDir() string {
	return filepath.Join(c.dataDir, "assets")
}

// ExportsDir holds rendered artifacts with their EDL and plan sidecars.
func (c *EnvConfig) ExportsDir() string {
	return filepath.Join(c.dataDir, "exports")
}

func (c *EnvConfig) WorkDir() string {
	return filepath.Join(c.dataDir, "work")
}

func (c *EnvConfig) FFmpegPath() string           { return c.ffmpegPath }
func (c *EnvConfig) FFprobePath() string          { return c.ffprobePath }
func (c *EnvConfig) RenderTimeout() time.Duration { return c.renderTimeout }

func (c *EnvConfig) CaptureEnabled() bool  { return c.captureEnabled }
func (c *EnvConfig) CaptureFormat() string { return c.captureFormat }
func (c *EnvConfig) CaptureInput() string  { return c.captureInput }

func (c *EnvConfig) AIEndpoint() string        { return c.aiEndpoint }
func (c *EnvConfig) AIToken() string           { return c.aiToken }
func (c *EnvConfig) AIVoice() string           { return c.aiVoice }
func (c *EnvConfig) AITimeout() time.Duration { return c.aiTimeout }

func (c *EnvConfig) SplitGuard() float64    { return c.splitGuard }
func (c *EnvConfig) TextSpan() float64      { return c.textSpan }
func (c *EnvConfig) ImageSpan() float64     { return c.imageSpan }
func (c *EnvConfig) FireTolerance() float64 { return c.fireTolerance }

func (c *EnvConfig) VideoCodec() string   { return c.videoCodec }
func (c *EnvConfig) AudioCodec() string   { return c.audioCodec }
func (c *EnvConfig) Preset() string       { return c.preset }
func (c *EnvConfig) CRF() int             { return c.crf }
func (c *EnvConfig) FrameRate() float64   { return c.frameRate }
func (c *EnvConfig) ProjectTitle() string { return c.projectTitle }

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
