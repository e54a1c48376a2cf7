package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kikiluvv/previewdeck/internal/compositor"
	"github.com/kikiluvv/previewdeck/internal/deck"
	"github.com/kikiluvv/previewdeck/internal/engine"
	"github.com/kikiluvv/previewdeck/internal/media/ffvideo"
	"github.com/kikiluvv/previewdeck/internal/media/speaker"
	"github.com/kikiluvv/previewdeck/internal/mixer"
	"github.com/kikiluvv/previewdeck/internal/overlay"
)

type contextKey string

const configKey contextKey = "config"

// envPrefix prefixes every environment override.
const envPrefix = "PREVIEWDECK_"

// Config holds all application configuration
type Config struct {
	// Preview canvas
	Preview PreviewConfig `yaml:"preview"`

	// Video deck tuning
	Deck DeckConfig `yaml:"deck"`

	// Audio mixer tuning
	Mixer MixerConfig `yaml:"mixer"`

	// Audio output
	Audio AudioConfig `yaml:"audio"`

	// Text overlay settings
	Text TextConfig `yaml:"text"`

	// Media resolution
	Assets AssetsConfig `yaml:"assets"`

	// FFmpeg settings
	FFmpeg FFmpegConfig `yaml:"ffmpeg"`
}

type PreviewConfig struct {
	Width        int     `yaml:"width" env:"PREVIEWDECK_WIDTH"`
	Height       int     `yaml:"height" env:"PREVIEWDECK_HEIGHT"`
	FPS          float64 `yaml:"fps" env:"PREVIEWDECK_FPS"`
	Background   string  `yaml:"background" env:"PREVIEWDECK_BACKGROUND"`
	Fit          string  `yaml:"fit" env:"PREVIEWDECK_FIT"`
	CueLookahead float64 `yaml:"cue_lookahead"`
}

type DeckConfig struct {
	PlayingDrift  float64       `yaml:"playing_drift"`
	PausedDrift   float64       `yaml:"paused_drift"`
	MinCorrection time.Duration `yaml:"min_correction"`
	CueTimeout    time.Duration `yaml:"cue_timeout"`
}

type MixerConfig struct {
	Tick           time.Duration `yaml:"tick"`
	SeekThreshold  float64       `yaml:"seek_threshold"`
	MinSeek        time.Duration `yaml:"min_seek_interval"`
	RateGain       float64       `yaml:"rate_gain"`
	RateClamp      float64       `yaml:"rate_clamp"`
	DuckLevel      float64       `yaml:"duck_level"`
	DuckRamp       float64       `yaml:"duck_ramp"`
	RequireGesture bool          `yaml:"require_gesture" env:"PREVIEWDECK_REQUIRE_GESTURE"`
	Retry          time.Duration `yaml:"retry_interval"`
}

type AudioConfig struct {
	// Output is "auto" (speaker, falling back to virtual), "speaker" or
	// "virtual". Headless commands always use the virtual output.
	Output     string        `yaml:"output" env:"PREVIEWDECK_AUDIO_OUTPUT"`
	SampleRate int           `yaml:"sample_rate"`
	Channels   int           `yaml:"channels"`
	Buffer     time.Duration `yaml:"buffer"`
}

type TextConfig struct {
	// Fonts maps "family" or "family-bold"/"family-italic"/"family-bolditalic"
	// to font files.
	Fonts           map[string]string `yaml:"fonts"`
	WidthRatio      float64           `yaml:"width_ratio"`
	PaddingRatio    float64           `yaml:"padding_ratio"`
	ReferenceHeight float64           `yaml:"reference_height"`
}

type AssetsConfig struct {
	BaseURL string `yaml:"base_url" env:"PREVIEWDECK_ASSET_BASE_URL"`
}

type FFmpegConfig struct {
	Threads   int     `yaml:"threads" env:"PREVIEWDECK_FFMPEG_THREADS"`
	DecodeFPS float64 `yaml:"decode_fps"`
	MaxWidth  int     `yaml:"max_width"`
	MaxHeight int     `yaml:"max_height"`
}

// Load reads configuration from file or returns defaults. Environment
// overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Preview.Width <= 0 || c.Preview.Height <= 0 {
		return fmt.Errorf("preview size must be positive, got %dx%d", c.Preview.Width, c.Preview.Height)
	}
	if c.Preview.FPS <= 0 {
		return fmt.Errorf("preview fps must be positive, got %v", c.Preview.FPS)
	}
	switch c.Preview.Fit {
	case "contain", "cover":
	default:
		return fmt.Errorf("unknown fit mode %q", c.Preview.Fit)
	}
	if _, err := overlay.ParseColor(c.Preview.Background); err != nil {
		return fmt.Errorf("invalid background: %w", err)
	}
	switch c.Audio.Output {
	case "auto", "speaker", "virtual":
	default:
		return fmt.Errorf("unknown audio output %q", c.Audio.Output)
	}
	if c.Audio.SampleRate < 0 || c.Audio.Channels < 0 || c.Audio.Channels > 2 {
		return fmt.Errorf("audio sample_rate must be positive and channels 1 or 2")
	}
	if c.Mixer.RateClamp < 0 || c.Mixer.DuckLevel < 0 || c.Mixer.DuckLevel > 1 {
		return fmt.Errorf("mixer rate_clamp and duck_level must be within range")
	}
	return nil
}

func defaultConfig() *Config {
	d := deck.DefaultConfig()
	m := mixer.DefaultConfig()
	t := overlay.DefaultConfig()
	v := ffvideo.DefaultConfig()
	a := speaker.DefaultConfig()

	return &Config{
		Preview: PreviewConfig{
			Width:        1280,
			Height:       720,
			FPS:          30,
			Background:   "#000000",
			Fit:          "contain",
			CueLookahead: 1,
		},
		Deck: DeckConfig{
			PlayingDrift:  d.PlayingDriftThreshold,
			PausedDrift:   d.PausedDriftThreshold,
			MinCorrection: d.MinCorrectionInterval,
			CueTimeout:    d.CueTimeout,
		},
		Mixer: MixerConfig{
			Tick:           m.TickInterval,
			SeekThreshold:  m.SeekThreshold,
			MinSeek:        m.MinSeekInterval,
			RateGain:       m.RateGain,
			RateClamp:      m.RateClamp,
			DuckLevel:      m.DuckLevel,
			DuckRamp:       m.DuckRamp,
			RequireGesture: m.RequireGesture,
			Retry:          m.RetryInterval,
		},
		Audio: AudioConfig{
			Output:     "auto",
			SampleRate: a.SampleRate,
			Channels:   a.Channels,
			Buffer:     a.Buffer,
		},
		Text: TextConfig{
			Fonts:        make(map[string]string),
			WidthRatio:   t.WidthRatio,
			PaddingRatio: t.PaddingRatio,
		},
		FFmpeg: FFmpegConfig{
			Threads:   0,
			DecodeFPS: v.FPS,
			MaxWidth:  v.MaxWidth,
			MaxHeight: v.MaxHeight,
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func applyEnv(cfg *Config) {
	if v, ok := envInt("WIDTH"); ok {
		cfg.Preview.Width = v
	}
	if v, ok := envInt("HEIGHT"); ok {
		cfg.Preview.Height = v
	}
	if v, ok := envFloat("FPS"); ok {
		cfg.Preview.FPS = v
	}
	if v := envString("BACKGROUND"); v != "" {
		cfg.Preview.Background = v
	}
	if v := envString("FIT"); v != "" {
		cfg.Preview.Fit = strings.ToLower(v)
	}
	if v := envString("ASSET_BASE_URL"); v != "" {
		cfg.Assets.BaseURL = v
	}
	if v := envString("AUDIO_OUTPUT"); v != "" {
		cfg.Audio.Output = strings.ToLower(v)
	}
	if v, ok := envInt("FFMPEG_THREADS"); ok {
		cfg.FFmpeg.Threads = v
	}
	if v := envString("REQUIRE_GESTURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Mixer.RequireGesture = b
		}
	}
}

func envString(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + name))
}

// envInt ignores unset, malformed and negative values.
func envInt(name string) (int, bool) {
	raw := envString(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func envFloat(name string) (float64, bool) {
	raw := envString(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
		DefaultPath(),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// DefaultPath is the per-user config location.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".previewdeck", "config.yaml")
}

// Engine converts the configuration into engine settings.
func (c *Config) Engine() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Width = c.Preview.Width
	cfg.Height = c.Preview.Height
	cfg.FPS = c.Preview.FPS
	cfg.Background = engine.Background(c.Preview.Background)
	cfg.Fit = compositor.ParseFit(c.Preview.Fit)
	cfg.CueLookahead = c.Preview.CueLookahead

	cfg.Deck = deck.Config{
		PlayingDriftThreshold: c.Deck.PlayingDrift,
		PausedDriftThreshold:  c.Deck.PausedDrift,
		MinCorrectionInterval: c.Deck.MinCorrection,
		CueTimeout:            c.Deck.CueTimeout,
	}
	cfg.Mixer = mixer.Config{
		TickInterval:    c.Mixer.Tick,
		SeekThreshold:   c.Mixer.SeekThreshold,
		MinSeekInterval: c.Mixer.MinSeek,
		RateGain:        c.Mixer.RateGain,
		RateClamp:       c.Mixer.RateClamp,
		DuckLevel:       c.Mixer.DuckLevel,
		DuckRamp:        c.Mixer.DuckRamp,
		RequireGesture:  c.Mixer.RequireGesture,
		RetryInterval:   c.Mixer.Retry,
	}
	cfg.Text.Fonts = c.Text.Fonts
	if c.Text.WidthRatio > 0 {
		cfg.Text.WidthRatio = c.Text.WidthRatio
	}
	if c.Text.PaddingRatio > 0 {
		cfg.Text.PaddingRatio = c.Text.PaddingRatio
	}
	cfg.Text.ReferenceHeight = c.Text.ReferenceHeight
	return cfg
}

// Decoder converts the ffmpeg section into video decoder settings.
func (c *Config) Decoder() ffvideo.Config {
	cfg := ffvideo.DefaultConfig()
	if c.FFmpeg.DecodeFPS > 0 {
		cfg.FPS = c.FFmpeg.DecodeFPS
	}
	if c.FFmpeg.MaxWidth > 0 {
		cfg.MaxWidth = c.FFmpeg.MaxWidth
	}
	if c.FFmpeg.MaxHeight > 0 {
		cfg.MaxHeight = c.FFmpeg.MaxHeight
	}
	return cfg
}

// Speaker converts the audio section into output settings.
func (c *Config) Speaker() speaker.Config {
	cfg := speaker.DefaultConfig()
	if c.Audio.SampleRate > 0 {
		cfg.SampleRate = c.Audio.SampleRate
	}
	if c.Audio.Channels > 0 {
		cfg.Channels = c.Audio.Channels
	}
	if c.Audio.Buffer > 0 {
		cfg.Buffer = c.Audio.Buffer
	}
	return cfg
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
