package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"voicekey/internal/logging"
)

const (
	DefaultBridgeAddress = "127.0.0.1:38485"
	DefaultReadTimeout   = 250 * time.Millisecond
	DefaultBufferSize    = 8192
	DefaultHTTPAddress   = "127.0.0.1:38486"
)

// Config stores runtime configuration for the overlay bridge and the sender.
type Config struct {
	Bridge  BridgeConfig   `yaml:"bridge"`
	HTTP    HTTPConfig     `yaml:"http"`
	Logging logging.Config `yaml:"logging"`
	Debug   DebugConfig    `yaml:"debug"`
	Audio   AudioConfig    `yaml:"audio"`
	Meter   MeterConfig    `yaml:"meter"`
}

type BridgeConfig struct {
	Address       string `yaml:"address"`
	ReadTimeoutMS int    `yaml:"read_timeout_ms"`
	BufferSize    int    `yaml:"buffer_size"`
}

// ReadTimeout returns the receive deadline as a duration.
func (c BridgeConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMS) * time.Millisecond
}

type HTTPConfig struct {
	Address string `yaml:"address"`
	// Enabled turns on the loopback HTTP surface (state, websocket, metrics).
	Enabled bool `yaml:"enabled"`
}

type DebugConfig struct {
	// States logs every published state.
	States bool `yaml:"states"`
	// Verbose also logs level-only updates.
	Verbose bool `yaml:"verbose"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"recorder_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
}

type MeterConfig struct {
	PushIntervalMS   int `yaml:"push_interval_ms"`
	NoAudioTimeoutMS int `yaml:"no_audio_timeout_ms"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Bridge: BridgeConfig{
			Address:       DefaultBridgeAddress,
			ReadTimeoutMS: int(DefaultReadTimeout / time.Millisecond),
			BufferSize:    DefaultBufferSize,
		},
		HTTP: HTTPConfig{
			Address: DefaultHTTPAddress,
			Enabled: false,
		},
		Logging: logging.Config{Level: "info", Format: "auto"},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
		},
		Meter: MeterConfig{
			PushIntervalMS:   20,
			NoAudioTimeoutMS: 5000,
		},
	}
}

// Load resolves configuration from defaults, an optional YAML file and
// environment variables, in increasing precedence.
func Load() (Config, error) {
	cfg := Default()

	path, explicit := configPath()
	if path != "" {
		// The implicit path is optional; an explicit one must exist.
		if err := loadFile(path, &cfg); err != nil && (explicit || !errors.Is(err, os.ErrNotExist)) {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	sanitize(&cfg)
	return cfg, nil
}

func configPath() (string, bool) {
	if explicit := strings.TrimSpace(os.Getenv("VOICEKEY_OVERLAY_CONFIG")); explicit != "" {
		return explicit, true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(home, ".config", "voicekey", "overlay.yml"), false
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Bridge.Address = envOrDefault("VOICEKEY_OVERLAY_ADDR", cfg.Bridge.Address)
	cfg.Bridge.ReadTimeoutMS = envOrDefaultInt("VOICEKEY_OVERLAY_READ_TIMEOUT_MS", cfg.Bridge.ReadTimeoutMS)
	cfg.Bridge.BufferSize = envOrDefaultInt("VOICEKEY_OVERLAY_BUFFER_SIZE", cfg.Bridge.BufferSize)

	if addr, ok := os.LookupEnv("VOICEKEY_OVERLAY_HTTP_ADDR"); ok {
		addr = strings.TrimSpace(addr)
		cfg.HTTP.Enabled = addr != ""
		if addr != "" {
			cfg.HTTP.Address = addr
		}
	}

	cfg.Logging.Level = firstNonEmpty(os.Getenv("VOICEKEY_LOG_LEVEL"), cfg.Logging.Level)
	cfg.Logging.Format = firstNonEmpty(os.Getenv("VOICEKEY_LOG_FORMAT"), cfg.Logging.Format)
	cfg.Logging.ReportCaller = envOrDefaultBool("VOICEKEY_LOG_CALLER", cfg.Logging.ReportCaller)
	cfg.Debug.States = envOrDefaultBool("VOICEKEY_DEBUG_OVERLAY", cfg.Debug.States)
	cfg.Debug.Verbose = envOrDefaultBool("VOICEKEY_DEBUG_OVERLAY_VERBOSE", cfg.Debug.Verbose)

	cfg.Audio.RecorderCommand = envOrDefault("VOICEKEY_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("VOICEKEY_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(
		os.Getenv("VOICEKEY_AUDIO_INPUT_DEVICE"),
		os.Getenv("VOICEKEY_PULSE_SOURCE"),
		cfg.Audio.InputDevice,
	)
	cfg.Audio.SampleRate = envOrDefaultInt("VOICEKEY_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("VOICEKEY_CHANNELS", cfg.Audio.Channels)

	cfg.Meter.PushIntervalMS = envOrDefaultInt("VOICEKEY_LEVEL_PUSH_INTERVAL_MS", cfg.Meter.PushIntervalMS)
	cfg.Meter.NoAudioTimeoutMS = envOrDefaultInt("VOICEKEY_NO_AUDIO_TIMEOUT_MS", cfg.Meter.NoAudioTimeoutMS)
}

func sanitize(cfg *Config) {
	defaults := Default()

	if !isLoopbackAddress(cfg.Bridge.Address) {
		cfg.Bridge.Address = defaults.Bridge.Address
	}
	if cfg.Bridge.ReadTimeoutMS <= 0 {
		cfg.Bridge.ReadTimeoutMS = defaults.Bridge.ReadTimeoutMS
	}
	if cfg.Bridge.BufferSize < 512 {
		cfg.Bridge.BufferSize = defaults.Bridge.BufferSize
	}
	if !isLoopbackAddress(cfg.HTTP.Address) {
		cfg.HTTP.Address = defaults.HTTP.Address
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = defaults.Audio.SampleRate
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = defaults.Audio.Channels
	}
	if cfg.Meter.PushIntervalMS <= 0 {
		cfg.Meter.PushIntervalMS = defaults.Meter.PushIntervalMS
	}
	if cfg.Meter.NoAudioTimeoutMS <= 0 {
		cfg.Meter.NoAudioTimeoutMS = defaults.Meter.NoAudioTimeoutMS
	}
}

// isLoopbackAddress accepts host:port pairs on the local machine only.
func isLoopbackAddress(addr string) bool {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil || port == "" {
		return false
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
