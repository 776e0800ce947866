package mpd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	navigationcore "github.com/mikey-austin/montage_panel/internal/modules/navigation_core"
)

// Config is the top-level configuration for mpd.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Modules ModulesConfig `toml:"modules"`
	Flags   FlagsConfig   `toml:"flags"`
}

// ServerConfig defines shared server settings.
type ServerConfig struct {
	Broker    string     `toml:"broker"`
	Identity  string     `toml:"identity"`
	TopicBase string     `toml:"topic_base"`
	LogLevel  string     `toml:"log_level"`
	LogFormat string     `toml:"log_format"`
	LogOutput string     `toml:"log_output"`
	LogSource bool       `toml:"log_source"`
	LogUTC    bool       `toml:"log_utc"`
	LogColor  bool       `toml:"log_color"`
	TLS       TLSConfig  `toml:"tls"`
	Auth      AuthConfig `toml:"auth"`
}

// TLSConfig holds TLS paths for MQTT.
type TLSConfig struct {
	CA   string `toml:"ca"`
	Cert string `toml:"cert"`
	Key  string `toml:"key"`
}

// AuthConfig holds MQTT auth credentials.
type AuthConfig struct {
	User string `toml:"user"`
	Pass string `toml:"pass"`
}

// ModulesConfig holds module configurations.
type ModulesConfig struct {
	Navigator    NavigatorConfig    `toml:"navigator"`
	Surface      SurfaceConfig      `toml:"surface"`
	MediaServer  MediaServerConfig  `toml:"media_server"`
	EmbeddedMQTT EmbeddedMQTTConfig `toml:"embedded_mqtt"`
	Metrics      MetricsConfig      `toml:"metrics"`
}

// NavigatorConfig configures the navigator module.
type NavigatorConfig struct {
	Enabled        bool          `toml:"enabled"`
	NodeID         string        `toml:"node_id"`
	Name           string        `toml:"name"`
	DeviceID       string        `toml:"device_id"`
	ScreenID       string        `toml:"screen_id"`
	SurfaceNodeID  string        `toml:"surface_node_id"`
	ServerURL      string        `toml:"server_url"`
	ServerToken    string        `toml:"server_token"`
	TimeoutMS      int64         `toml:"timeout_ms"`
	CommandRate    float64       `toml:"command_rate"`
	CommandBurst   int           `toml:"command_burst"`
	FeedRetryMaxMS int64         `toml:"feed_retry_max_ms"`
	Timings        TimingsConfig `toml:"timings"`
}

// TimingsConfig holds navigation core timings in milliseconds. Zero keeps
// the default.
type TimingsConfig struct {
	PollBaseMS         int64 `toml:"poll_base_ms"`
	PollMaxMS          int64 `toml:"poll_max_ms"`
	PollAttempts       int   `toml:"poll_attempts"`
	SettleDelayMS      int64 `toml:"settle_delay_ms"`
	ChangeWindowMS     int64 `toml:"change_window_ms"`
	EphemeralBufferMS  int64 `toml:"ephemeral_buffer_ms"`
	DeleteRetryDelayMS int64 `toml:"delete_retry_delay_ms"`
	SweepThreshold     int   `toml:"sweep_threshold"`
	EchoWindowMS       int64 `toml:"echo_window_ms"`
}

// Timings converts the config into navigation core timings.
func (t TimingsConfig) Timings() navigationcore.Timings {
	ms := func(v int64) time.Duration { return time.Duration(v) * time.Millisecond }
	return navigationcore.Timings{
		PollBase:         ms(t.PollBaseMS),
		PollMax:          ms(t.PollMaxMS),
		PollAttempts:     t.PollAttempts,
		SettleDelay:      ms(t.SettleDelayMS),
		ChangeWindow:     ms(t.ChangeWindowMS),
		EphemeralBuffer:  ms(t.EphemeralBufferMS),
		DeleteRetryDelay: ms(t.DeleteRetryDelayMS),
		SweepThreshold:   t.SweepThreshold,
		EchoWindow:       ms(t.EchoWindowMS),
	}.WithDefaults()
}

// SurfaceConfig configures the playback surface module.
type SurfaceConfig struct {
	Enabled     bool   `toml:"enabled"`
	NodeID      string `toml:"node_id"`
	Name        string `toml:"name"`
	InitDelayMS int64  `toml:"init_delay_ms"`
	History     int    `toml:"history"`
}

// MediaServerConfig configures the reference media server.
type MediaServerConfig struct {
	Enabled      bool   `toml:"enabled"`
	Listen       string `toml:"listen"`
	StoragePath  string `toml:"storage_path"`
	Token        string `toml:"token"`
	ConfirmLagMS int64  `toml:"confirm_lag_ms"`
}

// EmbeddedMQTTConfig configures the embedded MQTT broker.
type EmbeddedMQTTConfig struct {
	Enabled        bool   `toml:"enabled"`
	Listen         string `toml:"listen"`
	AllowAnonymous bool   `toml:"allow_anonymous"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	TLSCA          string `toml:"tls_ca"`
	TLSCert        string `toml:"tls_cert"`
	TLSKey         string `toml:"tls_key"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// FlagsConfig selects the durable flag store.
type FlagsConfig struct {
	Backend       string `toml:"backend"`
	Path          string `toml:"path"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisPrefix   string `toml:"redis_prefix"`
}

// LoadConfig loads a config file from path.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, err
	}
	if info.IsDir() {
		return Config{}, errors.New("config path is a directory")
	}

	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, &UnknownKeysError{Keys: keyStrings(undecoded)}
	}
	return cfg, nil
}

// UnknownKeysError reports config keys mpd does not understand.
type UnknownKeysError struct {
	Keys []string
}

func (e *UnknownKeysError) Error() string {
	return "unknown config keys: " + strings.Join(e.Keys, ", ")
}

func keyStrings(keys []toml.Key) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key.String())
	}
	return out
}

// DefaultConfigPath returns the default config location.
func DefaultConfigPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "mp", "mpd.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "mp", "mpd.toml"), nil
}
