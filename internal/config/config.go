// Package config resolves observer and relay settings.
// Values are loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (CRYSTAL_BALL_*, SIMULATE)
// 3. State-dir config file ($CRYSTAL_BALL_DIR/config.yaml)
// 4. Defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/logging"
)

// Config holds all observer and relay configuration.
type Config struct {
	// Port is the local observer HTTP port.
	Port int `yaml:"port"`

	// PollIntervalMs is the observation poll interval in milliseconds.
	PollIntervalMs int `yaml:"poll_interval_ms"`

	// Simulate replaces OS discovery with the simulator backend.
	Simulate bool `yaml:"simulate"`

	// RelayPort is the relay HTTP port.
	RelayPort int `yaml:"relay_port"`

	// RelayExpiryMs is how long a published snapshot stays visible at the
	// relay without a refresh.
	RelayExpiryMs int `yaml:"relay_expiry_ms"`

	// RelayToken guards relay routes when non-empty.
	RelayToken string `yaml:"relay_token"`

	// RelayURL is the relay base URL the publisher posts to. Empty
	// disables publishing regardless of sharing settings.
	RelayURL string `yaml:"relay_url"`

	// ShareUser and ShareColor identify this host's publisher at the
	// relay. Identity is configured, never detected.
	ShareUser  string `yaml:"share_user"`
	ShareColor string `yaml:"share_color"`

	// LogLevel sets the process-wide log level.
	LogLevel string `yaml:"log_level"`

	// StateDir is resolved from the environment, never from the config
	// file (the file lives inside it).
	StateDir string `yaml:"-"`
}

// Default config values (used in resolution and validation).
const (
	DefaultPort           = 3000
	DefaultPollIntervalMs = 2000
	DefaultRelayPort      = 3001
	DefaultRelayExpiryMs  = 30000
	defaultLogLevel       = "info"

	// MinPollIntervalMs bounds how hot the poll loop may spin.
	MinPollIntervalMs = 250

	stateDirName    = ".crystal-ball"
	sessionsDirName = "sessions"
	configFileName  = "config.yaml"
	sharingFileName = "sharing.json"
)

var log = logging.NewLogger("config")

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Port:           DefaultPort,
		PollIntervalMs: DefaultPollIntervalMs,
		RelayPort:      DefaultRelayPort,
		RelayExpiryMs:  DefaultRelayExpiryMs,
		LogLevel:       defaultLogLevel,
		StateDir:       StateDir(),
	}
}

// Load resolves configuration with proper precedence.
// Priority: flags > env > state-dir file > defaults.
func Load(flagOverrides *Config) *Config {
	cfg := Default()

	if fileCfg := loadFromPath(cfg.ConfigPath()); fileCfg != nil {
		cfg = merge(cfg, fileCfg)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	cfg.clamp()
	return cfg
}

// StateDir resolves the state directory: $CRYSTAL_BALL_DIR when set,
// otherwise ~/.crystal-ball.
func StateDir() string {
	if dir := os.Getenv("CRYSTAL_BALL_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// No home directory: fall back to a relative state dir.
		return stateDirName
	}
	return filepath.Join(home, stateDirName)
}

// SessionsDir is where observed processes drop sidecar files.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.StateDir, sessionsDirName)
}

// ConfigPath is the YAML config file location inside the state dir.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.StateDir, configFileName)
}

// SharingPath is the publisher sharing-settings file location.
func (c *Config) SharingPath() string {
	return filepath.Join(c.StateDir, sharingFileName)
}

// EnsureStateDir creates the state directory and the sidecar sessions
// directory when missing.
func (c *Config) EnsureStateDir() error {
	if err := os.MkdirAll(c.SessionsDir(), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	return nil
}

// clamp repairs out-of-range values in place, warning rather than failing.
func (c *Config) clamp() {
	if c.PollIntervalMs < MinPollIntervalMs {
		log.WithField("poll_interval_ms", c.PollIntervalMs).Warn("Poll interval too small, clamping")
		c.PollIntervalMs = MinPollIntervalMs
	}
	if c.Port <= 0 || c.Port > 65535 {
		log.WithField("port", c.Port).Warn("Port out of range, using default")
		c.Port = DefaultPort
	}
	if c.RelayPort <= 0 || c.RelayPort > 65535 {
		log.WithField("relay_port", c.RelayPort).Warn("Relay port out of range, using default")
		c.RelayPort = DefaultRelayPort
	}
	if c.RelayExpiryMs <= 0 {
		c.RelayExpiryMs = DefaultRelayExpiryMs
	}
}

// loadFromPath loads config from a YAML file. A missing or unreadable
// file yields nil; a malformed file is warned about and ignored.
func loadFromPath(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.WithError(err).WithField("path", path).Warn("Malformed config file, ignoring")
		return nil
	}
	return &cfg
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("SIMULATE"); v == "true" {
		cfg.Simulate = true
	}
	if v := os.Getenv("CRYSTAL_BALL_USER"); v != "" {
		cfg.ShareUser = v
	}
	if v := os.Getenv("CRYSTAL_BALL_COLOR"); v != "" {
		cfg.ShareColor = v
	}
	if v := os.Getenv("CRYSTAL_BALL_RELAY"); v != "" {
		cfg.RelayURL = v
	}
	if v := os.Getenv("CRYSTAL_BALL_TOKEN"); v != "" {
		cfg.RelayToken = v
	}
	if v := os.Getenv("CRYSTAL_BALL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CRYSTAL_BALL_POLL_INTERVAL"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.PollIntervalMs = ms
		} else {
			log.WithField("value", v).Warn("Unparseable CRYSTAL_BALL_POLL_INTERVAL, keeping previous")
		}
	}
	return cfg
}

// mergeStr overwrites dst with src when src is non-empty.
func mergeStr(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// mergeInt overwrites dst with src when src is non-zero.
func mergeInt(dst *int, src int) {
	if src != 0 {
		*dst = src
	}
}

// merge merges src into dst, with src values taking precedence.
func merge(dst, src *Config) *Config {
	mergeInt(&dst.Port, src.Port)
	mergeInt(&dst.PollIntervalMs, src.PollIntervalMs)
	mergeInt(&dst.RelayPort, src.RelayPort)
	mergeInt(&dst.RelayExpiryMs, src.RelayExpiryMs)
	mergeStr(&dst.RelayToken, src.RelayToken)
	mergeStr(&dst.RelayURL, src.RelayURL)
	mergeStr(&dst.ShareUser, src.ShareUser)
	mergeStr(&dst.ShareColor, src.ShareColor)
	mergeStr(&dst.LogLevel, src.LogLevel)
	if src.Simulate {
		dst.Simulate = true
	}
	return dst
}

// ResolveUser returns the publisher identity: configured value first,
// then $USER, then the hostname.
func (c *Config) ResolveUser() string {
	if c.ShareUser != "" {
		return c.ShareUser
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	host, err := os.Hostname()
	if err != nil {
		return "anonymous"
	}
	return host
}
