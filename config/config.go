// Package config loads voicelink settings from YAML files and VOICELINK_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opd-ai/voicelink/av"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, so gateway.version
// is read from VOICELINK_GATEWAY_VERSION.
const EnvPrefix = "VOICELINK"

// ErrMissingSetting is returned by Validate when a required value is empty.
var ErrMissingSetting = errors.New("missing required setting")

// Config is the complete client configuration.
type Config struct {
	Identity  IdentityConfig    `mapstructure:"identity"`
	Server    ServerConfig      `mapstructure:"server"`
	Gateway   GatewayConfig     `mapstructure:"gateway"`
	Reconnect ReconnectConfig   `mapstructure:"reconnect"`
	Log       LogConfig         `mapstructure:"log"`
	Metrics   MetricsConfig     `mapstructure:"metrics"`
	Peers     map[string]string `mapstructure:"peers"`
}

// IdentityConfig names the room and the local user.
type IdentityConfig struct {
	RoomID    string `mapstructure:"room_id"`
	ChannelID string `mapstructure:"channel_id"`
	UserID    string `mapstructure:"user_id"`
}

// ServerConfig is the voice server assignment.
type ServerConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	SessionID string `mapstructure:"session_id"`
	Token     string `mapstructure:"token"`
}

// GatewayConfig tunes the signaling connection.
type GatewayConfig struct {
	Version          int           `mapstructure:"version"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	CloseGracePeriod time.Duration `mapstructure:"close_grace_period"`
	ResolveTimeout   time.Duration `mapstructure:"resolve_timeout"`
}

// ReconnectConfig bounds resume attempts.
type ReconnectConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
}

// LogConfig selects the logrus level and formatter.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Address disables it.
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

func setDefaults(v *viper.Viper) {
	d := av.DefaultOptions()

	v.SetDefault("identity.room_id", "")
	v.SetDefault("identity.channel_id", "")
	v.SetDefault("identity.user_id", "")
	v.SetDefault("server.endpoint", "")
	v.SetDefault("server.session_id", "")
	v.SetDefault("server.token", "")

	v.SetDefault("gateway.version", d.GatewayVersion)
	v.SetDefault("gateway.dial_timeout", d.DialTimeout)
	v.SetDefault("gateway.write_wait", d.WriteWait)
	v.SetDefault("gateway.close_grace_period", d.CloseGracePeriod)
	v.SetDefault("gateway.resolve_timeout", d.ResolveTimeout)

	v.SetDefault("reconnect.max_attempts", d.MaxReconnectAttempts)
	v.SetDefault("reconnect.backoff", d.ReconnectBackoff)
	v.SetDefault("reconnect.backoff_max", d.ReconnectBackoffMax)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.address", "")
}

// Load reads path, if non-empty, over the defaults and then applies
// environment overrides. A named file that cannot be read is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "config.Load",
			"path":     v.ConfigFileUsed(),
		}).Debug("Loaded config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields a session cannot start without.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"identity.room_id", c.Identity.RoomID},
		{"identity.user_id", c.Identity.UserID},
		{"server.endpoint", c.Server.Endpoint},
		{"server.session_id", c.Server.SessionID},
		{"server.token", c.Server.Token},
	}
	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSetting, strings.Join(missing, ", "))
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := c.Log.formatter(); err != nil {
		return err
	}
	return nil
}

// Session returns the identity and server assignment for av.Manager.Establish.
func (c *Config) Session() (av.Identity, av.ServerInfo) {
	return av.Identity{
			RoomID:    c.Identity.RoomID,
			ChannelID: c.Identity.ChannelID,
			UserID:    c.Identity.UserID,
		}, av.ServerInfo{
			Endpoint:  c.Server.Endpoint,
			SessionID: c.Server.SessionID,
			Token:     c.Server.Token,
		}
}

// Options converts the gateway and reconnect settings.
func (c *Config) Options() av.Options {
	opts := av.DefaultOptions()
	opts.GatewayVersion = c.Gateway.Version
	opts.DialTimeout = c.Gateway.DialTimeout
	opts.WriteWait = c.Gateway.WriteWait
	opts.CloseGracePeriod = c.Gateway.CloseGracePeriod
	opts.ResolveTimeout = c.Gateway.ResolveTimeout
	opts.MaxReconnectAttempts = c.Reconnect.MaxAttempts
	opts.ReconnectBackoff = c.Reconnect.Backoff
	opts.ReconnectBackoffMax = c.Reconnect.BackoffMax
	return opts
}

// Resolver returns a resolver over the peers table, or nil when it is empty.
// Keys are lower-cased by the loader.
func (c *Config) Resolver() av.PeerResolver {
	if len(c.Peers) == 0 {
		return nil
	}
	peers := make(av.StaticResolver, len(c.Peers))
	for id, name := range c.Peers {
		peers[id] = name
	}
	return peers
}

// Apply configures logger with the level and formatter.
func (l LogConfig) Apply(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	formatter, err := l.formatter()
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	logger.SetFormatter(formatter)
	return nil
}

func (l LogConfig) formatter() (logrus.Formatter, error) {
	switch strings.ToLower(l.Format) {
	case "", "text":
		return &logrus.TextFormatter{FullTimestamp: true}, nil
	case "json":
		return &logrus.JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("log.format: unknown format %q", l.Format)
	}
}
