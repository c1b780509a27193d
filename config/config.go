// Package config loads the lightshow server configuration from defaults, an
// optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LIGHTSHOW_SERVER_PORT.
const EnvPrefix = "LIGHTSHOW"

// ServiceType is the DNS-SD service type advertised on the local network.
const ServiceType = "_tuchoir-lightshow._tcp"

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Sessions  SessionsConfig
	Discovery DiscoveryConfig
	Log       LogConfig
	Metrics   MetricsConfig
	Ngrok     NgrokConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type SessionsConfig struct {
	MaxNameLength int  `mapstructure:"max_name_length"`
	HostOnlyClose bool `mapstructure:"host_only_close"`
}

type DiscoveryConfig struct {
	Enabled  bool
	Instance string
	Service  string
	Domain   string
}

type LogConfig struct {
	Level  string
	Pretty bool
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type NgrokConfig struct {
	Enabled   bool
	AuthToken string `mapstructure:"auth_token"`
	Domain    string
}

// Load reads configuration. An explicit path must exist; without one,
// lightshow.yaml is looked up in . and ./config and may be absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional names used by hosting platforms and the ngrok CLI.
	_ = v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")
	_ = v.BindEnv("ngrok.enabled", EnvPrefix+"_NGROK_ENABLED", "NGROK_ENABLED")
	_ = v.BindEnv("ngrok.auth_token", EnvPrefix+"_NGROK_AUTH_TOKEN", "NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN")
	_ = v.BindEnv("ngrok.domain", EnvPrefix+"_NGROK_DOMAIN", "NGROK_DOMAIN")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("lightshow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Discovery.Instance == "" {
		cfg.Discovery.Instance = defaultInstance()
	}

	return &cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	cfg.Discovery.Instance = defaultInstance()
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("websocket.pong_wait", 60*time.Second)
	v.SetDefault("websocket.ping_interval", 54*time.Second)
	v.SetDefault("websocket.write_wait", 10*time.Second)
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.send_buffer", 256)

	v.SetDefault("sessions.max_name_length", 64)
	v.SetDefault("sessions.host_only_close", false)

	v.SetDefault("discovery.enabled", true)
	v.SetDefault("discovery.instance", "")
	v.SetDefault("discovery.service", ServiceType)
	v.SetDefault("discovery.domain", "local.")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("ngrok.enabled", false)
	v.SetDefault("ngrok.auth_token", "")
	v.SetDefault("ngrok.domain", "")
}

func defaultInstance() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "lightshow"
	}
	return "lightshow on " + host
}

// Validate checks the values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.WebSocket.PongWait <= 0 {
		errs = append(errs, errors.New("websocket.pong_wait must be positive"))
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		errs = append(errs, fmt.Errorf("websocket.ping_interval %s must be positive and less than pong_wait %s",
			c.WebSocket.PingInterval, c.WebSocket.PongWait))
	}
	if c.WebSocket.WriteWait <= 0 {
		errs = append(errs, errors.New("websocket.write_wait must be positive"))
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("websocket.max_message_size must be positive"))
	}
	if c.WebSocket.SendBuffer <= 0 {
		errs = append(errs, errors.New("websocket.send_buffer must be positive"))
	}
	if c.Sessions.MaxNameLength <= 0 {
		errs = append(errs, errors.New("sessions.max_name_length must be positive"))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path))
	}
	if c.Ngrok.Enabled && c.Ngrok.AuthToken == "" {
		errs = append(errs, errors.New("ngrok.auth_token is required when ngrok is enabled"))
	}

	return errors.Join(errs...)
}
