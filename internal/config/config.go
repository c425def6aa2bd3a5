// Package config loads the gateway daemon configuration.
package config

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/Zereker/oscipc"
)

const envVarPrefix = "OSCIPC"

// Config contains every option of the gateway daemon.
type Config struct {
	// Network is "unix" or "tcp".
	Network string `mapstructure:"network"`
	// Address is a socket path for unix or a loopback host:port for tcp.
	Address string `mapstructure:"address"`
	// Octal file mode applied to the unix socket, e.g. "0600". Blank leaves it as created.
	SocketPermissions string `mapstructure:"socket_permissions"`
	// Maximum number of concurrent connections. 0 means no limit.
	MaxConnections int `mapstructure:"max_connections"`
	// Largest frame accepted from a client, in bytes.
	MaxMessageSize int `mapstructure:"max_message_size"`
	// Number of responses queued per connection before writers block.
	SendQueueSize int `mapstructure:"send_queue_size"`

	Log struct {
		// Minimum level of a log required to be written. Options: debug, info, warn, error
		Level string `mapstructure:"level"`
		// Output format. Options: text, logfmt, json
		Format string `mapstructure:"format"`
		// Full path to file to which logs will be written. Blank will write to stderr.
		FilePath string `mapstructure:"file_path"`
	} `mapstructure:"log"`
}

// DefaultSocketPath is the unix socket used when none is configured.
func DefaultSocketPath() string {
	return filepath.Join(os.TempDir(), "oscipc.sock")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network", "unix")
	v.SetDefault("address", DefaultSocketPath())
	v.SetDefault("socket_permissions", "0600")
	v.SetDefault("max_connections", 0)
	v.SetDefault("max_message_size", 1024*1024)
	v.SetDefault("send_queue_size", 16)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file_path", "")
}

// Load reads the YAML file at path into v and decodes the result. With an
// empty path, oscipc.yaml is looked up in the working directory and in
// $HOME/.config/oscipc, and defaults apply when none exists. Any key can be
// overridden through the environment, e.g. log.level with OSCIPC_LOG_LEVEL.
// Flags bound on v take precedence over both.
func Load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("oscipc")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "oscipc"))
		}
	}

	v.SetEnvPrefix(envVarPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Network {
	case "unix":
		if c.Address == "" {
			return errors.New("address: socket path is required")
		}
	case "tcp":
		host, _, err := net.SplitHostPort(c.Address)
		if err != nil {
			return errors.Wrap(err, "address")
		}
		if !isLoopback(host) {
			return errors.Errorf("address: %s is not a loopback address", host)
		}
	default:
		return errors.Errorf("network: unsupported %q, want unix or tcp", c.Network)
	}

	if _, err := c.SocketMode(); err != nil {
		return err
	}
	if c.MaxConnections < 0 {
		return errors.Errorf("max_connections: must not be negative, got %d", c.MaxConnections)
	}
	if c.MaxMessageSize <= 0 {
		return errors.Errorf("max_message_size: must be positive, got %d", c.MaxMessageSize)
	}
	if c.SendQueueSize <= 0 {
		return errors.Errorf("send_queue_size: must be positive, got %d", c.SendQueueSize)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "logfmt", "json":
	default:
		return errors.Errorf("log.format: unsupported %q", c.Log.Format)
	}
	return nil
}

// SocketMode parses SocketPermissions. A blank value yields 0.
func (c *Config) SocketMode() (os.FileMode, error) {
	if c.SocketPermissions == "" {
		return 0, nil
	}
	mode, err := strconv.ParseUint(c.SocketPermissions, 8, 32)
	if err != nil || mode > 0o777 {
		return 0, errors.Errorf("socket_permissions: invalid mode %q", c.SocketPermissions)
	}
	return os.FileMode(mode), nil
}

// Options converts the configuration into server options.
func (c *Config) Options() []oscipc.Option {
	mode, _ := c.SocketMode()
	return []oscipc.Option{
		oscipc.MaxConnectionsOption(c.MaxConnections),
		oscipc.MaxMessageSizeOption(c.MaxMessageSize),
		oscipc.BufferSizeOption(c.SendQueueSize),
		oscipc.SocketPermissionsOption(mode),
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
