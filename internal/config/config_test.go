package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oscipc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "unix", cfg.Network)
	assert.Equal(t, DefaultSocketPath(), cfg.Address)
	assert.Equal(t, 0, cfg.MaxConnections)
	assert.Equal(t, 1024*1024, cfg.MaxMessageSize)
	assert.Equal(t, 16, cfg.SendQueueSize)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)

	mode, err := cfg.SocketMode()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), mode)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
network: tcp
address: 127.0.0.1:9000
max_connections: 4
log:
  level: debug
  format: json
`)

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "tcp", cfg.Network)
	assert.Equal(t, "127.0.0.1:9000", cfg.Address)
	assert.Equal(t, 4, cfg.MaxConnections)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 16, cfg.SendQueueSize, "unset keys keep their defaults")
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "max_connections: 4\nlog:\n  level: debug\n")
	t.Setenv("OSCIPC_MAX_CONNECTIONS", "9")
	t.Setenv("OSCIPC_LOG_LEVEL", "warn")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.MaxConnections)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_OverrideWins(t *testing.T) {
	t.Setenv("OSCIPC_NETWORK", "unix")
	v := viper.New()
	v.Set("network", "tcp")
	v.Set("address", "localhost:7000")

	cfg, err := Load(v, writeConfig(t, "network: unix\n"))
	require.NoError(t, err)
	assert.Equal(t, "tcp", cfg.Network)
	assert.Equal(t, "localhost:7000", cfg.Address)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad network", "network: udp\n", "network"},
		{"remote tcp", "network: tcp\naddress: 10.0.0.1:9000\n", "loopback"},
		{"tcp without port", "network: tcp\naddress: 127.0.0.1\n", "address"},
		{"negative limit", "max_connections: -1\n", "max_connections"},
		{"zero message size", "max_message_size: 0\n", "max_message_size"},
		{"zero queue", "send_queue_size: 0\n", "send_queue_size"},
		{"bad mode", "socket_permissions: \"0999\"\n", "socket_permissions"},
		{"bad log format", "log:\n  format: xml\n", "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(viper.New(), writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_Options(t *testing.T) {
	cfg := &Config{
		Network:           "unix",
		Address:           "/tmp/x.sock",
		SocketPermissions: "0660",
		MaxConnections:    2,
		MaxMessageSize:    512,
		SendQueueSize:     8,
	}
	cfg.Log.Format = "text"

	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Options(), 4)

	mode, err := cfg.SocketMode()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o660), mode)
}
