package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment variable, e.g. DOISYNC_ENDPOINT.
const EnvPrefix = "DOISYNC"

// Config holds application configuration
type Config struct {
	Endpoint string
	Verbose  bool
	Strict   bool
	Server   ServerConfig
}

type ServerConfig struct {
	Port      string
	DataFile  string
	RedisAddr string
	RedisKey  string
	Reject    []string
}

// New returns a viper instance with the defaults and env bindings applied.
// Commands bind their flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("endpoint", "")
	v.SetDefault("verbose", false)
	v.SetDefault("strict", false)
	v.SetDefault("server.port", "8888")
	v.SetDefault("server.data-file", "")
	v.SetDefault("server.redis-addr", "")
	v.SetDefault("server.redis-key", "doisync:records")
	v.SetDefault("server.reject", []string{})
	return v
}

// LoadDotEnv loads .env files if present (missing files are ignored)
func LoadDotEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		slog.Debug("No .env file loaded", "err", err)
	}
}

// Load reads configuration from v.
func Load(v *viper.Viper) *Config {
	return &Config{
		Endpoint: strings.TrimSpace(v.GetString("endpoint")),
		Verbose:  v.GetBool("verbose"),
		Strict:   v.GetBool("strict"),
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			DataFile:  v.GetString("server.data-file"),
			RedisAddr: v.GetString("server.redis-addr"),
			RedisKey:  v.GetString("server.redis-key"),
			Reject:    v.GetStringSlice("server.reject"),
		},
	}
}

// RequireEndpoint returns the endpoint or an error explaining how to set it.
func (c *Config) RequireEndpoint() (string, error) {
	if c.Endpoint == "" {
		return "", fmt.Errorf("endpoint URL is required: pass --endpoint or set %s_ENDPOINT", EnvPrefix)
	}
	return c.Endpoint, nil
}
