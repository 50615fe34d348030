package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Registry RegistryConfig `toml:"registry"`
	Platform PlatformConfig `toml:"platform"`
	Tenant   TenantConfig   `toml:"tenant"`
	Auth     AuthConfig     `toml:"auth"`
	MCP      MCPConfig      `toml:"mcp"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// RegistryConfig locates the shared registry database. URL may be a plain
// file path DSN in single-node deployments or a remote database URL with a
// token.
type RegistryConfig struct {
	Driver string `toml:"driver"`
	URL    string `toml:"url"`
	Token  string `toml:"token"`
}

// PlatformConfig holds the management-API credentials used to create tenant
// database resources and mint their access tokens.
type PlatformConfig struct {
	APIURL             string `toml:"api_url"`
	Org                string `toml:"org"`
	APIToken           string `toml:"api_token"`
	Group              string `toml:"group"`
	TokenExpiration    string `toml:"token_expiration"`
	TokenAuthorization string `toml:"token_authorization"`
	URLScheme          string `toml:"url_scheme"`
}

type TenantConfig struct {
	Driver string `toml:"driver"`
}

type AuthConfig struct {
	JWTSecret      string `toml:"jwt_secret"`
	TokenExpiryMin int    `toml:"token_expiry_min"`
}

type MCPConfig struct {
	Enabled bool `toml:"enabled"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Registry: RegistryConfig{
			Driver: "sqlite",
			URL:    "data/registry.db",
		},
		Platform: PlatformConfig{
			APIURL:             "https://api.turso.tech",
			Group:              "default",
			TokenExpiration:    "never",
			TokenAuthorization: "full-access",
			URLScheme:          "libsql",
		},
		Tenant: TenantConfig{
			Driver: "sqlite",
		},
		Auth: AuthConfig{
			JWTSecret:      "change-me-in-production",
			TokenExpiryMin: 1440, // 24h
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
