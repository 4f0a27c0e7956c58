package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 注文データの取得元
const (
	OrderSourceRemote  = "remote"
	OrderSourceHistory = "history"
)

// Config holds the application configuration
type Config struct {
	Port                    string
	Environment             string
	LogLevel                string
	APIKey                  string
	AllowedOrigins          string
	DatabaseURL             string
	ShopifyAPIVersion       string
	ShopifyEndpointTemplate string
	OrderSource             string
	OrderRetentionDays      int
	PruneInterval           time.Duration
	CredentialCacheTTL      time.Duration
	CredentialCacheSize     int
	PolicyFile              string
}

var defaults = map[string]interface{}{
	"PORT":                      "8080",
	"ENVIRONMENT":               "development",
	"LOG_LEVEL":                 "info",
	"API_KEY":                   "",
	"ALLOWED_ORIGINS":           "http://localhost:3000",
	"DATABASE_URL":              "",
	"SHOPIFY_API_VERSION":       "2024-10",
	"SHOPIFY_ENDPOINT_TEMPLATE": "https://%s/admin/api/%s/graphql.json",
	"ORDER_SOURCE":              OrderSourceRemote,
	"ORDER_RETENTION_DAYS":      90,
	"PRUNE_INTERVAL":            "24h",
	"CREDENTIAL_CACHE_TTL":      "5m",
	"CREDENTIAL_CACHE_SIZE":     1024,
	"POLICY_FILE":               "configs/prediction_policy.yaml",
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	cfg := &Config{
		Port:                    v.GetString("PORT"),
		Environment:             v.GetString("ENVIRONMENT"),
		LogLevel:                v.GetString("LOG_LEVEL"),
		APIKey:                  v.GetString("API_KEY"),
		AllowedOrigins:          v.GetString("ALLOWED_ORIGINS"),
		DatabaseURL:             v.GetString("DATABASE_URL"),
		ShopifyAPIVersion:       v.GetString("SHOPIFY_API_VERSION"),
		ShopifyEndpointTemplate: v.GetString("SHOPIFY_ENDPOINT_TEMPLATE"),
		OrderSource:             strings.ToLower(v.GetString("ORDER_SOURCE")),
		OrderRetentionDays:      v.GetInt("ORDER_RETENTION_DAYS"),
		PruneInterval:           v.GetDuration("PRUNE_INTERVAL"),
		CredentialCacheTTL:      v.GetDuration("CREDENTIAL_CACHE_TTL"),
		CredentialCacheSize:     v.GetInt("CREDENTIAL_CACHE_SIZE"),
		PolicyFile:              v.GetString("POLICY_FILE"),
	}
	if cfg.OrderSource != OrderSourceHistory {
		cfg.OrderSource = OrderSourceRemote
	}
	return cfg
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Origins CORSで許可するオリジンの一覧
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
