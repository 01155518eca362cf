// Package config provides configuration loading for the query gateway.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration recognized by the gateway.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Scalar        ScalarConfig        `mapstructure:"scalar"`
	Chains        []ChainConfig       `mapstructure:"chains"`
	Subscriptions SubscriptionsConfig `mapstructure:"subscriptions"`
}

// ServerConfig holds HTTP server configuration. The query API and the Prometheus
// metrics endpoint are served on separate ports.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"`
}

// RedisConfig backs the per-IP request counters used by the thin rate
// limiter; Redis itself is an external collaborator.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GatewayConfig holds the gateway's own tuning options.
type GatewayConfig struct {
	GatewayID                 string        `mapstructure:"gateway_id"`
	APIKeyPaymentRequired     bool          `mapstructure:"api_key_payment_required"`
	IndexerSelectionRetryLimit int          `mapstructure:"indexer_selection_retry_limit"`
	QueryFeesTarget           float64       `mapstructure:"query_fees_target"`
	MinIndexerVersion         string        `mapstructure:"min_indexer_version"`
	MinGraphNodeVersion       string        `mapstructure:"min_graph_node_version"`
	POIBlocklist              []POIBlockEntry `mapstructure:"poi_blocklist"`
	POIBlocklistUpdateInterval time.Duration `mapstructure:"poi_blocklist_update_interval"`
	IPRateLimit               uint16        `mapstructure:"ip_rate_limit"`
	SpecialAPIKeys            []string      `mapstructure:"special_api_keys"`
	L2Gateway                 string        `mapstructure:"l2_gateway"`
	RefreshInterval           time.Duration `mapstructure:"refresh_interval"`
	AddressBlocklist          []string      `mapstructure:"address_blocklist"`
	HostBlocklistCIDRs        []string      `mapstructure:"host_blocklist_cidrs"`
	NetworkSubgraph           string        `mapstructure:"network_subgraph"`
	APIKeysURL                string        `mapstructure:"api_keys_url"`
	APIKeysRefreshInterval    time.Duration `mapstructure:"api_keys_refresh_interval"`
	MaxBlocksBehind           uint64        `mapstructure:"max_blocks_behind"`
	TAPCutoverVersion         string        `mapstructure:"tap_cutover_version"`
	ChainHeadPollInterval     time.Duration `mapstructure:"chain_head_poll_interval"`
}

// POIBlockEntry is a single blocked (deployment, block, poi) tuple.
type POIBlockEntry struct {
	Deployment string `mapstructure:"deployment"`
	Block      uint64 `mapstructure:"block"`
	POI        string `mapstructure:"poi"`
}

// ScalarConfig holds the receipt-signing secrets. Secrets are never rendered by
// (ScalarConfig).LogValue.
type ScalarConfig struct {
	Signer       string `mapstructure:"signer"`
	LegacySigner string `mapstructure:"legacy_signer"`
	ChainID      uint64 `mapstructure:"chain_id"`
	Verifier     string `mapstructure:"verifier"`
}

// LogValue redacts the signing secrets from structured logs.
func (c ScalarConfig) LogValue() string {
	return fmt.Sprintf("{chain_id:%d verifier:%s signer:<redacted> legacy_signer:<redacted>}", c.ChainID, c.Verifier)
}

// ChainConfig describes one on-chain RPC collaborator used to resolve chain heads.
type ChainConfig struct {
	Names   []string `mapstructure:"names"`
	RPCType string   `mapstructure:"rpc_type"` // ethereum | blockmeta
	RPCURL  string   `mapstructure:"rpc_url"`
	RPCAuth string   `mapstructure:"rpc_auth"` // never rendered in diagnostics
}

// SubscriptionsConfig configures the subscription-ticket auth peer of the API-key
// auth path.
type SubscriptionsConfig struct {
	Domains       []string `mapstructure:"domains"`
	SpecialSigners []string `mapstructure:"special_signers"`
	Subgraph      string   `mapstructure:"subgraph"`
	Ticket        string   `mapstructure:"ticket"`
	RatePerQuery  float64  `mapstructure:"rate_per_query"`
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/query-gateway")

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.environment", "dev")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("gateway.api_key_payment_required", false)
	v.SetDefault("gateway.indexer_selection_retry_limit", 3)
	v.SetDefault("gateway.query_fees_target", 0.00002)
	v.SetDefault("gateway.min_indexer_version", "0.0.0")
	v.SetDefault("gateway.min_graph_node_version", "0.0.0")
	v.SetDefault("gateway.poi_blocklist_update_interval", "20m")
	v.SetDefault("gateway.ip_rate_limit", 100)
	v.SetDefault("gateway.refresh_interval", "30s")
	v.SetDefault("gateway.api_keys_refresh_interval", "30s")
	v.SetDefault("gateway.max_blocks_behind", 0)
	v.SetDefault("gateway.chain_head_poll_interval", "10s")

	v.SetDefault("scalar.chain_id", 1)
}
