package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Redis   RedisConfig
	Chain   ChainConfig
	Channel ChannelConfig
	Server  ServerConfig
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type ChainConfig struct {
	// AssetBackend selects the settlement asset: "memory" for a local
	// ledger, "erc20" for an on-chain token.
	AssetBackend  string `mapstructure:"asset_backend"`
	RPCURL        string `mapstructure:"rpc_url"`
	TokenAddress  string `mapstructure:"token_address"`
	EscrowAddress string `mapstructure:"escrow_address"`
	CustodyKey    string `mapstructure:"custody_key"`
	ChainID       int64  `mapstructure:"chain_id"`
}

type ChannelConfig struct {
	FacilitatorAddress string `mapstructure:"facilitator_address"`
	ServerAddress      string `mapstructure:"server_address"`
	ServerKey          string `mapstructure:"server_key"`
	PricePerCall       string `mapstructure:"price_per_call"`
	Network            string `mapstructure:"network"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8402)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("chain.asset_backend", "erc20")
	v.SetDefault("channel.price_per_call", "10000")
	v.SetDefault("channel.network", "eip155:31337")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"redis.addr":                  "REDIS_ADDR",
		"redis.password":              "REDIS_PASSWORD",
		"chain.asset_backend":         "ASSET_BACKEND",
		"chain.rpc_url":               "RPC_URL",
		"chain.token_address":         "TOKEN_ADDRESS",
		"chain.escrow_address":        "ESCROW_ADDRESS",
		"chain.custody_key":           "CUSTODY_KEY",
		"chain.chain_id":              "CHAIN_ID",
		"channel.facilitator_address": "FACILITATOR_ADDRESS",
		"channel.server_address":      "SERVER_ADDRESS",
		"channel.server_key":          "SERVER_KEY",
		"channel.price_per_call":      "PRICE_PER_CALL",
		"channel.network":             "NETWORK",
		"server.port":                 "PORT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	required := []req{
		{c.Chain.EscrowAddress, "ESCROW_ADDRESS"},
		{c.Channel.FacilitatorAddress, "FACILITATOR_ADDRESS"},
		{c.Channel.ServerAddress, "SERVER_ADDRESS"},
	}
	if c.Chain.AssetBackend == "erc20" {
		required = append(required,
			req{c.Chain.RPCURL, "RPC_URL"},
			req{c.Chain.TokenAddress, "TOKEN_ADDRESS"},
			req{c.Chain.CustodyKey, "CUSTODY_KEY"},
		)
	}
	for _, r := range required {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	return nil
}
