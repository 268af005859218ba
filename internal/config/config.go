package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrPreconditionMissing is returned when a value needed before any remote
// interaction is absent.
var ErrPreconditionMissing = errors.New("required config missing")

type Config struct {
	Chain     ChainConfig
	Deploy    DeployConfig
	Store     StoreConfig
	Redis     RedisConfig
	Artifacts ArtifactsConfig
	Log       LogConfig
	Server    ServerConfig
}

type ChainConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	PrivateKey     string        `mapstructure:"private_key"`
	ChainID        int64         `mapstructure:"chain_id"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	GasLimit       uint64        `mapstructure:"gas_limit"`
}

type DeployConfig struct {
	TokenName       string `mapstructure:"token_name"`
	TokenSymbol     string `mapstructure:"token_symbol"`
	ClaimAmount     string `mapstructure:"claim_amount"` // wei
	CooldownSeconds uint64 `mapstructure:"cooldown_seconds"`
	Mode            string `mapstructure:"mode"`
}

type StoreConfig struct {
	Path    string        `mapstructure:"path"`
	Lock    string        `mapstructure:"lock"`
	LockKey string        `mapstructure:"lock_key"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type ArtifactsConfig struct {
	Dir string `mapstructure:"dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Load reads configuration from defaults, an optional YAML file, dotenv files
// and the environment, in increasing priority. configFile may be empty, in
// which case faucetctl.yaml is picked up from the working directory if
// present. With no envFiles, a .env in the working directory is loaded if it
// exists; variables already set in the environment are never overridden.
func Load(configFile string, envFiles ...string) (*Config, error) {
	if err := loadDotenv(envFiles); err != nil {
		return nil, err
	}

	v := viper.New()

	// Defaults
	v.SetDefault("chain.confirm_timeout", 2*time.Minute)
	v.SetDefault("deploy.token_name", "EarlyAccessNFTTest")
	v.SetDefault("deploy.token_symbol", "TEANFT")
	v.SetDefault("deploy.claim_amount", "1000000000000000")
	v.SetDefault("deploy.cooldown_seconds", 20)
	v.SetDefault("deploy.mode", "upgradeable-proxy")
	v.SetDefault("store.path", "data/deployments.json")
	v.SetDefault("store.lock", "file")
	v.SetDefault("store.lock_key", "faucetctl:deployments")
	v.SetDefault("store.lock_ttl", 5*time.Minute)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("artifacts.dir", "out")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("server.port", 8080)

	// Config file
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("faucetctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		_ = v.ReadInConfig()
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings. The first non-empty variable of each list wins.
	bindings := map[string][]string{
		"chain.rpc_url":           {"RPC_URL", "SEPOLIA_RPC_URL"},
		"chain.private_key":       {"PRIVATE_KEY"},
		"chain.chain_id":          {"CHAIN_ID"},
		"chain.confirm_timeout":   {"CONFIRM_TIMEOUT"},
		"chain.gas_limit":         {"GAS_LIMIT"},
		"deploy.token_name":       {"TOKEN_NAME"},
		"deploy.token_symbol":     {"TOKEN_SYMBOL"},
		"deploy.claim_amount":     {"CLAIM_AMOUNT"},
		"deploy.cooldown_seconds": {"COOLDOWN_SECONDS"},
		"deploy.mode":             {"DEPLOY_MODE"},
		"store.path":              {"DEPLOYMENTS_FILE"},
		"store.lock":              {"STORE_LOCK"},
		"store.lock_key":          {"STORE_LOCK_KEY"},
		"store.lock_ttl":          {"STORE_LOCK_TTL"},
		"redis.addr":              {"REDIS_ADDR"},
		"redis.password":          {"REDIS_PASSWORD"},
		"artifacts.dir":           {"ARTIFACTS_DIR"},
		"log.level":               {"LOG_LEVEL"},
		"log.format":              {"LOG_FORMAT"},
		"log.file":                {"LOG_FILE"},
		"server.port":             {"HTTP_PORT"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", envs[0], err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func loadDotenv(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// validate checks values that are wrong regardless of which command runs.
// Chain credentials are checked separately by RequireChain because read-only
// commands do not need them.
func (c *Config) validate() error {
	switch c.Deploy.Mode {
	case "plain", "upgradeable-proxy":
	default:
		return fmt.Errorf("invalid DEPLOY_MODE %q: want plain or upgradeable-proxy", c.Deploy.Mode)
	}
	switch c.Store.Lock {
	case "file", "redis", "none":
	default:
		return fmt.Errorf("invalid STORE_LOCK %q: want file, redis or none", c.Store.Lock)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("%w: DEPLOYMENTS_FILE", ErrPreconditionMissing)
	}
	if c.Chain.ConfirmTimeout <= 0 {
		return fmt.Errorf("invalid CONFIRM_TIMEOUT %s", c.Chain.ConfirmTimeout)
	}
	return nil
}

// RequireChain reports the first missing value needed to talk to the chain.
func (c *Config) RequireChain() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Chain.RPCURL, "RPC_URL"},
		{c.Chain.PrivateKey, "PRIVATE_KEY"},
	} {
		if r.val == "" {
			return fmt.Errorf("%w: %s", ErrPreconditionMissing, r.name)
		}
	}
	return nil
}
