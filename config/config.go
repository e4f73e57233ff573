package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mysocial/bridge-relayers/pkg/bridge"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database" validate:"required_with=URI"`
	Collection string `mapstructure:"collection"`
}

// An empty address keeps locks in process.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RabbitMQConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	Queue      string `mapstructure:"queue" validate:"required_if=Enabled true"`
	RoutingKey string `mapstructure:"routing_key"`
	// Receives messages rejected without requeue.
	DeadLetterExchange string `mapstructure:"dead_letter_exchange"`
}

type TelemetryConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Insecure    bool   `mapstructure:"insecure"`
}

type NativeConfig struct {
	ChainID         uint8         `mapstructure:"chain_id"`
	RPCUrl          string        `mapstructure:"rpc_url" validate:"required,url"`
	BridgePackageID string        `mapstructure:"bridge_package_id" validate:"required"`
	BridgeObjectID  string        `mapstructure:"bridge_object_id" validate:"required"`
	StartCheckpoint *uint64       `mapstructure:"start_checkpoint"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

type EvmContractsConfig struct {
	BridgeProxy string `mapstructure:"bridge_proxy" validate:"required,eth_addr"`
	Committee   string `mapstructure:"committee" validate:"required,eth_addr"`
	Limiter     string `mapstructure:"limiter" validate:"required,eth_addr"`
	Config      string `mapstructure:"config" validate:"required,eth_addr"`
	Vault       string `mapstructure:"vault" validate:"omitempty,eth_addr"`
}

type EvmNetworkConfig struct {
	ChainID            uint8              `mapstructure:"chain_id"`
	EvmChainID         uint64             `mapstructure:"evm_chain_id" validate:"required"`
	Name               string             `mapstructure:"name"`
	RPCUrl             string             `mapstructure:"rpc_url" validate:"required,url"`
	Contracts          EvmContractsConfig `mapstructure:"contracts"`
	StartBlock         uint64             `mapstructure:"start_block"`
	StartBlockOverride *uint64            `mapstructure:"start_block_override"`
	SupportedTokens    []string           `mapstructure:"supported_tokens" validate:"dive,eth_addr"`
	MaxRetry           int                `mapstructure:"max_retry"`
	RetryDelay         time.Duration      `mapstructure:"retry_delay"`
	TxTimeout          time.Duration      `mapstructure:"tx_timeout"`
}

type AuthorityConfig struct {
	Name        string `mapstructure:"name"`
	PubKey      string `mapstructure:"pub_key" validate:"required,hexadecimal"`
	VotingPower uint64 `mapstructure:"voting_power" validate:"required"`
	URL         string `mapstructure:"url" validate:"required,url"`
	Blocklisted bool   `mapstructure:"blocklisted"`
}

type CommitteeConfig struct {
	Authorities    []AuthorityConfig `mapstructure:"authorities" validate:"dive"`
	Timeout        time.Duration     `mapstructure:"timeout"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// SigningServerConfig configures this node as a committee authority.
type SigningServerConfig struct {
	Enabled                   bool                     `mapstructure:"enabled"`
	ListenAddr                string                   `mapstructure:"listen_addr"`
	ApprovedGovernanceActions []map[string]interface{} `mapstructure:"approved_governance_actions"`
}

type ApiConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ListenAddr     string        `mapstructure:"listen_addr"`
	MaxMessageAge  time.Duration `mapstructure:"max_message_age"`
	MaxClockSkew   time.Duration `mapstructure:"max_clock_skew"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type DepositConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	AutoFundGas      bool          `mapstructure:"auto_fund_gas"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	EvmConfirmations uint64        `mapstructure:"evm_confirmations"`
	BridgeGasLimit   uint64        `mapstructure:"bridge_gas_limit"`
	InFlightTTL      time.Duration `mapstructure:"in_flight_ttl"`
	RedeliverAfter   time.Duration `mapstructure:"redeliver_after"`
	WorkerCount      int           `mapstructure:"worker_count" validate:"gte=1"`
	NativeGasFunding uint64        `mapstructure:"native_gas_funding"`
	NativeGasCoinMin uint64        `mapstructure:"native_gas_coin_min"`
	NativeGasBudget  uint64        `mapstructure:"native_gas_budget"`
}

type RelayConfig struct {
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	NativeGasBudget     uint64        `mapstructure:"native_gas_budget"`
	EvmMaxGasPriceGwei  uint64        `mapstructure:"evm_max_gas_price_gwei"`
	EvmGasBufferPercent uint64        `mapstructure:"evm_gas_buffer_percent"`
	EvmConfirmations    uint64        `mapstructure:"evm_confirmations"`
}

type Config struct {
	Env           string              `mapstructure:"env"`
	LogLevel      string              `mapstructure:"log_level"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Mongo         MongoConfig         `mapstructure:"mongo"`
	Redis         RedisConfig         `mapstructure:"redis"`
	RabbitMQ      RabbitMQConfig      `mapstructure:"rabbitmq"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Native        NativeConfig        `mapstructure:"myso"`
	Evm           EvmNetworkConfig    `mapstructure:"evm"`
	Committee     CommitteeConfig     `mapstructure:"committee"`
	SigningServer SigningServerConfig `mapstructure:"signing_server"`
	Api           ApiConfig           `mapstructure:"api"`
	Deposit       DepositConfig       `mapstructure:"deposit"`
	Relay         RelayConfig         `mapstructure:"relay"`
	Secrets       Secrets             `mapstructure:"-"`
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("config_path", "data")
	v.SetDefault("log_level", "info")
	v.SetDefault("mongo.collection", "relay_history")
	v.SetDefault("myso.bridge_package_id", "0xb")
	v.SetDefault("myso.bridge_object_id", "0x9")
	v.SetDefault("myso.poll_interval", "5s")
	v.SetDefault("evm.max_retry", 3)
	v.SetDefault("evm.retry_delay", "5s")
	v.SetDefault("evm.tx_timeout", "2m")
	v.SetDefault("committee.timeout", "5m")
	v.SetDefault("committee.request_timeout", "10s")
	v.SetDefault("signing_server.listen_addr", ":9191")
	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.max_message_age", "300s")
	v.SetDefault("api.max_clock_skew", "60s")
	v.SetDefault("deposit.auto_fund_gas", true)
	v.SetDefault("deposit.poll_interval", "45s")
	v.SetDefault("deposit.evm_confirmations", 12)
	v.SetDefault("deposit.bridge_gas_limit", 250000)
	v.SetDefault("deposit.in_flight_ttl", "10m")
	v.SetDefault("deposit.redeliver_after", "15m")
	v.SetDefault("deposit.worker_count", 4)
	v.SetDefault("deposit.native_gas_funding", 20_000_000)
	v.SetDefault("deposit.native_gas_coin_min", 1_000_000_000)
	v.SetDefault("deposit.native_gas_budget", 500_000_000)
	v.SetDefault("relay.max_retries", 3)
	v.SetDefault("relay.retry_delay", "30s")
	v.SetDefault("relay.native_gas_budget", 100000000)
	v.SetDefault("relay.evm_max_gas_price_gwei", 10)
	v.SetDefault("relay.evm_gas_buffer_percent", 20)
	v.SetDefault("relay.evm_confirmations", 2)
}

// Load reads {config_path}/{environment}.json, the process environment and
// an optional .env file into GlobalConfig.
func Load(environment string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(viper.GetViper())
	configFile := fmt.Sprintf("%s/%s.json", viper.GetString("config_path"), environment)
	cfg, err := read(viper.GetViper(), configFile)
	if err != nil {
		return err
	}
	cfg.Env = environment
	secrets, err := LoadSecrets()
	if err != nil {
		return err
	}
	cfg.Secrets = *secrets
	GlobalConfig = cfg
	return nil
}

// LoadFile reads a single config file without touching the global state.
func LoadFile(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	return read(v, configFile)
}

func read(v *viper.Viper, configFile string) (*Config, error) {
	v.SetConfigFile(configFile)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config from %s: %w", configFile, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	native, err := types.ParseChainId(c.Native.ChainID)
	if err != nil || !native.IsNative() {
		return fmt.Errorf("myso.chain_id %d is not a native chain", c.Native.ChainID)
	}
	evm, err := types.ParseChainId(c.Evm.ChainID)
	if err != nil || !evm.IsEvm() {
		return fmt.Errorf("evm.chain_id %d is not an evm chain", c.Evm.ChainID)
	}
	if !types.IsValidRoute(native, evm) {
		return fmt.Errorf("%w: %s <-> %s", types.ErrInvalidRoute, native, evm)
	}
	if c.Evm.StartBlockOverride != nil && *c.Evm.StartBlockOverride < c.Evm.StartBlock {
		return fmt.Errorf("evm.start_block_override %d is below evm.start_block %d", *c.Evm.StartBlockOverride, c.Evm.StartBlock)
	}
	if len(c.Committee.Authorities) > 0 {
		var total uint64
		for _, authority := range c.Committee.Authorities {
			total += authority.VotingPower
		}
		if total != 10_000 {
			return fmt.Errorf("committee voting power adds up to %d, expected 10000", total)
		}
	}
	if _, err := c.SigningServer.GovernanceActions(); err != nil {
		return err
	}
	return nil
}

func (c *Config) NativeChainID() types.BridgeChainId {
	return types.BridgeChainId(c.Native.ChainID)
}

func (c *Config) EvmChainID() types.BridgeChainId {
	return types.BridgeChainId(c.Evm.ChainID)
}

func (c *EvmContractsConfig) BridgeContracts() bridge.EvmContracts {
	return bridge.EvmContracts{
		BridgeProxy: common.HexToAddress(c.BridgeProxy),
		Committee:   common.HexToAddress(c.Committee),
		Limiter:     common.HexToAddress(c.Limiter),
		Config:      common.HexToAddress(c.Config),
	}
}

func (c *EvmNetworkConfig) TokenAddresses() []common.Address {
	tokens := make([]common.Address, 0, len(c.SupportedTokens))
	for _, token := range c.SupportedTokens {
		tokens = append(tokens, common.HexToAddress(token))
	}
	return tokens
}

// GovernanceActions decodes the allow-list. Each entry has the JSON action
// envelope form and must be a governance action.
func (c *SigningServerConfig) GovernanceActions() ([]bridge.Action, error) {
	actions := make([]bridge.Action, 0, len(c.ApprovedGovernanceActions))
	for i, entry := range c.ApprovedGovernanceActions {
		raw, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("approved_governance_actions[%d]: %w", i, err)
		}
		action, err := bridge.UnmarshalAction(raw)
		if err != nil {
			return nil, fmt.Errorf("approved_governance_actions[%d]: %w", i, err)
		}
		if !bridge.IsGovernance(action) {
			return nil, fmt.Errorf("approved_governance_actions[%d]: %w", i, bridge.ErrNotGovernanceAction)
		}
		actions = append(actions, action)
	}
	return actions, nil
}
