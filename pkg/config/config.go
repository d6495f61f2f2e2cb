package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the indexer configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Ethereum   EthereumConfig   `mapstructure:"ethereum"`
	Protocol   ProtocolConfig   `mapstructure:"protocol"`
	Accrual    AccrualConfig    `mapstructure:"accrual"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// EthereumConfig contains EVM node and contract settings
type EthereumConfig struct {
	RPCURL             string        `mapstructure:"rpc_url"`
	ChainID            int64         `mapstructure:"chain_id"`
	LendingPool        string        `mapstructure:"lending_pool"`
	PoolConfigurator   string        `mapstructure:"pool_configurator"`
	ConfirmationBlocks int           `mapstructure:"confirmation_blocks"`
	PollingInterval    time.Duration `mapstructure:"polling_interval"`
	StartBlock         int64         `mapstructure:"start_block"`
}

// ProtocolConfig identifies the lending protocol deployment being indexed
type ProtocolConfig struct {
	Address string `mapstructure:"address"`
	Name    string `mapstructure:"name"`
	Slug    string `mapstructure:"slug"`
	Network string `mapstructure:"network"`
}

// AccrualConfig contains daily snapshot sweep settings
type AccrualConfig struct {
	BatchSize int64 `mapstructure:"batch_size"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.database", "lending_indexer")

	// Ethereum defaults
	viper.SetDefault("ethereum.confirmation_blocks", 12)
	viper.SetDefault("ethereum.polling_interval", "15s")
	viper.SetDefault("ethereum.start_block", 0)

	// Protocol defaults
	viper.SetDefault("protocol.address", "0x225BD906D398B1748d7DeF4a35A96f6E5eFD1420")
	viper.SetDefault("protocol.name", "TAKOTAKO")
	viper.SetDefault("protocol.slug", "takotako")
	viper.SetDefault("protocol.network", "TAIKO")

	// Accrual defaults
	viper.SetDefault("accrual.batch_size", 20000)

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_port", 9090)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")
}

func validate(config *Config) error {
	if config.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if config.Ethereum.RPCURL == "" {
		return fmt.Errorf("ethereum.rpc_url is required")
	}
	if config.Ethereum.LendingPool == "" {
		return fmt.Errorf("ethereum.lending_pool is required")
	}
	if config.Ethereum.PoolConfigurator == "" {
		return fmt.Errorf("ethereum.pool_configurator is required")
	}
	if config.Protocol.Address == "" {
		return fmt.Errorf("protocol.address is required")
	}
	if config.Accrual.BatchSize <= 0 {
		return fmt.Errorf("accrual.batch_size must be positive")
	}
	return nil
}

// GetConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
