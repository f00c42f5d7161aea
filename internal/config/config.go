package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Contract struct {
	Address common.Address
	ABI     abi.ABI
}

type Contracts struct {
	// Token emits the Transfer events that fund the ledger.
	Token Contract
	// Ledger is the contract whose incoming transfers are distributed.
	Ledger common.Address
}

type Config struct {
	Db         DbConfig
	Redis      RedisConfig
	RPC_URL    string
	StartBlock uint64
	// Confirmations is the depth below the chain head that playback stops at.
	Confirmations uint64

	Contracts     Contracts
	TokenDecimals int

	BatchSize             uint64
	ConcurrentBatches     uint64
	MaxRetries            uint
	CronSchedule          string
	CheckpointInterval    time.Duration
	BlockSnapshotInterval uint64
	SnapshotShortcut      bool

	ApiAddr string
	Verbose bool
}

type DbConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DbName   string
}

type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

func LoadConfig() *Config {
	if err := LoadEnv(); err != nil {
		panic(fmt.Sprintf("Error loading environment variables: %v", err))
	}

	config := Config{
		Db: DbConfig{
			Host:     getEnvString("DB_HOST", ptr("localhost")),
			User:     getEnvString("DB_USER", ptr("")),
			Password: getEnvString("DB_PASS", ptr("")),
			DbName:   getEnvString("DB_NAME", ptr("ledger_operator")),
			Port:     getEnvInt("DB_PORT", ptr(27017)),
		},
		Redis:   LoadRedisConfig(),
		RPC_URL: getEnvString("RPC_URL", nil),

		Contracts:     loadContracts(),
		TokenDecimals: getEnvInt("TOKEN_DECIMALS", ptr(18)),

		StartBlock:    getEnvUint("START_BLOCK", ptr(uint64(0))),
		Confirmations: getEnvUint("CONFIRMATIONS", ptr(uint64(12))),

		BatchSize:             getEnvUint("BATCH_SIZE", ptr(uint64(5000))),
		ConcurrentBatches:     getEnvUint("CONCURRENT_BATCHES", ptr(uint64(15))),
		MaxRetries:            uint(getEnvUint("MAX_RETRIES", ptr(uint64(3)))),
		CronSchedule:          getEnvString("CRON_SCHEDULE", ptr("0 */5 * * * *")),
		CheckpointInterval:    time.Duration(getEnvUint("CHECKPOINT_INTERVAL", ptr(uint64(60)))) * time.Second,
		BlockSnapshotInterval: getEnvUint("BLOCK_SNAPSHOT_INTERVAL", ptr(uint64(1))),
		SnapshotShortcut:      getEnvBool("SNAPSHOT_SHORTCUT", ptr(false)),

		ApiAddr: getEnvString("API_ADDR", ptr(":8080")),
		Verbose: getEnvBool("LOG_VERBOSE", ptr(false)),
	}
	return &config
}

// LoadRedisConfig is shared with the publish tool, which needs nothing else.
func LoadRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          getEnvString("REDIS_ADDR", ptr("localhost:6379")),
		Password:      getEnvString("REDIS_PASSWORD", ptr("")),
		DB:            getEnvInt("REDIS_DB", ptr(0)),
		ChannelPrefix: getEnvString("CHANNEL_PREFIX", ptr("ledger")),
	}
}

func loadContracts() Contracts {
	tokenAddress := getEnvString("TOKEN_ADDRESS", nil)
	tokenABI, err := ReadABI("abi/token.json")
	if err != nil {
		panic(fmt.Sprintf("Error reading ABI: %v", err))
	}

	ledgerAddress := getEnvString("CONTRACT_ADDRESS", nil)
	if !common.IsHexAddress(ledgerAddress) {
		panic(fmt.Sprintf("CONTRACT_ADDRESS %q is not a valid address", ledgerAddress))
	}
	if !common.IsHexAddress(tokenAddress) {
		panic(fmt.Sprintf("TOKEN_ADDRESS %q is not a valid address", tokenAddress))
	}

	return Contracts{
		Token: Contract{
			Address: common.HexToAddress(tokenAddress),
			ABI:     tokenABI,
		},
		Ledger: common.HexToAddress(ledgerAddress),
	}
}

func getConfigPath() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("error getting current file path")
	}
	return filepath.Dir(filename), nil
}

func LoadEnv() error {
	dir, err := getConfigPath()
	if err != nil {
		return err
	}

	envPath := filepath.Join(dir, "../../.env")
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		// .env file doesn't exist, just return without an error
		return nil
	}

	return godotenv.Load(envPath)
}

// ReadABI parses an ABI file relative to this package directory.
func ReadABI(filePath string) (abi.ABI, error) {
	dir, err := getConfigPath()
	if err != nil {
		return abi.ABI{}, err
	}

	abiFile, err := os.ReadFile(filepath.Join(dir, filePath))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to read ABI file: %w", err)
	}

	contractABI, err := abi.JSON(strings.NewReader(string(abiFile)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return contractABI, nil
}

func getEnvString(key string, defaultValue *string) string {
	value := os.Getenv(key)

	if value != "" {
		return value
	}
	if defaultValue == nil {
		panic(fmt.Sprintf("Environment variable %s is required", key))
	}
	return *defaultValue
}

func getEnvInt(key string, defaultValue *int) int {
	value := os.Getenv(key)
	if value != "" {
		intValue, err := strconv.Atoi(value)
		if err != nil {
			panic(fmt.Sprintf("Environment variable %s is not a valid integer", key))
		}
		return intValue
	}
	if defaultValue == nil {
		panic(fmt.Sprintf("Environment variable %s is required", key))
	}
	return *defaultValue
}

func getEnvUint(key string, defaultValue *uint64) uint64 {
	value := os.Getenv(key)
	if value != "" {
		uintValue, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			panic(fmt.Sprintf("Environment variable %s is not a valid non-negative integer", key))
		}
		return uintValue
	}
	if defaultValue == nil {
		panic(fmt.Sprintf("Environment variable %s is required", key))
	}
	return *defaultValue
}

func getEnvBool(key string, defaultValue *bool) bool {
	value := os.Getenv(key)
	if value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			panic(fmt.Sprintf("Environment variable %s is not a valid boolean", key))
		}
		return boolValue
	}
	if defaultValue == nil {
		panic(fmt.Sprintf("Environment variable %s is required", key))
	}
	return *defaultValue
}

func ptr[T any](v T) *T {
	return &v
}
