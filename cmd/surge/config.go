package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/moatlabs/surge/internal"
	"github.com/moatlabs/surge/loadgen"
)

const (
	defaultSubAccounts  = 10
	defaultTransactions = 2000
	defaultBatchSize    = 20
	defaultConcurrency  = 10
	defaultLogLevel     = "info"
	defaultLogOutput    = "stdout"
	defaultDatadir      = ".surge" // prefixed with the user's home directory
)

// Version is the build version, set at build time with -ldflags
var Version = internal.Version

// Config holds the application configuration
type Config struct {
	JSONRPC       string `mapstructure:"json-rpc"`
	Mnemonic      string `mapstructure:"mnemonic"`
	SubAccounts   int    `mapstructure:"sub-accounts"`
	Transactions  int    `mapstructure:"transactions"`
	Batch         int    `mapstructure:"batch"`
	Concurrency   int    `mapstructure:"concurrency"`
	Mode          string `mapstructure:"mode"`
	FixedGasPrice bool   `mapstructure:"fixed-gas-price"`
	Output        string `mapstructure:"output"`
	Datadir       string `mapstructure:"datadir"`

	// Withdrawal mode.
	MoatAddress   string `mapstructure:"moat-address"`
	TargetAddress string `mapstructure:"target-address"`
	ZMQEndpoint   string `mapstructure:"zmq-endpoint"`

	// Token modes: paths to compiled bytecode (hex) artifacts.
	ERC20Bin  string `mapstructure:"erc20-bin"`
	ERC721Bin string `mapstructure:"erc721-bin"`

	// Clear-pending address range.
	NumAccounts int `mapstructure:"num-accounts"`
	StartIndex  int `mapstructure:"start-index"`
	EndIndex    int `mapstructure:"end-index"`

	Log LogConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
}

// loadConfig loads configuration from flags, environment variables, and
// defaults
func loadConfig() (*Config, error) {
	return loadConfigFrom(os.Args[1:])
}

func loadConfigFrom(args []string) (*Config, error) {
	v := viper.New()
	fs := flag.NewFlagSet("surge", flag.ExitOnError)

	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	defaultDatadirPath := filepath.Join(userHomeDir, defaultDatadir)

	v.SetDefault("sub-accounts", defaultSubAccounts)
	v.SetDefault("transactions", defaultTransactions)
	v.SetDefault("batch", defaultBatchSize)
	v.SetDefault("concurrency", defaultConcurrency)
	v.SetDefault("mode", string(loadgen.ModeEOA))
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.output", defaultLogOutput)
	v.SetDefault("datadir", defaultDatadirPath)

	fs.StringP("json-rpc", "u", "", "JSON-RPC endpoint URL (required)")
	fs.StringP("mnemonic", "m", "", "mnemonic seed of the funder and sub-accounts")
	fs.IntP("sub-accounts", "s", defaultSubAccounts, "number of sub-accounts to derive")
	fs.IntP("transactions", "t", defaultTransactions, "total transactions to submit")
	fs.IntP("batch", "b", defaultBatchSize, "JSON-RPC batch size for submission")
	fs.IntP("concurrency", "c", defaultConcurrency, "worker cap for waves, signing and submission")
	fs.String("mode", string(loadgen.ModeEOA), "run mode (EOA, ERC20, ERC721, WITHDRAWAL, CLEAR_PENDING, GET_PENDING_COUNT)")
	fs.Bool("fixed-gas-price", false, "force the gas price to 1 gwei instead of asking the node")
	fs.String("moat-address", "", "moat contract address (WITHDRAWAL mode)")
	fs.String("target-address", "", "base58check L1 target address (WITHDRAWAL mode)")
	fs.String("zmq-endpoint", "", "L1 raw-block pub/sub endpoint (WITHDRAWAL mode)")
	fs.String("erc20-bin", "", "path to compiled ERC-20 bytecode (ERC20 mode)")
	fs.String("erc721-bin", "", "path to compiled ERC-721 bytecode (ERC721 mode)")
	fs.Int("num-accounts", 0, "number of accounts to scan from start-index (CLEAR_PENDING mode)")
	fs.Int("start-index", 0, "first derivation index to scan (CLEAR_PENDING mode)")
	fs.Int("end-index", 0, "one past the last derivation index to scan (CLEAR_PENDING mode)")
	fs.StringP("output", "o", "", "path for the results JSON dump")
	fs.StringP("datadir", "d", defaultDatadirPath, "data directory for the reconciliation database")
	fs.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error, fatal)")
	fs.String("log.output", defaultLogOutput, "log output (stdout, stderr or filepath)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "surge v%s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: surge [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available with the same name as flags,\n")
		fmt.Fprintf(os.Stderr, "  except for dashes (-) and dots (.) which are replaced by underscores (_).\n")
		fmt.Fprintf(os.Stderr, "  For example, SURGE_JSON_RPC or SURGE_SUB_ACCOUNTS.\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # 2000 EOA transfers over 10 sub-accounts\n")
		fmt.Fprintf(os.Stderr, "  surge -u http://localhost:8545 -m \"rabbit lecture ...\"\n\n")
		fmt.Fprintf(os.Stderr, "  # withdrawal run with cross-chain reconciliation\n")
		fmt.Fprintf(os.Stderr, "  surge -u http://localhost:8545 -m \"...\" --mode WITHDRAWAL \\\n")
		fmt.Fprintf(os.Stderr, "      --moat-address 0x... --target-address n2yq... --zmq-endpoint tcp://doge:28332\n")
	}

	fs.SortFlags = false
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v.SetEnvPrefix("SURGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// The L1 feed endpoint historically rides its own variable, and the
	// logger honors its documented names next to the prefixed forms.
	for key, envVar := range map[string]string{
		"zmq-endpoint": "DOGE_ZMQ_ENDPOINT",
		"log.level":    "LOG_LEVEL",
		"log.output":   "LOG_FILE_PATH",
	} {
		if err := v.BindEnv(key, envVar); err != nil {
			return nil, fmt.Errorf("error binding environment: %w", err)
		}
	}

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("error binding flags: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

// validateConfig validates the loaded configuration
func validateConfig(cfg *Config, mode loadgen.Mode) error {
	if cfg.JSONRPC == "" {
		return fmt.Errorf("JSON-RPC endpoint is required (use --json-rpc or SURGE_JSON_RPC)")
	}
	if cfg.Mnemonic == "" && mode != loadgen.ModePendingCount {
		return fmt.Errorf("mnemonic is required for mode %s (use --mnemonic or SURGE_MNEMONIC)", mode)
	}
	switch mode {
	case loadgen.ModeWithdrawal:
		if cfg.MoatAddress == "" || cfg.TargetAddress == "" {
			return fmt.Errorf("WITHDRAWAL mode requires --moat-address and --target-address")
		}
	case loadgen.ModeERC20:
		if cfg.ERC20Bin == "" {
			return fmt.Errorf("ERC20 mode requires --erc20-bin")
		}
	case loadgen.ModeERC721:
		if cfg.ERC721Bin == "" {
			return fmt.Errorf("ERC721 mode requires --erc721-bin")
		}
	case loadgen.ModeClearPending:
		if cfg.EndIndex == 0 && cfg.NumAccounts > 0 {
			cfg.EndIndex = cfg.StartIndex + cfg.NumAccounts
		}
		if cfg.EndIndex <= cfg.StartIndex {
			return fmt.Errorf("CLEAR_PENDING mode requires a non-empty index range (--num-accounts or --start-index/--end-index)")
		}
	}
	return nil
}
