package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/moatlabs/surge/contracts"
	"github.com/moatlabs/surge/db"
	"github.com/moatlabs/surge/db/pebbledb"
	"github.com/moatlabs/surge/loadgen"
	"github.com/moatlabs/surge/log"
	"github.com/moatlabs/surge/reconciler"
	"github.com/moatlabs/surge/store"
	"github.com/moatlabs/surge/wallet"
	"github.com/moatlabs/surge/web3"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level, cfg.Log.Output)
	log.Infow("starting surge", "version", Version)

	mode, err := loadgen.ParseMode(cfg.Mode)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := validateConfig(cfg, mode); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Cancel the run on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infow("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, cfg, mode); err != nil {
		log.Fatalf("Run failed: %v", err)
	}
}

func run(ctx context.Context, cfg *Config, mode loadgen.Mode) error {
	node, err := web3.Dial(ctx, cfg.JSONRPC)
	if err != nil {
		return err
	}
	defer node.Close()

	var deriver *wallet.Deriver
	if mode != loadgen.ModePendingCount {
		if deriver, err = wallet.NewDeriver(cfg.Mnemonic); err != nil {
			return err
		}
	}

	runCfg := loadgen.RunConfig{
		Mode:          mode,
		SubAccounts:   cfg.SubAccounts,
		NumTx:         cfg.Transactions,
		BatchSize:     cfg.Batch,
		Concurrency:   cfg.Concurrency,
		FixedGasPrice: cfg.FixedGasPrice,
		StartIndex:    cfg.StartIndex,
		EndIndex:      cfg.EndIndex,
		Output:        cfg.Output,
		UIDBase:       1,
	}

	switch mode {
	case loadgen.ModeERC20:
		if runCfg.ERC20Artifact, err = loadArtifact(cfg.ERC20Bin, contracts.ERC20ABI); err != nil {
			return err
		}
		runCfg.TokenSupply = tokenSupply(cfg.Transactions)
	case loadgen.ModeERC721:
		if runCfg.ERC721Artifact, err = loadArtifact(cfg.ERC721Bin, contracts.ERC721ABI); err != nil {
			return err
		}
	case loadgen.ModeWithdrawal:
		runCfg.Moat = common.HexToAddress(cfg.MoatAddress)
		if runCfg.Target, err = reconciler.DecodeTargetAddress(cfg.TargetAddress); err != nil {
			return err
		}
		stop, st, err := startReconciler(ctx, cfg, node, runCfg.Moat, runCfg.Target)
		if err != nil {
			return err
		}
		defer stop()
		defer reportJoined(st)
	}

	runner := loadgen.NewRunner(node, deriver, runCfg)
	_, err = runner.Run(ctx)
	return err
}

// startReconciler opens the reconciliation store and launches the L1
// listener and L2 follower for the duration of the run.
func startReconciler(ctx context.Context, cfg *Config, node *web3.Client, moat common.Address, target [20]byte) (func(), *store.Store, error) {
	database, err := pebbledb.New(db.Options{Path: cfg.Datadir})
	if err != nil {
		return nil, nil, fmt.Errorf("open reconciliation database: %w", err)
	}
	st := store.New(database)

	follower := reconciler.NewL2Follower(node, moat, st, 0)
	if err := follower.Start(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, nil, err
	}

	listenerCtx, cancelListener := context.WithCancel(ctx)
	if cfg.ZMQEndpoint != "" {
		listener := reconciler.NewL1Listener(cfg.ZMQEndpoint, target, st)
		go func() {
			if err := listener.Run(listenerCtx); err != nil && listenerCtx.Err() == nil {
				log.Errorw(err, "L1 listener stopped")
			}
		}()
	} else {
		log.Warnw("no L1 feed endpoint configured, reconciling the L2 side only",
			"hint", "set --zmq-endpoint or DOGE_ZMQ_ENDPOINT")
	}

	stop := func() {
		cancelListener()
		follower.Stop()
		if err := st.Close(); err != nil {
			log.Warnw("closing reconciliation database", "error", err)
		}
	}
	return stop, st, nil
}

// reportJoined logs how many withdrawal rows have both chain sides
// populated.
func reportJoined(st *store.Store) {
	joined, err := st.JoinedRows()
	if err != nil {
		log.Warnw("reading joined rows", "error", err)
		return
	}
	log.Infow("cross-chain reconciliation state", "joined_rows", len(joined))
}

// loadArtifact reads externally compiled contract bytecode (hex, with or
// without the 0x prefix).
func loadArtifact(path string, contractABI abi.ABI) (*contracts.Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %q: %w", path, err)
	}
	hexStr := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(hexStr, "0x") {
		hexStr = "0x" + hexStr
	}
	bin, err := hexutil.Decode(hexStr)
	if err != nil {
		return nil, fmt.Errorf("decode artifact %q: %w", path, err)
	}
	return &contracts.Artifact{ABI: contractABI, Bin: bin}, nil
}

// tokenSupply mints double the planned transfer volume so the funder can
// cover every top-up with room for rounding.
func tokenSupply(numTx int) *big.Int {
	return new(big.Int).Mul(big.NewInt(int64(numTx)), big.NewInt(2))
}
