package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/spf13/cobra"

	"diaspore/internal/app"
	"diaspore/internal/config"
	"diaspore/internal/lending"
	"diaspore/internal/logging"
)

var (
	configPath  string
	backendFlag string
	waitFlag    bool
	waitTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "diaspore",
	Short: "Request, fund, repay and collect Diaspore loans from the command line",
	Long: `diaspore drives the loan manager and debt engine contracts through either
a funded account (web3 backend) or signed intents handed to a relayer (relay
backend). Settings come from a TOML file, .env and DIASPORE_* variables.

Every state changing command prints the submission reference. Pass --wait to
block until the operation settles.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("DIASPORE_CONFIG"), "path to TOML config file")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "override the configured backend: \"web3\" or \"relay\"")
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addWaitFlags(c *cobra.Command) {
	c.Flags().BoolVarP(&waitFlag, "wait", "w", false, "block until the operation settles")
	c.Flags().DurationVar(&waitTimeout, "timeout", 10*time.Minute, "how long --wait blocks before giving up")
}

// loadConfig resolves the config the same way the server does.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if backendFlag != "" {
		cfg.Backend = backendFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withDeps wires the stack for the lifetime of one command.
func withDeps(cmd *cobra.Command, fn func(ctx context.Context, deps *app.Dependencies) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// the command line keeps logs on stderr at warn unless asked otherwise
	level := cfg.Log.Level
	if level == "" || level == "info" {
		level = "warn"
	}
	logger, err := logging.New(level, true)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	deps, cleanup, err := app.Wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(ctx, deps)
}

// submit wires the stack, starts one operation and reports it.
func submit(cmd *cobra.Command, start func(ctx context.Context, api lending.API) (*lending.Submission, error)) error {
	return withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
		sub, err := start(ctx, deps.API)
		if err != nil {
			return err
		}
		out := submissionOutput{
			Reference: sub.Reference.Hex(),
			Operation: string(sub.Operation),
			Backend:   string(sub.Backend),
			Status:    "pending",
		}
		if !isZeroHash(sub.LoanID) {
			out.LoanID = sub.LoanID.Hex()
		}
		if !waitFlag {
			return printJSON(cmd.OutOrStdout(), out)
		}

		waitCtx, cancel := context.WithTimeout(ctx, waitTimeout)
		defer cancel()
		res, err := sub.Wait(waitCtx)
		if err != nil {
			out.Status = "failed"
			out.Error = err.Error()
			if perr := printJSON(cmd.OutOrStdout(), out); perr != nil {
				return perr
			}
			return err
		}
		out.Status = "settled"
		if !isZeroHash(res.TxHash) {
			out.TxHash = res.TxHash.Hex()
		}
		out.Block = res.Block
		out.Result = res.Status
		return printJSON(cmd.OutOrStdout(), out)
	})
}

type submissionOutput struct {
	Reference string `json:"reference"`
	Operation string `json:"operation"`
	Backend   string `json:"backend"`
	LoanID    string `json:"loanId,omitempty"`
	Status    string `json:"status"`
	TxHash    string `json:"txHash,omitempty"`
	Block     uint64 `json:"block,omitempty"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseLoanID(v string) (common.Hash, error) {
	raw, err := hexutil.Decode(v)
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("loan id %q must be 32 bytes of 0x-prefixed hex", v)
	}
	return common.BytesToHash(raw), nil
}

// parseAddress returns the zero address for an empty value.
func parseAddress(name, v string) (common.Address, error) {
	if v == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s %q is not an address", name, v)
	}
	return common.HexToAddress(v), nil
}

// parseAmount returns nil for an empty value.
func parseAmount(name, v string) (*big.Int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	n, ok := math.ParseBig256(v)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%s %q is not an unsigned 256-bit integer", name, v)
	}
	return n, nil
}

func isZeroHash(h common.Hash) bool {
	return h == common.Hash{}
}
