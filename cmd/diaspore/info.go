package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"diaspore/internal/app"
	"diaspore/internal/lending"
	"diaspore/internal/rnode"
)

var statusCmd = &cobra.Command{
	Use:   "status <reference|loan-id>",
	Short: "Show journaled operations by submission reference or loan id",
	Long: `status looks the argument up as a submission reference first and falls back
to every operation recorded for a loan with that id. Only operations recorded in
a persistent journal (postgres.dsn) survive between invocations. With the relay
backend an unknown reference is asked to the relayer as an intent id.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseLoanID(args[0])
		if err != nil {
			return err
		}
		return withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
			rec, err := deps.Journal.Get(ctx, key.Hex())
			if err != nil {
				return err
			}
			if rec != nil {
				return printJSON(cmd.OutOrStdout(), rec)
			}
			recs, err := deps.Journal.ByLoan(ctx, key.Hex())
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				// intents submitted elsewhere are still known to the relayer
				if rapi, ok := deps.API.(*lending.RelayAPI); ok {
					code, err := rapi.Status(ctx, key)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), struct {
						Reference string `json:"reference"`
						Relay     string `json:"relayStatus"`
					}{key.Hex(), string(code)})
				}
				return fmt.Errorf("no operations recorded for %s", key.Hex())
			}
			return printJSON(cmd.OutOrStdout(), recs)
		})
	},
}

var accountCmd = &cobra.Command{
	Use:   "account [address]",
	Short: "Show the signing account, its balance and whether the node is a testnet",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var target *common.Address
		if len(args) == 1 {
			addr, err := parseAddress("address", args[0])
			if err != nil {
				return err
			}
			target = &addr
		}
		return withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
			account, err := deps.API.Account(ctx)
			if err != nil {
				return err
			}
			balance, err := deps.API.Balance(ctx, target)
			if err != nil {
				return err
			}
			testnet, err := deps.API.IsTestnet(ctx)
			if err != nil {
				return err
			}
			out := struct {
				Account string `json:"account"`
				Address string `json:"address"`
				Balance string `json:"balance"`
				Backend string `json:"backend"`
				Testnet bool   `json:"testnet"`
			}{
				Account: account.Hex(),
				Address: account.Hex(),
				Balance: balance.String(),
				Backend: string(deps.API.Kind()),
				Testnet: testnet,
			}
			if target != nil {
				out.Address = target.Hex()
			}
			return printJSON(cmd.OutOrStdout(), out)
		})
	},
}

var nextCmd = &cobra.Command{
	Use:   "next <loan-id>",
	Short: "Show the next amount due on a loan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseLoanID(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := rnode.NewClient(cfg.RNode.URL, cfg.RNode.Timeout.Duration, nil)
		amount, err := client.NextObligation(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), struct {
			LoanID string   `json:"loanId"`
			Amount *big.Int `json:"amount"`
		}{id.Hex(), amount})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, accountCmd, nextCmd)
}
