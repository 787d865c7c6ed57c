package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"diaspore/internal/lending"
)

var (
	reqAmount       string
	reqBorrower     string
	reqSalt         string
	reqExpiration   uint64
	reqCuota        string
	reqInterestRate string
	reqInstallments uint32
	reqDuration     uint64
	reqTimeUnit     uint32

	lendCosigner      string
	lendCosignerLimit string
	lendCosignerData  string

	payAmount string
	payOrigin string
	payToken  bool

	withdrawTo     string
	withdrawAmount string

	approveSpender string
	approveAmount  string
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Request a new installments loan",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount("amount", reqAmount)
		if err != nil {
			return err
		}
		cuota, err := parseAmount("cuota", reqCuota)
		if err != nil {
			return err
		}
		rate, err := parseAmount("interest-rate", reqInterestRate)
		if err != nil {
			return err
		}
		salt, err := parseAmount("salt", reqSalt)
		if err != nil {
			return err
		}
		borrower, err := parseAddress("borrower", reqBorrower)
		if err != nil {
			return err
		}
		if amount == nil || cuota == nil || rate == nil {
			return fmt.Errorf("amount, cuota and interest-rate are required")
		}
		if amount.BitLen() > 128 || cuota.BitLen() > 128 {
			return fmt.Errorf("amount and cuota must fit in uint128")
		}
		return submit(cmd, func(ctx context.Context, api lending.API) (*lending.Submission, error) {
			return api.Request(ctx, lending.RequestParams{
				Amount:       amount,
				Borrower:     borrower,
				Salt:         salt,
				Expiration:   reqExpiration,
				Cuota:        cuota,
				InterestRate: rate,
				Installments: reqInstallments,
				Duration:     reqDuration,
				TimeUnit:     reqTimeUnit,
			})
		})
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <loan-id>",
	Short: "Approve a loan request as its borrower",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseLoanID(args[0])
		if err != nil {
			return err
		}
		return submit(cmd, func(ctx context.Context, api lending.API) (*lending.Submission, error) {
			return api.ApproveRequest(ctx, lending.LoanParams{ID: id})
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <loan-id>",
	Short: "Cancel a loan request that has not been lent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseLoanID(args[0])
		if err != nil {
			return err
		}
		return submit(cmd, func(ctx context.Context, api lending.API) (*lending.Submission, error) {
			return api.Cancel(ctx, lending.LoanParams{ID: id})
		})
	},
}

var lendCmd = &cobra.Command{
	Use:   "lend <loan-id>",
	Short: "Fund an approved loan request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseLoanID(args[0])
		if err != nil {
			return err
		}
		cosigner, err := parseAddress("cosigner", lendCosigner)
		if err != nil {
			return err
		}
		limit, err := parseAmount("cosigner-limit", lendCosignerLimit)
		if err != nil {
			return err
		}
		var data []byte
		if lendCosignerData != "" {
			if data, err = hexutil.Decode(lendCosignerData); err != nil {
				return fmt.Errorf("cosigner-data: %w", err)
			}
		}
		return submit(cmd, func(ctx context.Context, api lending.API) (*lending.Submission, error) {
			return api.Lend(ctx, lending.LendParams{
				ID:            id,
				Cosigner:      cosigner,
				CosignerLimit: limit,
				CosignerData:  data,
			})
		})
	},
}

var payCmd = &cobra.Command{
	Use:   "pay <loan-id>",
	Short: "Repay a loan; without --amount the next obligation is paid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseLoanID(args[0])
		if err != nil {
			return err
		}
		amount, err := parseAmount("amount", payAmount)
		if err != nil {
			return err
		}
		origin, err := parseAddress("origin", payOrigin)
		if err != nil {
			return err
		}
		p := lending.PayParams{ID: id, Amount: amount, Origin: origin}
		return submit(cmd, func(ctx context.Context, api lending.API) (*lending.Submission, error) {
			if payToken {
				return api.PayToken(ctx, p)
			}
			return api.Pay(ctx, p)
		})
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw <loan-id>",
	Short: "Collect the lender balance of a loan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseLoanID(args[0])
		if err != nil {
			return err
		}
		to, err := parseAddress("to", withdrawTo)
		if err != nil {
			return err
		}
		amount, err := parseAmount("amount", withdrawAmount)
		if err != nil {
			return err
		}
		return submit(cmd, func(ctx context.Context, api lending.API) (*lending.Submission, error) {
			if amount != nil {
				return api.WithdrawPartial(ctx, lending.WithdrawPartialParams{ID: id, To: to, Amount: amount})
			}
			return api.Withdraw(ctx, lending.WithdrawParams{ID: id, To: to})
		})
	},
}

var approveTokenCmd = &cobra.Command{
	Use:   "approve-token",
	Short: "Allow a spender, the loan manager by default, to pull tokens",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		spender, err := parseAddress("spender", approveSpender)
		if err != nil {
			return err
		}
		amount, err := parseAmount("amount", approveAmount)
		if err != nil {
			return err
		}
		if amount == nil {
			return fmt.Errorf("amount is required")
		}
		return submit(cmd, func(ctx context.Context, api lending.API) (*lending.Submission, error) {
			return api.ApproveToken(ctx, lending.ApproveTokenParams{Spender: spender, Amount: amount})
		})
	},
}

func init() {
	requestCmd.Flags().StringVar(&reqAmount, "amount", "", "requested amount in loan currency units")
	requestCmd.Flags().StringVar(&reqBorrower, "borrower", "", "borrower address, the signing account by default")
	requestCmd.Flags().StringVar(&reqSalt, "salt", "", "salt used to derive the loan id")
	requestCmd.Flags().Uint64Var(&reqExpiration, "expiration", 0, "unix time the request expires")
	requestCmd.Flags().StringVar(&reqCuota, "cuota", "", "amount due per installment")
	requestCmd.Flags().StringVar(&reqInterestRate, "interest-rate", "", "punitive interest rate")
	requestCmd.Flags().Uint32Var(&reqInstallments, "installments", 1, "number of installments")
	requestCmd.Flags().Uint64Var(&reqDuration, "duration", 0, "seconds between installments")
	requestCmd.Flags().Uint32Var(&reqTimeUnit, "time-unit", 0, "interest time unit in seconds")

	lendCmd.Flags().StringVar(&lendCosigner, "cosigner", "", "cosigner contract address")
	lendCmd.Flags().StringVar(&lendCosignerLimit, "cosigner-limit", "", "maximum cosigner cost")
	lendCmd.Flags().StringVar(&lendCosignerData, "cosigner-data", "", "0x-prefixed cosigner payload")

	payCmd.Flags().StringVar(&payAmount, "amount", "", "amount to pay in loan currency units")
	payCmd.Flags().StringVar(&payOrigin, "origin", "", "address credited with the payment")
	payCmd.Flags().BoolVar(&payToken, "token", false, "amount is expressed in tokens")

	withdrawCmd.Flags().StringVar(&withdrawTo, "to", "", "receiver of the funds, the signing account by default")
	withdrawCmd.Flags().StringVar(&withdrawAmount, "amount", "", "withdraw only this amount")

	approveTokenCmd.Flags().StringVar(&approveSpender, "spender", "", "spender address, the loan manager by default")
	approveTokenCmd.Flags().StringVar(&approveAmount, "amount", "", "allowance in token units")

	for _, c := range []*cobra.Command{requestCmd, approveCmd, cancelCmd, lendCmd, payCmd, withdrawCmd, approveTokenCmd} {
		addWaitFlags(c)
		rootCmd.AddCommand(c)
	}
}
