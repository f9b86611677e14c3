package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mbd888/walletguard/internal/apiclient"
)

var (
	checkData   string
	checkTxType string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkData, "data", "", "Hex calldata (used to infer the transaction type)")
	checkCmd.Flags().StringVar(&checkTxType, "type", "", "Transaction type override (approve|swap|send)")
}

var checkCmd = &cobra.Command{
	Use:   "check <wallet> <contract>",
	Short: "Score a transaction without sending it",
	Long: "Asks walletguard to assess a transaction from <wallet> to <contract>.\n" +
		"Nothing is held or recorded. Exit code 2 if the transaction would stop\n" +
		"for a human decision.",
	Args: cobra.ExactArgs(2),
	RunE: runCheck,
}

// errWouldHold marks a check whose transaction would not auto-proceed.
type errWouldHold struct{ tier string }

func (e errWouldHold) Error() string { return "transaction would be held: " + e.tier }

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	res, err := newClient().Assess(ctx, apiclient.AssessRequest{
		Wallet:   args[0],
		Contract: args[1],
		Data:     checkData,
		TxType:   checkTxType,
	})
	if err != nil {
		return err
	}

	err = render(cmd.OutOrStdout(), res, func(w io.Writer) {
		fmt.Fprintf(w, "RISK:    %s\n", res.Assessment.Risk)
		fmt.Fprintf(w, "SCORE:   %d\n", res.Assessment.Score)
		fmt.Fprintf(w, "TYPE:    %s\n", res.TxType)
		fmt.Fprintf(w, "PROCEED: %t\n", res.AutoProceed)
		for _, r := range res.Assessment.Reasons {
			fmt.Fprintf(w, "  - %s\n", r)
		}
	})
	if err != nil {
		return err
	}
	if !res.AutoProceed {
		return errWouldHold{tier: string(res.Assessment.Risk)}
	}
	return nil
}
