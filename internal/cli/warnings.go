package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mbd888/walletguard/internal/warning"
)

func init() {
	rootCmd.AddCommand(warningsCmd)
	warningsCmd.AddCommand(warningsShowCmd)
}

var warningsCmd = &cobra.Command{
	Use:   "warnings",
	Short: "List open risk warnings",
	Long:  "Shows warnings awaiting a PROCEED or REJECT decision, oldest first.",
	Args:  cobra.NoArgs,
	RunE:  runWarnings,
}

var warningsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one warning in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runWarningsShow,
}

func runWarnings(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	list, err := newClient().Warnings(ctx)
	if err != nil {
		return fmt.Errorf("failed to list warnings: %w", err)
	}

	return render(cmd.OutOrStdout(), list, func(w io.Writer) {
		if len(list) == 0 {
			fmt.Fprintln(w, "No open warnings.")
			return
		}
		fmt.Fprintf(w, "%-36s %-10s %-5s %-8s %-44s %s\n", "ID", "RISK", "SCORE", "TYPE", "CONTRACT", "OPENED")
		for _, wn := range list {
			fmt.Fprintf(w, "%-36s %-10s %-5d %-8s %-44s %s\n",
				wn.ID,
				wn.Assessment.Risk,
				wn.Assessment.Score,
				wn.TxType,
				truncate(wn.Contract, 44),
				wn.OpenedAt.Format("15:04:05"),
			)
		}
	})
}

func runWarningsShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	wn, err := newClient().Warning(ctx, args[0])
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), wn, func(w io.Writer) { printWarning(w, wn) })
}

func printWarning(w io.Writer, wn *warning.Warning) {
	fmt.Fprintf(w, "ID:       %s\n", wn.ID)
	fmt.Fprintf(w, "STATUS:   %s\n", wn.Status)
	fmt.Fprintf(w, "WALLET:   %s\n", wn.Wallet)
	fmt.Fprintf(w, "CONTRACT: %s\n", wn.Contract)
	fmt.Fprintf(w, "TYPE:     %s\n", wn.TxType)
	fmt.Fprintf(w, "RISK:     %s (%d)\n", wn.Assessment.Risk, wn.Assessment.Score)
	if wn.Outcome != "" {
		fmt.Fprintf(w, "OUTCOME:  %s\n", wn.Outcome)
	}
	if wn.Reason != "" {
		fmt.Fprintf(w, "REASON:   %s\n", wn.Reason)
	}
	for _, r := range wn.Assessment.Reasons {
		fmt.Fprintf(w, "  - %s\n", r)
	}
}
