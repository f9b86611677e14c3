package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var (
	verdictsLimit  int
	verdictsCursor string
)

func init() {
	rootCmd.AddCommand(verdictsCmd)
	verdictsCmd.Flags().IntVar(&verdictsLimit, "limit", 20, "Maximum verdicts to return")
	verdictsCmd.Flags().StringVar(&verdictsCursor, "cursor", "", "Cursor from a previous page")
}

var verdictsCmd = &cobra.Command{
	Use:   "verdicts [id]",
	Short: "Browse the decision audit log",
	Long:  "Lists recorded decisions newest first, or shows one verdict by correlation id.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runVerdicts,
}

func runVerdicts(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	client := newClient()

	if len(args) == 1 {
		v, err := client.Verdict(ctx, args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), v, func(w io.Writer) {
			fmt.Fprintf(w, "ID:       %s\n", v.ID)
			fmt.Fprintf(w, "WALLET:   %s\n", v.Wallet)
			fmt.Fprintf(w, "CONTRACT: %s\n", v.Contract)
			fmt.Fprintf(w, "TYPE:     %s\n", v.TxType)
			fmt.Fprintf(w, "RISK:     %s (%d)\n", v.Assessment.Risk, v.Assessment.Score)
			fmt.Fprintf(w, "OUTCOME:  %s by %s\n", v.Outcome, v.Source)
			if v.Reason != "" {
				fmt.Fprintf(w, "REASON:   %s\n", v.Reason)
			}
			fmt.Fprintf(w, "DECIDED:  %s\n", v.DecidedAt.Format("2006-01-02 15:04:05"))
		})
	}

	page, err := client.Verdicts(ctx, verdictsCursor, verdictsLimit)
	if err != nil {
		return fmt.Errorf("failed to list verdicts: %w", err)
	}
	return render(cmd.OutOrStdout(), page, func(w io.Writer) {
		if len(page.Verdicts) == 0 {
			fmt.Fprintln(w, "No verdicts recorded.")
			return
		}
		fmt.Fprintf(w, "%-36s %-10s %-5s %-8s %-12s %s\n", "ID", "RISK", "SCORE", "OUTCOME", "SOURCE", "DECIDED")
		for _, v := range page.Verdicts {
			fmt.Fprintf(w, "%-36s %-10s %-5d %-8s %-12s %s\n",
				v.ID,
				v.Assessment.Risk,
				v.Assessment.Score,
				v.Outcome,
				v.Source,
				v.DecidedAt.Format("2006-01-02 15:04:05"),
			)
		}
		if page.HasMore {
			fmt.Fprintf(w, "\nNext page: --cursor %s\n", page.NextCursor)
		}
	})
}
