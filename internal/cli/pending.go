package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List transactions held for a decision",
	Long:  "Shows every submission walletguard is holding, oldest first, with its state and age.",
	Args:  cobra.NoArgs,
	RunE:  runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	list, err := newClient().Pending(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending transactions: %w", err)
	}

	return render(cmd.OutOrStdout(), list, func(w io.Writer) {
		if len(list) == 0 {
			fmt.Fprintln(w, "No pending transactions.")
			return
		}
		fmt.Fprintf(w, "%-36s %-22s %-18s %-44s %s\n", "ID", "METHOD", "STATE", "TO", "AGE")
		for _, p := range list {
			fmt.Fprintf(w, "%-36s %-22s %-18s %-44s %.0fs\n",
				p.CorrelationID,
				p.Method,
				p.State,
				truncate(p.Payload.To, 44),
				p.AgeSeconds,
			)
		}
	})
}
