package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var decideReason string

func init() {
	rootCmd.AddCommand(decideCmd)
	decideCmd.Flags().StringVar(&decideReason, "reason", "", "Note recorded in the audit log")
}

var decideCmd = &cobra.Command{
	Use:   "decide <id> <proceed|reject>",
	Short: "Answer an open warning",
	Long: "Resolves a warning. PROCEED forwards the held transaction to the network;\n" +
		"REJECT fails it back to the wallet. A warning can only be answered once.",
	Args: cobra.ExactArgs(2),
	RunE: runDecide,
}

func runDecide(cmd *cobra.Command, args []string) error {
	outcome := strings.ToUpper(args[1])
	if outcome != "PROCEED" && outcome != "REJECT" {
		return fmt.Errorf("outcome must be proceed or reject, got %q", args[1])
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	wn, err := newClient().Decide(ctx, args[0], outcome, decideReason)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), wn, func(w io.Writer) {
		fmt.Fprintf(w, "Resolved %s: %s\n", wn.ID, wn.Outcome)
	})
}
