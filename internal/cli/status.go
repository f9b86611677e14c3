package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mbd888/walletguard/internal/health"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show walletguard health",
	Long:  "Reports the health of the upstream provider, the scoring service and the audit store.",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

type statusDoc struct {
	Status  string          `json:"status"`
	Version string          `json:"version"`
	Checks  []health.Status `json:"checks"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	raw, err := newClient().Health(ctx)
	if err != nil {
		return err
	}
	var doc statusDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode health: %w", err)
	}

	return render(cmd.OutOrStdout(), doc, func(w io.Writer) {
		fmt.Fprintf(w, "walletguard %s: %s\n\n", doc.Version, doc.Status)
		fmt.Fprintf(w, "%-12s %-8s %-9s %s\n", "CHECK", "HEALTHY", "CRITICAL", "DETAIL")
		for _, c := range doc.Checks {
			fmt.Fprintf(w, "%-12s %-8t %-9t %s\n", c.Name, c.Healthy, c.Critical, c.Detail)
		}
	})
}
