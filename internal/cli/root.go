// Package cli implements guardctl, the walletguard operator command line.
package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbd888/walletguard/internal/apiclient"
)

var (
	apiURL       string
	apiToken     string
	outputFormat string
	timeout      time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "guardctl",
	Short: "Operate a walletguard instance",
	Long: "Inspect transactions held by walletguard, answer risk warnings and\n" +
		"browse the decision audit log.\n\n" +
		"Connection settings default to WALLETGUARD_API_URL and WALLETGUARD_TOKEN.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch outputFormat {
		case "table", "json", "yaml":
			return nil
		}
		return fmt.Errorf("unknown output format %q (table|json|yaml)", outputFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", envOr("WALLETGUARD_API_URL", apiclient.DefaultURL), "walletguard base URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("WALLETGUARD_TOKEN"), "operator token")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table|json|yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
}

// Execute runs the root command. A check that would be held exits 2.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var held errWouldHold
		if errors.As(err, &held) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newClient() *apiclient.Client {
	return apiclient.New(apiclient.Config{APIURL: apiURL, Token: apiToken})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
