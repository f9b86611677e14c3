// walletguard MCP server - exposes warning triage as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/walletguard/internal/apiclient"
	"github.com/mbd888/walletguard/internal/mcpserver"
)

func main() {
	cfg := apiclient.Config{
		APIURL: envOrDefault("WALLETGUARD_API_URL", apiclient.DefaultURL),
		Token:  os.Getenv("WALLETGUARD_TOKEN"),
	}

	if cfg.Token == "" {
		fmt.Fprintln(os.Stderr, "WALLETGUARD_TOKEN is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
