package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/walletguard/internal/apiclient"
	"github.com/mbd888/walletguard/internal/interceptor"
	"github.com/mbd888/walletguard/internal/risk"
	"github.com/mbd888/walletguard/internal/warning"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *apiclient.Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *apiclient.Client) *Handlers {
	return &Handlers{client: client}
}

// HandleCheckTransaction runs a dry-run assessment.
func (h *Handlers) HandleCheckTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wallet := req.GetString("wallet", "")
	contract := req.GetString("contract", "")
	if wallet == "" || contract == "" {
		return mcp.NewToolResultError("wallet and contract are required"), nil
	}

	res, err := h.client.Assess(ctx, apiclient.AssessRequest{
		Wallet:   wallet,
		Contract: contract,
		Data:     req.GetString("data", ""),
		TxType:   req.GetString("tx_type", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check transaction: %v", err)), nil
	}
	return mcp.NewToolResultText(formatAssessment(res)), nil
}

// HandleListPending lists held submissions.
func (h *Handlers) HandleListPending(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pending, err := h.client.Pending(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list pending transactions: %v", err)), nil
	}
	return mcp.NewToolResultText(formatPending(pending)), nil
}

// HandleListWarnings lists open warnings.
func (h *Handlers) HandleListWarnings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	warnings, err := h.client.Warnings(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list warnings: %v", err)), nil
	}
	return mcp.NewToolResultText(formatWarningList(warnings)), nil
}

// HandleGetWarning shows one warning.
func (h *Handlers) HandleGetWarning(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("warning_id", "")
	if id == "" {
		return mcp.NewToolResultError("warning_id is required"), nil
	}

	w, err := h.client.Warning(ctx, id)
	if err != nil {
		if apiclient.IsNotFound(err) {
			return mcp.NewToolResultError(fmt.Sprintf("No warning with id %s", id)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get warning: %v", err)), nil
	}
	return mcp.NewToolResultText(formatWarning(w)), nil
}

// HandleDecideWarning answers an open warning.
func (h *Handlers) HandleDecideWarning(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("warning_id", "")
	if id == "" {
		return mcp.NewToolResultError("warning_id is required"), nil
	}
	outcome := strings.ToUpper(strings.TrimSpace(req.GetString("outcome", "")))
	if outcome != "PROCEED" && outcome != "REJECT" {
		return mcp.NewToolResultError("outcome must be PROCEED or REJECT"), nil
	}

	w, err := h.client.Decide(ctx, id, outcome, req.GetString("reason", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to decide warning: %v", err)), nil
	}

	verb := "forwarded to the network"
	if outcome == "REJECT" {
		verb = "rejected back to the wallet"
	}
	return mcp.NewToolResultText(fmt.Sprintf("Warning %s resolved: %s (transaction %s).", w.ID, w.Outcome, verb)), nil
}

// HandleListVerdicts pages through the audit log.
func (h *Handlers) HandleListVerdicts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	page, err := h.client.Verdicts(ctx, req.GetString("cursor", ""), limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list verdicts: %v", err)), nil
	}
	return mcp.NewToolResultText(formatVerdicts(page)), nil
}

// --- Formatting ---

func formatAssessment(res *apiclient.AssessResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Risk: %s (score %d/100)\n", res.Assessment.Risk, res.Assessment.Score)
	fmt.Fprintf(&sb, "Type: %s\n", res.TxType)
	if res.AutoProceed {
		sb.WriteString("Would proceed automatically.\n")
	} else {
		sb.WriteString("Would be held for a human decision.\n")
	}
	writeReasons(&sb, res.Assessment)
	return sb.String()
}

func writeReasons(sb *strings.Builder, a risk.Assessment) {
	if len(a.Reasons) > 0 {
		sb.WriteString("\nReasons:\n")
		for _, r := range a.Reasons {
			fmt.Fprintf(sb, "  - %s\n", r)
		}
	}
	if g := a.GraphSignals; g != nil {
		fmt.Fprintf(sb, "\nGraph: %d hops from a blacklisted address, scam cluster: %t\n",
			g.DistanceToBlacklist, g.ConnectedToScamCluster)
	}
	if f := a.ForecastSignals; f != nil {
		fmt.Fprintf(sb, "Forecast: %.0f%% drain probability within %d blocks\n",
			f.DrainProbability*100, f.AttackWindowBlocks)
	}
}

func formatPending(pending []interceptor.PendingSnapshot) string {
	if len(pending) == 0 {
		return "No transactions are waiting for a decision."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d transaction(s) held:\n\n", len(pending))
	for _, p := range pending {
		fmt.Fprintf(&sb, "- %s  %s  %s -> %s  (%s, waiting %s)\n",
			p.CorrelationID, p.Method, p.Payload.From, p.Payload.To, p.State,
			(time.Duration(p.AgeSeconds) * time.Second).String())
	}
	return sb.String()
}

func formatWarningList(warnings []warning.Warning) string {
	if len(warnings) == 0 {
		return "No open warnings."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d open warning(s):\n\n", len(warnings))
	for _, w := range warnings {
		fmt.Fprintf(&sb, "- %s  %s %d/100  %s to %s\n", w.ID, w.Assessment.Risk, w.Assessment.Score, w.TxType, w.Contract)
		if len(w.Assessment.Reasons) > 0 {
			fmt.Fprintf(&sb, "    %s\n", w.Assessment.Reasons[0])
		}
	}
	return sb.String()
}

func formatWarning(w *warning.Warning) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Warning %s (%s)\n", w.ID, w.Status)
	fmt.Fprintf(&sb, "Wallet:   %s\n", w.Wallet)
	fmt.Fprintf(&sb, "Contract: %s\n", w.Contract)
	fmt.Fprintf(&sb, "Type:     %s\n", w.TxType)
	fmt.Fprintf(&sb, "Risk:     %s (score %d/100)\n", w.Assessment.Risk, w.Assessment.Score)
	if w.Payload.Data != "" && w.Payload.Data != "0x" {
		fmt.Fprintf(&sb, "Data:     %s\n", truncate(w.Payload.Data, 74))
	}
	if w.Outcome != "" {
		fmt.Fprintf(&sb, "Outcome:  %s", w.Outcome)
		if w.Reason != "" {
			fmt.Fprintf(&sb, " (%s)", w.Reason)
		}
		sb.WriteString("\n")
	}
	writeReasons(&sb, w.Assessment)
	return sb.String()
}

func formatVerdicts(page *risk.Page) string {
	if len(page.Verdicts) == 0 {
		return "No verdicts recorded."
	}
	var sb strings.Builder
	for _, v := range page.Verdicts {
		fmt.Fprintf(&sb, "- %s  %s  %s %d/100  %s by %s  %s\n",
			v.DecidedAt.UTC().Format(time.RFC3339), v.ID, v.Assessment.Risk, v.Assessment.Score,
			v.Outcome, v.Source, v.Contract)
	}
	if page.HasMore {
		fmt.Fprintf(&sb, "\nMore results: cursor=%s\n", page.NextCursor)
	}
	return sb.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
