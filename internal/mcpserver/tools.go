package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the walletguard MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCheckTransaction = mcp.NewTool("check_transaction",
	mcp.WithDescription(
		"Score a transaction before it is sent, without submitting anything. "+
			"Returns the risk tier (SAFE, LOW, SUSPICIOUS, HIGH_RISK), a 0-100 score and the reasons. "+
			"SAFE and LOW would be forwarded automatically; anything else would stop for a human decision."),
	mcp.WithString("wallet",
		mcp.Required(),
		mcp.Description("Sending wallet address (0x + 40 hex chars)")),
	mcp.WithString("contract",
		mcp.Required(),
		mcp.Description("Destination contract or recipient address")),
	mcp.WithString("data",
		mcp.Description("Hex calldata (e.g. '0x095ea7b3...'). Used to infer the transaction type.")),
	mcp.WithString("tx_type",
		mcp.Description("Override the inferred transaction type"),
		mcp.Enum("approve", "swap", "send")),
)

var ToolListPending = mcp.NewTool("list_pending",
	mcp.WithDescription(
		"List transaction submissions currently held by walletguard, oldest first. "+
			"Each one is waiting for a risk decision and has not reached the network."),
)

var ToolListWarnings = mcp.NewTool("list_warnings",
	mcp.WithDescription(
		"List open risk warnings awaiting a human PROCEED or REJECT decision, oldest first. "+
			"Use decide_warning with a warning id to answer one."),
)

var ToolGetWarning = mcp.NewTool("get_warning",
	mcp.WithDescription(
		"Show one warning in detail, including the transaction payload and every risk reason."),
	mcp.WithString("warning_id",
		mcp.Required(),
		mcp.Description("The warning id (tx_ followed by 32 hex chars)")),
)

var ToolDecideWarning = mcp.NewTool("decide_warning",
	mcp.WithDescription(
		"Answer an open warning. PROCEED forwards the held transaction to the network; "+
			"REJECT fails it back to the wallet. This cannot be undone."),
	mcp.WithString("warning_id",
		mcp.Required(),
		mcp.Description("The warning id from list_warnings")),
	mcp.WithString("outcome",
		mcp.Required(),
		mcp.Description("PROCEED or REJECT"),
		mcp.Enum("PROCEED", "REJECT")),
	mcp.WithString("reason",
		mcp.Description("Optional note recorded in the audit log")),
)

var ToolListVerdicts = mcp.NewTool("list_verdicts",
	mcp.WithDescription(
		"Browse the audit log of past decisions, newest first. "+
			"Pass the returned cursor to fetch the next page."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of verdicts to return (default 20)")),
	mcp.WithString("cursor",
		mcp.Description("Cursor from a previous list_verdicts call")),
)
