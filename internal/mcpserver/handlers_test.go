package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/walletguard/internal/apiclient"
)

// --- Test helpers ---

func newTestSetup(t *testing.T, handler http.Handler) *Handlers {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewHandlers(apiclient.New(apiclient.Config{APIURL: ts.URL, Token: "wg_test_token_abcdef"}))
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func jsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

// --- check_transaction ---

func TestHandleCheckTransaction(t *testing.T) {
	var got apiclient.AssessRequest
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/assess", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"assessment":{"risk":"HIGH_RISK","score":92,"reasons":["Known drainer"],` +
			`"graphSignals":{"distanceToBlacklist":1,"connectedToScamCluster":true}},"txType":"approve","autoProceed":false}`))
	}))

	result, err := h.HandleCheckTransaction(context.Background(), makeRequest(map[string]any{
		"wallet":   "0x1111111111111111111111111111111111111111",
		"contract": "0x3333333333333333333333333333333333333333",
		"data":     "0x095ea7b3",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "HIGH_RISK (score 92/100)")
	assert.Contains(t, text, "held for a human decision")
	assert.Contains(t, text, "Known drainer")
	assert.Contains(t, text, "scam cluster: true")
	assert.Equal(t, "0x095ea7b3", got.Data)
}

func TestHandleCheckTransaction_MissingArgs(t *testing.T) {
	h := newTestSetup(t, jsonHandler(`{}`))

	result, err := h.HandleCheckTransaction(context.Background(), makeRequest(map[string]any{"wallet": "0x1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "required")
}

func TestHandleCheckTransaction_APIError(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"validation_error","message":"wallet: invalid Ethereum address"}`))
	}))

	result, err := h.HandleCheckTransaction(context.Background(), makeRequest(map[string]any{
		"wallet": "nope", "contract": "0x3333333333333333333333333333333333333333",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "invalid Ethereum address")
}

// --- list_pending / list_warnings ---

func TestHandleListPending(t *testing.T) {
	h := newTestSetup(t, jsonHandler(`{"pending":[{"correlationId":"tx_a","method":"eth_sendTransaction",`+
		`"payload":{"from":"0x1","to":"0x2","data":"0x"},"state":"AWAITING_DECISION","ageSeconds":65}],"count":1}`))

	result, err := h.HandleListPending(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "1 transaction(s) held")
	assert.Contains(t, text, "tx_a  eth_sendTransaction  0x1 -> 0x2")
	assert.Contains(t, text, "1m5s")
}

func TestHandleListWarnings_Empty(t *testing.T) {
	h := newTestSetup(t, jsonHandler(`{"warnings":[],"count":0}`))

	result, err := h.HandleListWarnings(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No open warnings.", resultText(t, result))
}

func TestHandleListWarnings(t *testing.T) {
	h := newTestSetup(t, jsonHandler(`{"warnings":[{"id":"tx_w1","contract":"0xbad","txType":"approve",`+
		`"assessment":{"risk":"SUSPICIOUS","score":55,"reasons":["Unverified contract"]},"status":"open"}],"count":1}`))

	result, err := h.HandleListWarnings(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "tx_w1  SUSPICIOUS 55/100  approve to 0xbad")
	assert.Contains(t, text, "Unverified contract")
}

// --- get_warning ---

func TestHandleGetWarning_NotFound(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not_found","message":"Warning not found"}`))
	}))

	result, err := h.HandleGetWarning(context.Background(), makeRequest(map[string]any{"warning_id": "tx_gone"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "No warning with id tx_gone")
}

func TestHandleGetWarning(t *testing.T) {
	h := newTestSetup(t, jsonHandler(`{"warning":{"id":"tx_w1","wallet":"0x1","contract":"0xbad","txType":"swap",`+
		`"assessment":{"risk":"HIGH_RISK","score":99,"reasons":["Backend unreachable"]},`+
		`"payload":{"from":"0x1","to":"0xbad","data":"0x12345678aa"},"status":"resolved","outcome":"REJECT","reason":"User rejected"}}`))

	result, err := h.HandleGetWarning(context.Background(), makeRequest(map[string]any{"warning_id": "tx_w1"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Warning tx_w1 (resolved)")
	assert.Contains(t, text, "Outcome:  REJECT (User rejected)")
	assert.Contains(t, text, "Data:     0x12345678aa")
	assert.Contains(t, text, "Backend unreachable")
}

// --- decide_warning ---

func TestHandleDecideWarning(t *testing.T) {
	var body map[string]string
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/warnings/tx_w1/decision", r.URL.Path)
		assert.Equal(t, "Bearer wg_test_token_abcdef", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"warning":{"id":"tx_w1","status":"resolved","outcome":"REJECT"}}`))
	}))

	result, err := h.HandleDecideWarning(context.Background(), makeRequest(map[string]any{
		"warning_id": "tx_w1", "outcome": "reject", "reason": "phishing",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "REJECT", body["outcome"])
	assert.Equal(t, "phishing", body["reason"])
	assert.Contains(t, resultText(t, result), "rejected back to the wallet")
}

func TestHandleDecideWarning_BadOutcome(t *testing.T) {
	h := newTestSetup(t, jsonHandler(`{}`))

	result, err := h.HandleDecideWarning(context.Background(), makeRequest(map[string]any{
		"warning_id": "tx_w1", "outcome": "maybe",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleDecideWarning_Conflict(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"already_resolved","message":"Warning was already resolved"}`))
	}))

	result, err := h.HandleDecideWarning(context.Background(), makeRequest(map[string]any{
		"warning_id": "tx_w1", "outcome": "PROCEED",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "already resolved")
}

// --- list_verdicts ---

func TestHandleListVerdicts(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"verdicts":[{"id":"tx_v1","contract":"0xbad","outcome":"REJECT","source":"timeout",` +
			`"assessment":{"risk":"HIGH_RISK","score":80},"decidedAt":"2026-01-02T03:04:05Z"}],"nextCursor":"abc","hasMore":true}`))
	}))

	result, err := h.HandleListVerdicts(context.Background(), makeRequest(map[string]any{"limit": float64(5)}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "2026-01-02T03:04:05Z  tx_v1  HIGH_RISK 80/100  REJECT by timeout  0xbad")
	assert.Contains(t, text, "cursor=abc")
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(apiclient.Config{APIURL: "http://localhost:8545", Token: "x"})
	require.NotNil(t, s)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
