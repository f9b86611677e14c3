package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/walletguard/internal/config"
	"github.com/mbd888/walletguard/internal/logging"
	"github.com/mbd888/walletguard/internal/protocol"
	"github.com/mbd888/walletguard/internal/provider"
	"github.com/mbd888/walletguard/internal/risk"
	"github.com/mbd888/walletguard/internal/warning"
)

const (
	testToken = "wg_test_operator_token_0123456789"
	wallet    = "0x1111111111111111111111111111111111111111"
	safeDapp  = "0x2222222222222222222222222222222222222222"
	drainer   = "0x3333333333333333333333333333333333333333"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ethService is an in-process node that records forwarded submissions.
type ethService struct {
	sent atomic.Int32
}

func (s *ethService) ChainId() *hexutil.Big { return (*hexutil.Big)(big.NewInt(8453)) }

func (s *ethService) SendTransaction(tx map[string]any) string {
	s.sent.Add(1)
	return "0xfeed"
}

// scorer answers /analyze from a per-contract table.
type scorer struct {
	mu    sync.Mutex
	tiers map[string]string
	down  bool
}

func (sc *scorer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.down {
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	switch r.URL.Path {
	case "/health":
		w.WriteHeader(http.StatusOK)
	case "/analyze":
		var req struct {
			Contract string `json:"contract"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		tier := sc.tiers[strings.ToLower(req.Contract)]
		if tier == "" {
			tier = "SAFE"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"risk": tier, "reasons": []string{"table lookup"}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type harness struct {
	srv    *Server
	node   *ethService
	scorer *scorer
	store  *risk.MemoryStore
}

func newHarness(t *testing.T, tweaks ...func(*config.Config)) *harness {
	t.Helper()

	node := &ethService{}
	rpcSrv := rpc.NewServer()
	require.NoError(t, rpcSrv.RegisterName("eth", node))
	t.Cleanup(rpcSrv.Stop)

	sc := &scorer{tiers: map[string]string{drainer: "HIGH_RISK"}}
	scoringSrv := httptest.NewServer(sc)
	t.Cleanup(scoringSrv.Close)

	cfg := &config.Config{
		Port:             "0",
		Env:              "development",
		LogLevel:         "error",
		ScoringURL:       scoringSrv.URL,
		ScoringTimeout:   2 * time.Second,
		BreakerThreshold: 100,
		BreakerOpenFor:   time.Second,
		DecisionTimeout:  10 * time.Second,
		OperatorToken:    testToken,
		ShutdownTimeout:  time.Second,
	}
	for _, tweak := range tweaks {
		tweak(cfg)
	}
	store := risk.NewMemoryStore()
	s, err := New(cfg,
		WithLogger(logging.Discard()),
		WithProvider(provider.NewFromClient(rpc.DialInProc(rpcSrv))),
		WithStore(store),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		cancel()
		_ = s.Shutdown()
	})
	return &harness{srv: s, node: node, scorer: sc, store: store}
}

func (h *harness) do(method, path, body string, operator bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if operator {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	w := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(w, req)
	return w
}

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func sendTx(to string) string {
	return `{"jsonrpc":"2.0","id":1,"method":"eth_sendTransaction","params":[{"from":"` + wallet +
		`","to":"` + to + `","data":"0x","value":"0x1"}]}`
}

func decodeReply(t *testing.T, w *httptest.ResponseRecorder) rpcReply {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var r rpcReply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r))
	return r
}

// submitAsync sends a gated submission and returns a channel with its reply.
func (h *harness) submitAsync(body string) <-chan *httptest.ResponseRecorder {
	out := make(chan *httptest.ResponseRecorder, 1)
	go func() { out <- h.do(http.MethodPost, "/", body, false) }()
	return out
}

func (h *harness) waitWarning(t *testing.T) warning.Warning {
	t.Helper()
	var open []warning.Warning
	require.Eventually(t, func() bool {
		open = h.srv.Warnings().List()
		return len(open) == 1
	}, 5*time.Second, 10*time.Millisecond)
	return open[0]
}

func await(t *testing.T, ch <-chan *httptest.ResponseRecorder) *httptest.ResponseRecorder {
	t.Helper()
	select {
	case w := <-ch:
		return w
	case <-time.After(5 * time.Second):
		t.Fatal("submission never resolved")
		return nil
	}
}

func TestPassthroughMethod(t *testing.T) {
	h := newHarness(t)

	r := decodeReply(t, h.do(http.MethodPost, "/", `{"jsonrpc":"2.0","id":7,"method":"eth_chainId","params":[]}`, false))
	require.Nil(t, r.Error)
	assert.JSONEq(t, `"0x2105"`, string(r.Result))
}

func TestSafeSubmissionForwards(t *testing.T) {
	h := newHarness(t)

	r := decodeReply(t, h.do(http.MethodPost, "/rpc", sendTx(safeDapp), false))
	require.Nil(t, r.Error)
	assert.JSONEq(t, `"0xfeed"`, string(r.Result))
	assert.Equal(t, int32(1), h.node.sent.Load())
	assert.Empty(t, h.srv.Warnings().List())

	require.Eventually(t, func() bool {
		page, err := h.store.List(context.Background(), "", 10)
		return err == nil && len(page.Verdicts) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHighRiskRejectedByOperator(t *testing.T) {
	h := newHarness(t)

	reply := h.submitAsync(sendTx(drainer))
	wn := h.waitWarning(t)
	assert.Equal(t, risk.TierHighRisk, wn.Assessment.Risk)

	pending := h.do(http.MethodGet, "/v1/pending", "", true)
	require.Equal(t, http.StatusOK, pending.Code)
	assert.Contains(t, pending.Body.String(), string(wn.ID))

	d := h.do(http.MethodPost, "/v1/warnings/"+string(wn.ID)+"/decision", `{"outcome":"REJECT","reason":"looks like a drainer"}`, true)
	require.Equal(t, http.StatusOK, d.Code, d.Body.String())

	r := decodeReply(t, await(t, reply))
	require.NotNil(t, r.Error)
	assert.Equal(t, 4001, r.Error.Code)
	assert.Equal(t, int32(0), h.node.sent.Load())
}

func TestHighRiskProceededByOperator(t *testing.T) {
	h := newHarness(t)

	reply := h.submitAsync(sendTx(drainer))
	wn := h.waitWarning(t)

	d := h.do(http.MethodPost, "/v1/warnings/"+string(wn.ID)+"/decision", `{"outcome":"PROCEED"}`, true)
	require.Equal(t, http.StatusOK, d.Code, d.Body.String())

	r := decodeReply(t, await(t, reply))
	require.Nil(t, r.Error)
	assert.JSONEq(t, `"0xfeed"`, string(r.Result))
	assert.Equal(t, int32(1), h.node.sent.Load())

	var got *risk.Verdict
	require.Eventually(t, func() bool {
		v, err := h.store.Get(context.Background(), string(wn.ID))
		got = v
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "PROCEED", string(got.Outcome))
}

func (h *harness) verdict(t *testing.T, id string) *risk.Verdict {
	t.Helper()
	var got *risk.Verdict
	require.Eventually(t, func() bool {
		v, err := h.store.Get(context.Background(), id)
		got = v
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	return got
}

func (h *harness) waitExpired(t *testing.T, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		w, err := h.srv.Warnings().Get(id)
		return err == nil && w.Status == warning.StatusExpired
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCancelledCallerWithdrawsWarning(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	params := json.RawMessage(`[{"from":"` + wallet + `","to":"` + drainer + `","data":"0x","value":"0x1"}]`)
	errc := make(chan error, 1)
	go func() {
		_, err := h.srv.Interceptor().Submit(ctx, "eth_sendTransaction", params)
		errc <- err
	}()
	wn := h.waitWarning(t)
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("submission never returned")
	}
	assert.Empty(t, h.srv.Interceptor().Pending())
	h.waitExpired(t, string(wn.ID))
	assert.Empty(t, h.srv.Warnings().List())

	// The operator is too late: nothing can turn this into a PROCEED.
	_, err := h.srv.Warnings().Resolve(string(wn.ID), "PROCEED", "")
	assert.ErrorIs(t, err, warning.ErrAlreadyResolved)

	v := h.verdict(t, string(wn.ID))
	assert.Equal(t, protocol.OutcomeReject, v.Outcome)
	assert.Equal(t, protocol.SourceCancelled, v.Source)
	assert.Zero(t, h.node.sent.Load())
}

func TestDecisionTimeoutExpiresWarning(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.DecisionTimeout = 300 * time.Millisecond })

	reply := h.submitAsync(sendTx(drainer))
	wn := h.waitWarning(t)

	r := decodeReply(t, await(t, reply))
	require.NotNil(t, r.Error)
	h.waitExpired(t, string(wn.ID))

	_, err := h.srv.Warnings().Resolve(string(wn.ID), "PROCEED", "")
	assert.ErrorIs(t, err, warning.ErrAlreadyResolved)

	v := h.verdict(t, string(wn.ID))
	assert.Equal(t, protocol.OutcomeReject, v.Outcome)
	assert.Equal(t, protocol.SourceTimeout, v.Source)
	assert.Zero(t, h.node.sent.Load())
}

func TestScorerDownFailsClosed(t *testing.T) {
	h := newHarness(t)
	h.scorer.mu.Lock()
	h.scorer.down = true
	h.scorer.mu.Unlock()

	reply := h.submitAsync(sendTx(safeDapp))
	wn := h.waitWarning(t)
	assert.Equal(t, risk.TierHighRisk, wn.Assessment.Risk)
	assert.Equal(t, risk.UnreachableScore, wn.Assessment.Score)

	h.do(http.MethodPost, "/v1/warnings/"+string(wn.ID)+"/decision", `{"outcome":"REJECT"}`, true)
	r := decodeReply(t, await(t, reply))
	require.NotNil(t, r.Error)
	assert.Equal(t, 4001, r.Error.Code)
}

func TestAssess(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/v1/assess", `{"wallet":"`+wallet+`","contract":"`+drainer+`","data":"0x095ea7b3"}`, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp AssessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, risk.TxApprove, resp.TxType)
	assert.Equal(t, risk.TierHighRisk, resp.Assessment.Risk)
	assert.False(t, resp.AutoProceed)
	assert.Empty(t, h.srv.Warnings().List())

	bad := h.do(http.MethodPost, "/v1/assess", `{"wallet":"nope","contract":"`+drainer+`"}`, false)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
	assert.Contains(t, bad.Body.String(), "validation_error")
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	h := newHarness(t)

	for _, path := range []string{"/v1/pending", "/v1/warnings", "/v1/verdicts", "/ws"} {
		w := h.do(http.MethodGet, path, "", false)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	w := h.do(http.MethodGet, "/v1/verdicts/not-an-id", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/health", "", false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/health/live", "", false).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/health/ready", "", false).Code)
	assert.NotEmpty(t, h.do(http.MethodGet, "/health", "", false).Header().Get("X-Request-ID"))
}

func TestShutdownRejectsParked(t *testing.T) {
	h := newHarness(t)

	reply := h.submitAsync(sendTx(drainer))
	h.waitWarning(t)

	require.NoError(t, h.srv.Shutdown())
	r := decodeReply(t, await(t, reply))
	require.NotNil(t, r.Error)
	assert.Equal(t, 4001, r.Error.Code)
}

func TestMaskDSN(t *testing.T) {
	masked := maskDSN("postgres://app:secret@db:5432/wg")
	assert.NotContains(t, masked, "secret")
	assert.Contains(t, masked, "app:")
	assert.Equal(t, "https://rpc.example", maskDSN("https://rpc.example"))
}
