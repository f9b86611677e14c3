// Package scoring is the HTTP client for the remote risk-scoring service.
//
// The service is a black box: walletguard sends {wallet, contract, tx_type}
// to POST /analyze and reads back a tier, a score and reasons. Every failure
// is reported as an *UnreachableError so callers can substitute the
// fail-closed assessment. Calls are never retried.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/mbd888/walletguard/internal/circuitbreaker"
	"github.com/mbd888/walletguard/internal/metrics"
	"github.com/mbd888/walletguard/internal/risk"
	"github.com/mbd888/walletguard/internal/traces"
)

// DefaultTimeout bounds a single Analyze call.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// ErrUnreachable is the sentinel behind every scoring failure.
var ErrUnreachable = errors.New("scoring: service unreachable")

// UnreachableError describes why the scorer could not produce an assessment.
type UnreachableError struct {
	Op     string // "analyze" or "health"
	Status int    // HTTP status, 0 when no response was received
	Err    error
}

func (e *UnreachableError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("scoring %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("scoring %s: %v", e.Op, e.Err)
}

// Is makes errors.Is(err, ErrUnreachable) hold for every UnreachableError.
func (e *UnreachableError) Is(target error) bool { return target == ErrUnreachable }

func (e *UnreachableError) Unwrap() error { return e.Err }

// Request is the body of POST /analyze.
type Request struct {
	Wallet   string      `json:"wallet"`
	Contract string      `json:"contract"`
	TxType   risk.TxType `json:"tx_type"`
}

// Client talks to one scoring endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	breaker    *circuitbreaker.Breaker
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds each call. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBreaker short-circuits calls while the endpoint is failing.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// NewClient creates a scoring client for baseURL (e.g. http://localhost:8000).
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the endpoint this client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// Analyze scores one transaction. It makes at most one network attempt.
func (c *Client) Analyze(ctx context.Context, req Request) (risk.Assessment, error) {
	ctx, span := traces.StartSpan(ctx, "scoring.Analyze",
		traces.Wallet(req.Wallet), traces.Contract(req.Contract), traces.TxType(string(req.TxType)))
	defer span.End()

	if c.breaker != nil && !c.breaker.Allow(c.baseURL) {
		metrics.ScoringRequestsTotal.WithLabelValues("short_circuit").Inc()
		err := &UnreachableError{Op: "analyze", Err: circuitbreaker.ErrOpen}
		traces.Fail(span, err)
		return risk.Assessment{}, err
	}

	start := time.Now()
	a, err := c.analyze(ctx, req)
	metrics.ScoringDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if c.breaker != nil {
			c.breaker.RecordFailure(c.baseURL)
		}
		metrics.ScoringRequestsTotal.WithLabelValues("error").Inc()
		traces.Fail(span, err)
		return risk.Assessment{}, err
	}
	if c.breaker != nil {
		c.breaker.RecordSuccess(c.baseURL)
	}
	metrics.ScoringRequestsTotal.WithLabelValues("ok").Inc()
	span.SetAttributes(traces.Risk(string(a.Risk), a.Score)...)
	return a, nil
}

func (c *Client) analyze(ctx context.Context, req Request) (risk.Assessment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return risk.Assessment{}, &UnreachableError{Op: "analyze", Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return risk.Assessment{}, &UnreachableError{Op: "analyze", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return risk.Assessment{}, &UnreachableError{Op: "analyze", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return risk.Assessment{}, &UnreachableError{Op: "analyze", Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return risk.Assessment{}, &UnreachableError{
			Op:     "analyze",
			Status: resp.StatusCode,
			Err:    errors.New(snippet(data)),
		}
	}

	a, err := decodeAssessment(data)
	if err != nil {
		return risk.Assessment{}, &UnreachableError{Op: "analyze", Status: resp.StatusCode, Err: err}
	}
	return a, nil
}

// Ping checks GET /health. It bypasses the breaker so readiness reflects
// the endpoint itself.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return &UnreachableError{Op: "health", Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UnreachableError{Op: "health", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode != http.StatusOK {
		return &UnreachableError{Op: "health", Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	return nil
}

// response mirrors the scorer's JSON. Field names follow the service.
type response struct {
	Risk      *string  `json:"risk"`
	Score     *float64 `json:"score"`
	RiskScore *float64 `json:"risk_score"`
	Reasons   []string `json:"reasons"`
	Graph     *struct {
		DistanceToBlacklist    *int  `json:"distance_to_blacklist"`
		WalletScamDistance     *int  `json:"wallet_scam_distance"`
		ConnectedToScamCluster *bool `json:"connected_to_scam_cluster"`
	} `json:"graph_signals"`
	Forecast *struct {
		DrainProbability   *float64 `json:"drain_probability"`
		AttackWindowBlocks *int     `json:"attack_window_blocks"`
	} `json:"forecast_signals"`
}

// tierFloor is the score reported when the service sends a tier but no score.
var tierFloor = map[risk.Tier]int{
	risk.TierSafe:       0,
	risk.TierLow:        20,
	risk.TierSuspicious: 50,
	risk.TierHighRisk:   80,
}

func decodeAssessment(data []byte) (risk.Assessment, error) {
	var r response
	if err := json.Unmarshal(data, &r); err != nil {
		return risk.Assessment{}, fmt.Errorf("invalid response body: %w", err)
	}
	if r.Risk == nil || strings.TrimSpace(*r.Risk) == "" {
		return risk.Assessment{}, errors.New("response missing risk")
	}

	a := risk.Assessment{
		Risk:    risk.ParseTier(*r.Risk),
		Reasons: append([]string{}, r.Reasons...),
	}

	raw := r.Score
	if raw == nil {
		raw = r.RiskScore
	}
	if raw == nil {
		a.Score = tierFloor[a.Risk]
	} else {
		if math.IsNaN(*raw) || *raw < 0 || *raw > 100 {
			return risk.Assessment{}, fmt.Errorf("score %v out of range", *raw)
		}
		a.Score = int(math.Round(*raw))
	}

	if g := r.Graph; g != nil {
		gs := &risk.GraphSignals{DistanceToBlacklist: -1}
		switch {
		case g.DistanceToBlacklist != nil:
			gs.DistanceToBlacklist = *g.DistanceToBlacklist
		case g.WalletScamDistance != nil:
			gs.DistanceToBlacklist = *g.WalletScamDistance
		}
		if g.ConnectedToScamCluster != nil {
			gs.ConnectedToScamCluster = *g.ConnectedToScamCluster
		}
		a.GraphSignals = gs
	}
	if f := r.Forecast; f != nil {
		fs := &risk.ForecastSignals{}
		if f.DrainProbability != nil {
			fs.DrainProbability = math.Min(math.Max(*f.DrainProbability, 0), 1)
		}
		if f.AttackWindowBlocks != nil {
			fs.AttackWindowBlocks = *f.AttackWindowBlocks
		}
		a.ForecastSignals = fs
	}

	if a.Risk != risk.TierSafe && len(a.Reasons) == 0 {
		a.Reasons = []string{"Scoring service flagged this transaction as " + string(a.Risk)}
	}
	return a, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		s = "empty response"
	}
	return s
}
