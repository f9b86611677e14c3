// Package apiclient is an HTTP client for the walletguard operator API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/walletguard/internal/interceptor"
	"github.com/mbd888/walletguard/internal/risk"
	"github.com/mbd888/walletguard/internal/warning"
)

// DefaultURL is where a locally running walletguard listens.
const DefaultURL = "http://localhost:8545"

// Config holds the connection settings for a walletguard instance.
type Config struct {
	APIURL string // e.g. "http://localhost:8545"
	Token  string // operator token
}

// Client talks to the /v1 operator API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a client. An empty APIURL means DefaultURL.
func New(cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient returns a copy of c using hc.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	out := *c
	out.httpClient = hc
	return &out
}

// Error is a non-2xx response from the API.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("API error (%d)", e.Status)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.cfg.APIURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &Error{Status: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// AssessRequest asks for a dry-run assessment. TxType is inferred from Data
// when empty.
type AssessRequest struct {
	Wallet   string `json:"wallet"`
	Contract string `json:"contract"`
	Data     string `json:"data,omitempty"`
	TxType   string `json:"txType,omitempty"`
}

// AssessResult is the server's answer to an AssessRequest.
type AssessResult struct {
	Assessment  risk.Assessment `json:"assessment"`
	TxType      risk.TxType     `json:"txType"`
	AutoProceed bool            `json:"autoProceed"`
}

// Assess scores a transaction without submitting it.
func (c *Client) Assess(ctx context.Context, req AssessRequest) (*AssessResult, error) {
	var out AssessResult
	if err := c.do(ctx, http.MethodPost, "/v1/assess", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pending lists submissions waiting on a decision, oldest first.
func (c *Client) Pending(ctx context.Context) ([]interceptor.PendingSnapshot, error) {
	var out struct {
		Pending []interceptor.PendingSnapshot `json:"pending"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/pending", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Pending, nil
}

// Warnings lists open warnings, oldest first.
func (c *Client) Warnings(ctx context.Context) ([]warning.Warning, error) {
	var out struct {
		Warnings []warning.Warning `json:"warnings"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/warnings", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Warnings, nil
}

// Warning fetches one open or recently resolved warning.
func (c *Client) Warning(ctx context.Context, id string) (*warning.Warning, error) {
	var out struct {
		Warning *warning.Warning `json:"warning"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/warnings/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Warning, nil
}

// Decide answers an open warning with PROCEED or REJECT.
func (c *Client) Decide(ctx context.Context, id, outcome, reason string) (*warning.Warning, error) {
	body := map[string]string{"outcome": strings.ToUpper(outcome)}
	if reason != "" {
		body["reason"] = reason
	}
	var out struct {
		Warning *warning.Warning `json:"warning"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/warnings/"+url.PathEscape(id)+"/decision", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Warning, nil
}

// Verdicts returns one page of the audit log, newest first.
func (c *Client) Verdicts(ctx context.Context, cursor string, limit int) (*risk.Page, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page risk.Page
	if err := c.do(ctx, http.MethodGet, "/v1/verdicts", q, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Verdict fetches one recorded decision by correlation id.
func (c *Client) Verdict(ctx context.Context, id string) (*risk.Verdict, error) {
	var out struct {
		Verdict *risk.Verdict `json:"verdict"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/verdicts/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Verdict, nil
}

// Health returns the raw /health document.
func (c *Client) Health(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/health", nil, nil, &raw)
	return raw, err
}
