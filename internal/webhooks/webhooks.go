// Package webhooks delivers signed verdict notifications to one external
// endpoint.
//
// Deliveries are queued and sent by a background worker so that recording
// a verdict never waits on the network. Each POST carries
//
//	X-WalletGuard-Event:     transaction.proceeded | transaction.rejected
//	X-WalletGuard-Timestamp: unix seconds
//	X-WalletGuard-Signature: sha256=hex(HMAC-SHA256(secret, timestamp + "." + body))
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mbd888/walletguard/internal/idgen"
	"github.com/mbd888/walletguard/internal/metrics"
	"github.com/mbd888/walletguard/internal/protocol"
	"github.com/mbd888/walletguard/internal/retry"
	"github.com/mbd888/walletguard/internal/risk"
	"github.com/mbd888/walletguard/internal/security"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventTransactionProceeded EventType = "transaction.proceeded"
	EventTransactionRejected  EventType = "transaction.rejected"
)

const (
	HeaderEvent     = "X-WalletGuard-Event"
	HeaderTimestamp = "X-WalletGuard-Timestamp"
	HeaderSignature = "X-WalletGuard-Signature"
)

// DefaultQueueSize bounds undelivered events held in memory.
const DefaultQueueSize = 128

var ErrBadSignature = errors.New("webhooks: signature mismatch")

// Event is the JSON body of a delivery.
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Verdict   *risk.Verdict `json:"verdict"`
}

// Dispatcher implements bridge.Notifier.
type Dispatcher struct {
	url          string
	secret       string
	client       *http.Client
	logger       *slog.Logger
	policy       retry.Policy
	queue        chan *Event
	allowPrivate bool
	now          func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the default 10s-timeout client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithRetry overrides the delivery retry policy.
func WithRetry(p retry.Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithQueueSize sets the delivery buffer.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan *Event, n)
		}
	}
}

// WithAllowPrivate permits loopback and private hosts (development only).
func WithAllowPrivate(allow bool) Option {
	return func(d *Dispatcher) { d.allowPrivate = allow }
}

// NewDispatcher validates the endpoint and returns an idle dispatcher. Call
// Run to start delivering.
func NewDispatcher(url, secret string, opts ...Option) (*Dispatcher, error) {
	if secret == "" {
		return nil, errors.New("webhooks: secret required")
	}
	d := &Dispatcher{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: slog.Default(),
		policy: retry.Policy{Attempts: 4, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second},
		queue:  make(chan *Event, DefaultQueueSize),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := security.ValidateOutboundURL(url, d.allowPrivate); err != nil {
		return nil, fmt.Errorf("webhooks: %w", err)
	}
	return d, nil
}

// Notify queues a verdict for delivery. It never blocks; a full queue drops
// the event.
func (d *Dispatcher) Notify(ctx context.Context, v *risk.Verdict) {
	t := EventTransactionRejected
	if v.Outcome == protocol.OutcomeProceed {
		t = EventTransactionProceeded
	}
	event := &Event{
		ID:        idgen.WithPrefix("evt_", 12),
		Type:      t,
		Timestamp: d.now().UTC(),
		Verdict:   v,
	}
	select {
	case d.queue <- event:
	default:
		metrics.WebhookDeliveriesTotal.WithLabelValues("dropped").Inc()
		d.logger.Warn("webhook queue full, dropping event", "correlation_id", v.ID, "event", t)
	}
}

// Run delivers queued events until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-d.queue:
			d.deliver(ctx, event)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event *Event) {
	body, err := json.Marshal(event)
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		d.logger.Error("webhook marshal failed", "error", err)
		return
	}

	err = d.policy.Do(ctx, func() error { return d.post(ctx, event, body) })
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		d.logger.Warn("webhook delivery failed",
			"event_id", event.ID, "correlation_id", event.Verdict.ID, "error", err)
		return
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
}

func (d *Dispatcher) post(ctx context.Context, event *Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	ts := strconv.FormatInt(event.Timestamp.Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, Sign(d.secret, ts, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
}

// Sign computes the signature header value.
func Sign(secret, timestamp string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp))
	h.Write([]byte("."))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Verify checks a received signature. Receivers should also reject stale
// timestamps.
func Verify(secret, timestamp string, body []byte, signature string) error {
	if !hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
