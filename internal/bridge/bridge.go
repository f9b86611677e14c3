// Package bridge turns AnalysisRequests into Decisions.
//
// For each request it classifies the calldata, asks the scoring service for
// an assessment (once, no retries), and applies the policy: SAFE and LOW
// proceed automatically, anything else goes to the Decision UI. A scoring
// failure becomes a HIGH_RISK assessment, so it always reaches the UI.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/walletguard/internal/bus"
	"github.com/mbd888/walletguard/internal/logging"
	"github.com/mbd888/walletguard/internal/metrics"
	"github.com/mbd888/walletguard/internal/protocol"
	"github.com/mbd888/walletguard/internal/retry"
	"github.com/mbd888/walletguard/internal/risk"
	"github.com/mbd888/walletguard/internal/scoring"
	"github.com/mbd888/walletguard/internal/traces"
)

// Reasons attached when the user gives none.
const (
	DefaultRejectReason  = "User rejected"
	DefaultProceedReason = "User acknowledged risk"
)

// ErrDismissed is returned by a DecisionUI when the warning went away
// without an answer.
var ErrDismissed = errors.New("bridge: warning dismissed")

// Scorer produces an assessment for a transaction.
type Scorer interface {
	Analyze(ctx context.Context, req scoring.Request) (risk.Assessment, error)
}

// Prompt is everything the Decision UI needs to render a warning.
type Prompt struct {
	CorrelationID protocol.CorrelationID      `json:"correlationId"`
	Payload       protocol.TransactionPayload `json:"payload"`
	TxType        risk.TxType                 `json:"txType"`
	Assessment    risk.Assessment             `json:"assessment"`
}

// Choice is the user's answer to a Prompt.
type Choice struct {
	Outcome protocol.Outcome `json:"outcome"`
	Reason  string           `json:"reason,omitempty"`
}

// DecisionUI presents a warning and blocks until the user chooses or ctx
// ends. It is never invoked for SAFE or LOW assessments.
type DecisionUI interface {
	Present(ctx context.Context, p Prompt) (Choice, error)
}

// Notifier receives every recorded verdict, e.g. to fire a webhook.
type Notifier interface {
	Notify(ctx context.Context, v *risk.Verdict)
}

// Bridge consumes AnalysisRequests and publishes Decisions.
type Bridge struct {
	bus    *bus.Bus
	sub    *bus.Subscription
	scorer Scorer
	ui     DecisionUI
	logger *slog.Logger

	store      risk.Store
	notifier   Notifier
	uiTimeout  time.Duration
	onDecision func(protocol.Decision, *risk.Verdict)
	now        func() time.Time

	mu       sync.Mutex
	inflight map[protocol.CorrelationID]*inflight

	wg sync.WaitGroup
}

type inflight struct {
	cancel context.CancelCauseFunc
}

// withdrawnError is the cancellation cause of a request whose caller is no
// longer waiting.
type withdrawnError struct {
	c protocol.Cancellation
}

func (e *withdrawnError) Error() string { return "request withdrawn: " + e.c.Reason }

func withdrawnBy(ctx context.Context) (protocol.Cancellation, bool) {
	var w *withdrawnError
	if errors.As(context.Cause(ctx), &w) {
		return w.c, true
	}
	return protocol.Cancellation{}, false
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithStore records a Verdict for every decision.
func WithStore(s risk.Store) Option {
	return func(b *Bridge) { b.store = s }
}

// WithNotifier forwards recorded verdicts.
func WithNotifier(n Notifier) Option {
	return func(b *Bridge) { b.notifier = n }
}

// WithUITimeout bounds how long a warning may stay open, measured from the
// moment the request was intercepted. Zero means no limit.
func WithUITimeout(d time.Duration) Option {
	return func(b *Bridge) { b.uiTimeout = d }
}

// WithDecisionHook is called after each Decision is published.
func WithDecisionHook(fn func(protocol.Decision, *risk.Verdict)) Option {
	return func(b *Bridge) { b.onDecision = fn }
}

// New creates a Bridge and subscribes it to AnalysisRequests.
func New(b *bus.Bus, scorer Scorer, ui DecisionUI, opts ...Option) *Bridge {
	br := &Bridge{
		bus:    b,
		scorer: scorer,
		ui:     ui,
		logger:   slog.Default(),
		now:      time.Now,
		inflight: make(map[protocol.CorrelationID]*inflight),
	}
	for _, opt := range opts {
		opt(br)
	}
	br.sub = b.Subscribe("bridge", protocol.KindAnalysisRequest, protocol.KindCancellation)
	return br
}

// Run handles requests concurrently until ctx is done or the subscription
// closes, then waits for in-flight requests to publish their Decisions. A
// Cancellation withdraws the matching in-flight request.
func (b *Bridge) Run(ctx context.Context) {
	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-b.sub.C():
			if !ok {
				return
			}
			switch m := msg.(type) {
			case protocol.AnalysisRequest:
				// Tracked before the goroutine starts so a Cancellation
				// that follows on the bus always finds it.
				reqCtx, f := b.track(ctx, m.CorrelationID)
				b.wg.Add(1)
				go func() {
					defer b.wg.Done()
					defer b.untrack(m.CorrelationID, f)
					b.handle(reqCtx, m)
				}()
			case protocol.Cancellation:
				b.withdraw(m)
			}
		}
	}
}

func (b *Bridge) track(ctx context.Context, id protocol.CorrelationID) (context.Context, *inflight) {
	reqCtx, cancel := context.WithCancelCause(ctx)
	f := &inflight{cancel: cancel}
	b.mu.Lock()
	b.inflight[id] = f
	b.mu.Unlock()
	return reqCtx, f
}

func (b *Bridge) untrack(id protocol.CorrelationID, f *inflight) {
	b.mu.Lock()
	if b.inflight[id] == f {
		delete(b.inflight, id)
	}
	b.mu.Unlock()
	f.cancel(nil)
}

// withdraw cancels the in-flight request c names. Cancellations for requests
// that already have a Decision are ignored.
func (b *Bridge) withdraw(c protocol.Cancellation) {
	b.mu.Lock()
	f, ok := b.inflight[c.CorrelationID]
	b.mu.Unlock()
	if !ok {
		b.logger.Debug("cancellation for settled request ignored", "correlation_id", c.CorrelationID)
		return
	}
	metrics.WithdrawnTotal.WithLabelValues(string(c.Source)).Inc()
	b.logger.Info("request withdrawn", "correlation_id", c.CorrelationID, "source", c.Source, "reason", c.Reason)
	f.cancel(&withdrawnError{c: c})
}

// Close detaches the Bridge from the bus.
func (b *Bridge) Close() {
	b.sub.Close()
}

// Assess classifies data and scores the transaction without involving the
// UI or publishing anything. Scoring failures yield the fail-closed
// assessment rather than an error.
func (b *Bridge) Assess(ctx context.Context, wallet, contract string, txType risk.TxType) risk.Assessment {
	ctx, span := traces.StartSpan(ctx, "bridge.Assess",
		traces.Wallet(wallet), traces.Contract(contract), traces.TxType(string(txType)))
	defer span.End()

	a, err := b.scorer.Analyze(ctx, scoring.Request{Wallet: wallet, Contract: contract, TxType: txType})
	if err != nil {
		logging.L(ctx).Warn("scoring failed, assuming high risk", "error", err)
		traces.Fail(span, err)
		a = risk.Unreachable(err)
	}
	metrics.AssessmentsTotal.WithLabelValues(string(a.Risk), string(txType)).Inc()
	span.SetAttributes(traces.Risk(string(a.Risk), a.Score)...)
	return a
}

func (b *Bridge) handle(ctx context.Context, req protocol.AnalysisRequest) {
	ctx = logging.WithLogger(ctx, b.logger)
	ctx = logging.WithCorrelationID(ctx, string(req.CorrelationID))
	created := req.InterceptedAt
	if created.IsZero() {
		created = b.now()
	}

	decision, v := b.decide(ctx, req)

	b.bus.Publish(decision)
	metrics.DecisionsTotal.WithLabelValues(string(decision.Outcome), string(decision.Source)).Inc()
	logging.L(ctx).Info("decision published",
		"outcome", decision.Outcome, "source", decision.Source,
		"risk", v.Assessment.Risk, "score", v.Assessment.Score)

	v.CreatedAt = created
	v.DecidedAt = b.now()
	if b.onDecision != nil {
		b.onDecision(decision, v)
	}
	b.record(ctx, v)
}

// decide always returns exactly one Decision for req.
func (b *Bridge) decide(ctx context.Context, req protocol.AnalysisRequest) (d protocol.Decision, v *risk.Verdict) {
	txType := Classify(req.Payload.Data)
	v = &risk.Verdict{
		ID:       string(req.CorrelationID),
		Wallet:   req.Payload.From,
		Contract: req.Payload.To,
		TxType:   txType,
	}
	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("panic while deciding, rejecting", "panic", r)
			d = protocol.Reject(req.CorrelationID, protocol.SourceFailClosed, "Internal error while assessing transaction")
		}
		// The caller is gone, so nothing was forwarded whatever the UI said.
		if c, ok := withdrawnBy(ctx); ok && d.Outcome == protocol.OutcomeProceed {
			d = protocol.Reject(req.CorrelationID, c.Source, c.Reason)
		}
		v.Outcome, v.Reason, v.Source = d.Outcome, d.Reason, d.Source
	}()

	v.Assessment = b.Assess(ctx, req.Payload.From, req.Payload.To, txType)
	if risk.AutoProceed(v.Assessment.Risk) {
		return protocol.Proceed(req.CorrelationID, protocol.SourceAuto, ""), v
	}
	if c, ok := withdrawnBy(ctx); ok {
		return protocol.Reject(req.CorrelationID, c.Source, c.Reason), v
	}
	return b.ask(ctx, req, txType, v.Assessment), v
}

func (b *Bridge) ask(ctx context.Context, req protocol.AnalysisRequest, txType risk.TxType, a risk.Assessment) protocol.Decision {
	if b.ui == nil {
		return protocol.Reject(req.CorrelationID, protocol.SourceFailClosed, "No warning UI available")
	}

	uiCtx := ctx
	if b.uiTimeout > 0 {
		start := req.InterceptedAt
		if start.IsZero() {
			start = b.now()
		}
		var cancel context.CancelFunc
		uiCtx, cancel = context.WithDeadline(ctx, start.Add(b.uiTimeout))
		defer cancel()
	}

	choice, err := b.ui.Present(uiCtx, Prompt{
		CorrelationID: req.CorrelationID,
		Payload:       req.Payload,
		TxType:        txType,
		Assessment:    a.Clone(),
	})
	if c, ok := withdrawnBy(uiCtx); ok && err != nil {
		return protocol.Reject(req.CorrelationID, c.Source, c.Reason)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.Reject(req.CorrelationID, protocol.SourceTimeout,
			fmt.Sprintf("No decision within %s", b.uiTimeout))
	case err != nil:
		logging.L(ctx).Warn("warning not answered, rejecting", "error", err)
		return protocol.Reject(req.CorrelationID, protocol.SourceFailClosed, "Warning dismissed: "+err.Error())
	}

	switch choice.Outcome {
	case protocol.OutcomeProceed:
		reason := choice.Reason
		if reason == "" {
			reason = DefaultProceedReason
		}
		return protocol.Proceed(req.CorrelationID, protocol.SourceUser, reason)
	case protocol.OutcomeReject:
		reason := choice.Reason
		if reason == "" {
			reason = DefaultRejectReason
		}
		return protocol.Reject(req.CorrelationID, protocol.SourceUser, reason)
	default:
		return protocol.Reject(req.CorrelationID, protocol.SourceFailClosed,
			fmt.Sprintf("Unrecognised choice %q", choice.Outcome))
	}
}

// record writes the verdict to the audit store. Failures are logged only;
// the decision has already been published.
func (b *Bridge) record(ctx context.Context, v *risk.Verdict) {
	if b.store != nil {
		// Detached so a cancelled caller does not lose the audit record.
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		err := retry.Default.Do(wctx, func() error {
			err := b.store.Record(wctx, v)
			if errors.Is(err, risk.ErrDuplicateVerdict) || errors.Is(err, risk.ErrInvalidVerdict) {
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			logging.L(ctx).Error("failed to record verdict", "error", err)
		}
	}
	if b.notifier != nil {
		b.notifier.Notify(context.WithoutCancel(ctx), v.Clone())
	}
}
