// Package interceptor wraps the wallet provider and holds every transaction
// submission until the Bridge decides its fate.
//
// The Interceptor never talks to the Bridge directly. It publishes an
// AnalysisRequest on the bus, parks the caller on a PendingRequest keyed by a
// fresh correlation id, and wakes it when the Decision with that id comes
// back. Calls that do not submit a transaction pass straight through.
package interceptor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/walletguard/internal/bus"
	"github.com/mbd888/walletguard/internal/idgen"
	"github.com/mbd888/walletguard/internal/logging"
	"github.com/mbd888/walletguard/internal/metrics"
	"github.com/mbd888/walletguard/internal/protocol"
	"github.com/mbd888/walletguard/internal/traces"
)

// ErrInvalidParams is matched by every *InvalidParamsError.
var ErrInvalidParams = errors.New("interceptor: invalid params")

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("interceptor: closed")

// Provider is the wrapped wallet provider. *rpc.Client from go-ethereum
// satisfies it.
type Provider interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// PendingSnapshot is a read-only view of an outstanding request.
type PendingSnapshot struct {
	CorrelationID protocol.CorrelationID      `json:"correlationId"`
	Method        string                      `json:"method"`
	Payload       protocol.TransactionPayload `json:"payload"`
	State         protocol.State              `json:"state"`
	CreatedAt     time.Time                   `json:"createdAt"`
	AgeSeconds    float64                     `json:"ageSeconds"`
}

type pendingRequest struct {
	id        protocol.CorrelationID
	method    string
	payload   protocol.TransactionPayload
	state     protocol.State
	createdAt time.Time
	done      chan protocol.Decision // buffered(1); written once by resolve
}

// Interceptor gates submissions on the wrapped provider.
type Interceptor struct {
	provider Provider
	bus      *bus.Bus
	sub      *bus.Subscription
	logger   *slog.Logger

	decisionTimeout time.Duration
	newID           func() protocol.CorrelationID
	onIntercept     func(PendingSnapshot)
	now             func() time.Time

	mu      sync.Mutex
	pending map[protocol.CorrelationID]*pendingRequest
	closed  bool
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Interceptor) { i.logger = l }
}

// WithDecisionTimeout bounds how long a submission waits for its Decision.
// Zero waits forever. On expiry the submission is rejected.
func WithDecisionTimeout(d time.Duration) Option {
	return func(i *Interceptor) { i.decisionTimeout = d }
}

// WithIDGenerator overrides correlation id generation, for tests.
func WithIDGenerator(fn func() protocol.CorrelationID) Option {
	return func(i *Interceptor) { i.newID = fn }
}

// WithInterceptHook is called (synchronously) after a request is registered
// and before its AnalysisRequest is published.
func WithInterceptHook(fn func(PendingSnapshot)) Option {
	return func(i *Interceptor) { i.onIntercept = fn }
}

// New wraps provider. The Interceptor subscribes to Decisions immediately;
// call Run to start consuming them.
func New(provider Provider, b *bus.Bus, opts ...Option) *Interceptor {
	i := &Interceptor{
		provider: provider,
		bus:      b,
		logger:   slog.Default(),
		newID:    func() protocol.CorrelationID { return protocol.CorrelationID(idgen.Correlation()) },
		now:      time.Now,
		pending:  make(map[protocol.CorrelationID]*pendingRequest),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.sub = b.Subscribe("interceptor", protocol.KindDecision)
	return i
}

// Run delivers Decisions from the bus until ctx is done or the subscription
// is closed.
func (i *Interceptor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-i.sub.C():
			if !ok {
				return
			}
			if d, ok := msg.(protocol.Decision); ok {
				i.resolve(d)
			}
		}
	}
}

// Close stops consuming Decisions and rejects every outstanding request.
func (i *Interceptor) Close() {
	i.sub.Close()

	i.mu.Lock()
	i.closed = true
	drained := make([]*pendingRequest, 0, len(i.pending))
	for id, p := range i.pending {
		delete(i.pending, id)
		drained = append(drained, p)
	}
	i.mu.Unlock()

	const reason = "Guard shutting down"
	for _, p := range drained {
		metrics.PendingRequests.Dec()
		p.done <- protocol.Reject(p.id, protocol.SourceFailClosed, reason)
		i.bus.Publish(protocol.Cancellation{CorrelationID: p.id, Reason: reason, Source: protocol.SourceFailClosed})
	}
}

// Submit is the wrapped provider entry point. Non-submission methods are
// forwarded unchanged. Submissions are held until a Decision arrives: PROCEED
// forwards the original params, REJECT fails with *protocol.RejectedError
// without touching the provider.
func (i *Interceptor) Submit(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	ctx = logging.WithLogger(ctx, i.logger)
	if !IsSubmission(method) {
		metrics.PassthroughTotal.Inc()
		return i.forward(ctx, method, params)
	}

	payload, err := ExtractPayload(method, params)
	if err != nil {
		logging.L(ctx).Warn("rejecting unreadable submission", "method", method, "error", err)
		return nil, err
	}

	p, err := i.register(method, payload)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithCorrelationID(ctx, string(p.id))
	ctx, span := traces.StartSpan(ctx, "interceptor.Submit",
		traces.CorrelationID(string(p.id)), traces.Method(method),
		traces.Wallet(payload.From), traces.Contract(payload.To))
	defer span.End()

	metrics.InterceptedTotal.WithLabelValues(method).Inc()
	logging.L(ctx).Info("transaction intercepted", "method", method, "from", payload.From, "to", payload.To)

	if i.onIntercept != nil {
		i.onIntercept(p.snapshot(i.now()))
	}
	i.bus.Publish(protocol.AnalysisRequest{CorrelationID: p.id, Payload: payload, InterceptedAt: p.createdAt})

	d, err := i.await(ctx, p)
	if err != nil {
		traces.Fail(span, err)
		return nil, err
	}
	span.SetAttributes(traces.Outcome(string(d.Outcome)))

	if d.Outcome != protocol.OutcomeProceed {
		logging.L(ctx).Info("transaction rejected", "reason", d.Reason, "source", d.Source)
		err := &protocol.RejectedError{CorrelationID: p.id, Reason: d.Reason}
		traces.Fail(span, err)
		return nil, err
	}

	logging.L(ctx).Info("transaction approved, forwarding", "source", d.Source)
	result, err := i.forward(ctx, method, params)
	traces.Fail(span, err)
	return result, err
}

func (i *Interceptor) register(method string, payload protocol.TransactionPayload) (*pendingRequest, error) {
	p := &pendingRequest{
		id:        i.newID(),
		method:    method,
		payload:   payload,
		state:     protocol.StateAwaitingDecision,
		createdAt: i.now(),
		done:      make(chan protocol.Decision, 1),
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil, ErrClosed
	}
	if _, dup := i.pending[p.id]; dup {
		panic(fmt.Sprintf("interceptor: correlation id %s already outstanding", p.id))
	}
	i.pending[p.id] = p
	metrics.PendingRequests.Inc()
	return p, nil
}

// await parks the caller until its Decision, ctx cancellation, or the
// decision timeout.
func (i *Interceptor) await(ctx context.Context, p *pendingRequest) (protocol.Decision, error) {
	var expired <-chan time.Time
	if i.decisionTimeout > 0 {
		timer := time.NewTimer(i.decisionTimeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case d := <-p.done:
		return d, nil

	case <-ctx.Done():
		if i.abandon(protocol.Cancellation{
			CorrelationID: p.id,
			Reason:        "Caller stopped waiting: " + ctx.Err().Error(),
			Source:        protocol.SourceCancelled,
		}) {
			metrics.ResolutionsTotal.WithLabelValues("cancelled").Inc()
			logging.L(ctx).Info("caller gave up waiting for decision", "error", ctx.Err())
		}
		return protocol.Decision{}, ctx.Err()

	case <-expired:
		reason := fmt.Sprintf("No decision within %s", i.decisionTimeout)
		if !i.abandon(protocol.Cancellation{CorrelationID: p.id, Reason: reason, Source: protocol.SourceTimeout}) {
			// A Decision won the race; honour it.
			return <-p.done, nil
		}
		metrics.ResolutionsTotal.WithLabelValues("timeout").Inc()
		logging.L(ctx).Warn("no decision before deadline, rejecting", "timeout", i.decisionTimeout)
		return protocol.Decision{}, &protocol.RejectedError{
			CorrelationID: p.id,
			Reason:        reason,
			Err:           protocol.ErrDecisionTimeout,
		}
	}
}

// abandon removes a pending entry without resolving it and publishes c so
// the Bridge can withdraw any open warning. It reports false when the entry
// was already gone.
func (i *Interceptor) abandon(c protocol.Cancellation) bool {
	i.mu.Lock()
	if _, ok := i.pending[c.CorrelationID]; !ok {
		i.mu.Unlock()
		return false
	}
	delete(i.pending, c.CorrelationID)
	i.mu.Unlock()

	metrics.PendingRequests.Dec()
	i.bus.Publish(c)
	return true
}

// resolve settles the matching pending request exactly once. Decisions with
// no outstanding request are logged and dropped.
func (i *Interceptor) resolve(d protocol.Decision) bool {
	i.mu.Lock()
	p, ok := i.pending[d.CorrelationID]
	if ok {
		delete(i.pending, d.CorrelationID)
		if d.Outcome == protocol.OutcomeProceed {
			p.state = protocol.StateResolvedProceed
		} else {
			p.state = protocol.StateResolvedRejected
		}
	}
	i.mu.Unlock()

	if !ok {
		metrics.UnmatchedDecisionsTotal.Inc()
		i.logger.Debug("unmatched decision discarded",
			"correlation_id", d.CorrelationID, "outcome", d.Outcome)
		return false
	}

	metrics.PendingRequests.Dec()
	result := "reject"
	if d.Outcome == protocol.OutcomeProceed {
		result = "proceed"
	}
	metrics.ResolutionsTotal.WithLabelValues(result).Inc()
	metrics.DecisionLatency.Observe(i.now().Sub(p.createdAt).Seconds())

	p.done <- d
	return true
}

// forward calls the wrapped provider with the caller's params untouched.
func (i *Interceptor) forward(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	args, err := splitParams(params)
	if err != nil {
		return nil, &InvalidParamsError{Method: method, Err: err}
	}
	callArgs := make([]any, len(args))
	for n, a := range args {
		callArgs[n] = a
	}

	var result json.RawMessage
	if err := i.provider.CallContext(ctx, &result, method, callArgs...); err != nil {
		return nil, err
	}
	return result, nil
}

// Pending lists outstanding requests, oldest first.
func (i *Interceptor) Pending() []PendingSnapshot {
	now := i.now()
	i.mu.Lock()
	out := make([]PendingSnapshot, 0, len(i.pending))
	for _, p := range i.pending {
		out = append(out, p.snapshot(now))
	}
	i.mu.Unlock()

	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

func (p *pendingRequest) snapshot(now time.Time) PendingSnapshot {
	return PendingSnapshot{
		CorrelationID: p.id,
		Method:        p.method,
		Payload:       p.payload,
		State:         p.state,
		CreatedAt:     p.createdAt,
		AgeSeconds:    now.Sub(p.createdAt).Seconds(),
	}
}
