// Package warning holds risky transactions open until a human decides.
//
// Queue is the Decision UI the Bridge talks to. Present blocks while the
// warning is shown to operators (over HTTP, WebSocket, the CLI or MCP) and
// returns the first answer given through Resolve.
package warning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/walletguard/internal/bridge"
	"github.com/mbd888/walletguard/internal/metrics"
	"github.com/mbd888/walletguard/internal/protocol"
	"github.com/mbd888/walletguard/internal/realtime"
	"github.com/mbd888/walletguard/internal/risk"
)

var (
	ErrWarningNotFound  = errors.New("warning: not found")
	ErrAlreadyResolved  = errors.New("warning: already resolved")
	ErrInvalidOutcome   = errors.New("warning: outcome must be PROCEED or REJECT")
	ErrDuplicateWarning = errors.New("warning: already open")
)

// Status of a warning.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
	StatusExpired  Status = "expired"
)

// Warning is what operators see and answer.
type Warning struct {
	ID         protocol.CorrelationID      `json:"id"`
	Wallet     string                      `json:"wallet"`
	Contract   string                      `json:"contract"`
	TxType     risk.TxType                 `json:"txType"`
	Assessment risk.Assessment             `json:"assessment"`
	Payload    protocol.TransactionPayload `json:"payload"`
	Status     Status                      `json:"status"`
	Outcome    protocol.Outcome            `json:"outcome,omitempty"`
	Reason     string                      `json:"reason,omitempty"`
	OpenedAt   time.Time                   `json:"openedAt"`
	ResolvedAt *time.Time                  `json:"resolvedAt,omitempty"`
}

func (w Warning) clone() Warning {
	out := w
	out.Assessment = w.Assessment.Clone()
	if w.ResolvedAt != nil {
		t := *w.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}

// Broadcaster fans warning events out to live operators.
type Broadcaster interface {
	Publish(eventType realtime.EventType, data any, wallets ...string)
}

type entry struct {
	warning Warning
	answer  chan bridge.Choice // buffered(1)
}

// recentCap bounds how many closed warnings are remembered for
// ErrAlreadyResolved and Get.
const recentCap = 512

// Queue implements bridge.DecisionUI.
type Queue struct {
	mu          sync.Mutex
	open        map[protocol.CorrelationID]*entry
	recent      map[protocol.CorrelationID]Warning
	recentOrder []protocol.CorrelationID

	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time
}

// NewQueue creates an empty queue. broadcaster may be nil.
func NewQueue(broadcaster Broadcaster, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		open:        make(map[protocol.CorrelationID]*entry),
		recent:      make(map[protocol.CorrelationID]Warning),
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
	}
}

var _ bridge.DecisionUI = (*Queue)(nil)

// Present opens a warning and waits for Resolve or ctx.
func (q *Queue) Present(ctx context.Context, p bridge.Prompt) (bridge.Choice, error) {
	e := &entry{
		warning: Warning{
			ID:         p.CorrelationID,
			Wallet:     p.Payload.From,
			Contract:   p.Payload.To,
			TxType:     p.TxType,
			Assessment: p.Assessment.Clone(),
			Payload:    p.Payload,
			Status:     StatusOpen,
			OpenedAt:   q.now(),
		},
		answer: make(chan bridge.Choice, 1),
	}

	q.mu.Lock()
	if _, dup := q.open[p.CorrelationID]; dup {
		q.mu.Unlock()
		return bridge.Choice{}, ErrDuplicateWarning
	}
	q.open[p.CorrelationID] = e
	opened := e.warning.clone()
	q.mu.Unlock()

	metrics.OpenWarnings.Inc()
	q.logger.Info("warning opened",
		"correlation_id", p.CorrelationID,
		"risk", p.Assessment.Risk,
		"score", p.Assessment.Score)
	q.broadcast(realtime.EventWarningOpened, opened)

	select {
	case choice := <-e.answer:
		return choice, nil
	case <-ctx.Done():
	}

	q.mu.Lock()
	if _, still := q.open[p.CorrelationID]; !still {
		// Resolve won the race; its answer is already buffered.
		q.mu.Unlock()
		return <-e.answer, nil
	}
	delete(q.open, p.CorrelationID)
	now := q.now()
	e.warning.Status = StatusExpired
	e.warning.ResolvedAt = &now
	expired := e.warning.clone()
	q.remember(expired)
	q.mu.Unlock()

	metrics.OpenWarnings.Dec()
	q.logger.Info("warning expired", "correlation_id", p.CorrelationID, "error", ctx.Err())
	q.broadcast(realtime.EventWarningResolved, expired)
	return bridge.Choice{}, ctx.Err()
}

// Resolve answers an open warning. outcome is PROCEED or REJECT in any case.
func (q *Queue) Resolve(id string, outcome string, reason string) (*Warning, error) {
	o, err := protocol.ParseOutcome(outcome)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}
	if reason == "" {
		if o == protocol.OutcomeReject {
			reason = bridge.DefaultRejectReason
		} else {
			reason = bridge.DefaultProceedReason
		}
	}

	cid := protocol.CorrelationID(id)
	q.mu.Lock()
	e, ok := q.open[cid]
	if !ok {
		_, seen := q.recent[cid]
		q.mu.Unlock()
		if seen {
			return nil, ErrAlreadyResolved
		}
		return nil, ErrWarningNotFound
	}
	delete(q.open, cid)
	now := q.now()
	e.warning.Status = StatusResolved
	e.warning.Outcome = o
	e.warning.Reason = reason
	e.warning.ResolvedAt = &now
	resolved := e.warning.clone()
	q.remember(resolved)
	q.mu.Unlock()

	e.answer <- bridge.Choice{Outcome: o, Reason: reason}

	metrics.OpenWarnings.Dec()
	q.logger.Info("warning resolved", "correlation_id", id, "outcome", o, "reason", reason)
	q.broadcast(realtime.EventWarningResolved, resolved)
	return &resolved, nil
}

// HandleDecision adapts Resolve to realtime.DecisionHandler.
func (q *Queue) HandleDecision(_ context.Context, id, outcome, reason string) error {
	_, err := q.Resolve(id, outcome, reason)
	return err
}

// List returns open warnings, oldest first.
func (q *Queue) List() []Warning {
	q.mu.Lock()
	out := make([]Warning, 0, len(q.open))
	for _, e := range q.open {
		out = append(out, e.warning.clone())
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// Get returns an open or recently closed warning.
func (q *Queue) Get(id string) (*Warning, error) {
	cid := protocol.CorrelationID(id)
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.open[cid]; ok {
		w := e.warning.clone()
		return &w, nil
	}
	if w, ok := q.recent[cid]; ok {
		w = w.clone()
		return &w, nil
	}
	return nil, ErrWarningNotFound
}

// Caller must hold q.mu.
func (q *Queue) remember(w Warning) {
	if _, ok := q.recent[w.ID]; !ok {
		q.recentOrder = append(q.recentOrder, w.ID)
	}
	q.recent[w.ID] = w
	for len(q.recentOrder) > recentCap {
		delete(q.recent, q.recentOrder[0])
		q.recentOrder = q.recentOrder[1:]
	}
}

func (q *Queue) broadcast(t realtime.EventType, w Warning) {
	if q.broadcaster == nil {
		return
	}
	q.broadcaster.Publish(t, w, w.Wallet, w.Contract)
}
