// Package protocol defines the messages exchanged between the Interceptor and
// the Bridge.
//
// The two sides never hold references to each other. They communicate only by
// publishing AnalysisRequest and Decision messages on a broadcast bus, and
// correlate them by CorrelationID, never by arrival order.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CorrelationID binds an analysis request to its eventual decision.
type CorrelationID string

// Kind identifies a message type on the bus.
type Kind string

const (
	KindAnalysisRequest Kind = "analysis_request"
	KindDecision        Kind = "decision"
	KindCancellation    Kind = "cancellation"
)

// Message is anything that can travel on the bus.
type Message interface {
	Kind() Kind
	Correlation() CorrelationID
}

// Outcome is the verdict carried by a Decision.
type Outcome string

const (
	OutcomeProceed Outcome = "PROCEED"
	OutcomeReject  Outcome = "REJECT"
)

// ParseOutcome accepts the canonical upper-case names and their lower-case forms.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(OutcomeProceed):
		return OutcomeProceed, nil
	case string(OutcomeReject):
		return OutcomeReject, nil
	}
	return "", fmt.Errorf("protocol: unknown outcome %q", s)
}

// Source records who produced a Decision.
type Source string

const (
	SourceAuto       Source = "auto"        // auto-proceed policy
	SourceUser       Source = "user"        // explicit user choice in the warning UI
	SourceFailClosed Source = "fail_closed" // UI unavailable or dismissed
	SourceTimeout    Source = "timeout"     // no decision within the deadline
	SourceCancelled  Source = "cancelled"   // the caller stopped waiting
)

// State is the Interceptor's view of a request lifecycle.
type State string

const (
	StateIntercepted      State = "INTERCEPTED"
	StateAwaitingDecision State = "AWAITING_DECISION"
	StateResolvedProceed  State = "RESOLVED_PROCEED"
	StateResolvedRejected State = "RESOLVED_REJECTED"
)

// Resolved reports whether s is terminal.
func (s State) Resolved() bool {
	return s == StateResolvedProceed || s == StateResolvedRejected
}

// TransactionPayload is the data extracted from an intercepted submission.
// Extra holds every other field (value, gas, nonce, ...) exactly as received.
type TransactionPayload struct {
	From  string                     `json:"from"`
	To    string                     `json:"to"`
	Data  string                     `json:"data"`
	Extra map[string]json.RawMessage `json:"extra,omitempty"`
}

// AnalysisRequest asks the Bridge to assess a transaction. InterceptedAt
// anchors every downstream deadline.
type AnalysisRequest struct {
	CorrelationID CorrelationID      `json:"correlationId"`
	Payload       TransactionPayload `json:"payload"`
	InterceptedAt time.Time          `json:"interceptedAt,omitzero"`
}

func (AnalysisRequest) Kind() Kind                    { return KindAnalysisRequest }
func (r AnalysisRequest) Correlation() CorrelationID { return r.CorrelationID }

// Decision resolves exactly one AnalysisRequest.
type Decision struct {
	CorrelationID CorrelationID `json:"correlationId"`
	Outcome       Outcome       `json:"outcome"`
	Reason        string        `json:"reason,omitempty"`
	Source        Source        `json:"source,omitempty"`
}

func (Decision) Kind() Kind                    { return KindDecision }
func (d Decision) Correlation() CorrelationID { return d.CorrelationID }

// Cancellation withdraws an AnalysisRequest whose caller is no longer
// waiting. The transaction was not forwarded; any Decision still in flight
// for it must not be recorded as PROCEED.
type Cancellation struct {
	CorrelationID CorrelationID `json:"correlationId"`
	Reason        string        `json:"reason,omitempty"`
	Source        Source        `json:"source"`
}

func (Cancellation) Kind() Kind                    { return KindCancellation }
func (c Cancellation) Correlation() CorrelationID { return c.CorrelationID }

// Proceed builds a PROCEED decision.
func Proceed(id CorrelationID, source Source, reason string) Decision {
	return Decision{CorrelationID: id, Outcome: OutcomeProceed, Reason: reason, Source: source}
}

// Reject builds a REJECT decision.
func Reject(id CorrelationID, source Source, reason string) Decision {
	return Decision{CorrelationID: id, Outcome: OutcomeReject, Reason: reason, Source: source}
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	ErrTransactionRejected = errors.New("transaction rejected")
	ErrDecisionTimeout     = errors.New("decision timed out")
)

// RejectedError is returned to the original caller when a transaction is
// rejected, whether by the user, by policy, or by a fail-closed timeout.
type RejectedError struct {
	CorrelationID CorrelationID
	Reason        string
	Err           error // optional cause, e.g. ErrDecisionTimeout
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return ErrTransactionRejected.Error()
	}
	return fmt.Sprintf("%s: %s", ErrTransactionRejected.Error(), e.Reason)
}

// Is makes errors.Is(err, ErrTransactionRejected) hold for every RejectedError.
func (e *RejectedError) Is(target error) bool { return target == ErrTransactionRejected }

func (e *RejectedError) Unwrap() error { return e.Err }
