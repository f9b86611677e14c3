// Package risk holds the assessment vocabulary shared by the Bridge, the
// scoring client and the audit log.
//
// Scores are produced by a remote service. This package only defines the
// tiers, the auto-proceed policy, the fail-closed substitution used when the
// service cannot be reached, and the Verdict audit trail.
package risk

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mbd888/walletguard/internal/protocol"
)

// Tier is the coarse risk label attached to an assessment.
type Tier string

const (
	TierSafe       Tier = "SAFE"
	TierLow        Tier = "LOW"
	TierSuspicious Tier = "SUSPICIOUS"
	TierHighRisk   Tier = "HIGH_RISK"
)

// ParseTier maps a label to a Tier. Anything it does not recognise,
// including scorer labels like CAUTION or DANGEROUS, is HIGH_RISK.
func ParseTier(s string) Tier {
	switch Tier(strings.ToUpper(strings.TrimSpace(s))) {
	case TierSafe:
		return TierSafe
	case TierLow:
		return TierLow
	case TierSuspicious:
		return TierSuspicious
	default:
		return TierHighRisk
	}
}

// AutoProceed reports whether a transaction at tier t may proceed without
// asking the user.
func AutoProceed(t Tier) bool {
	return t == TierSafe || t == TierLow
}

// TxType is the heuristic transaction class sent to the scorer.
type TxType string

const (
	TxApprove TxType = "approve"
	TxSwap    TxType = "swap"
	TxSend    TxType = "send"
)

// ParseTxType validates a transaction type string.
func ParseTxType(s string) (TxType, bool) {
	switch TxType(strings.ToLower(strings.TrimSpace(s))) {
	case TxApprove:
		return TxApprove, true
	case TxSwap:
		return TxSwap, true
	case TxSend:
		return TxSend, true
	}
	return "", false
}

// GraphSignals describe the counterparty's position in the transaction graph.
type GraphSignals struct {
	DistanceToBlacklist    int  `json:"distanceToBlacklist"`
	ConnectedToScamCluster bool `json:"connectedToScamCluster"`
}

// ForecastSignals are the scorer's forward-looking estimates.
type ForecastSignals struct {
	DrainProbability   float64 `json:"drainProbability"`
	AttackWindowBlocks int     `json:"attackWindowBlocks"`
}

// Assessment is the outcome of scoring one transaction. Treat it as
// immutable; use Clone before handing it to another goroutine that may
// keep it.
type Assessment struct {
	Risk            Tier             `json:"risk"`
	Score           int              `json:"score"`
	Reasons         []string         `json:"reasons"`
	GraphSignals    *GraphSignals    `json:"graphSignals,omitempty"`
	ForecastSignals *ForecastSignals `json:"forecastSignals,omitempty"`
}

// Clone returns a deep copy.
func (a Assessment) Clone() Assessment {
	out := a
	if a.Reasons != nil {
		out.Reasons = append([]string(nil), a.Reasons...)
	}
	if a.GraphSignals != nil {
		g := *a.GraphSignals
		out.GraphSignals = &g
	}
	if a.ForecastSignals != nil {
		f := *a.ForecastSignals
		out.ForecastSignals = &f
	}
	return out
}

const (
	// UnreachableScore is the score given to a substituted assessment.
	UnreachableScore = 99
	// UnreachableReason marks an assessment that was never scored.
	UnreachableReason = "Backend unreachable"
)

// Unreachable returns the assessment used when the scorer could not be
// consulted. A scoring failure is never treated as safety.
func Unreachable(err error) Assessment {
	reasons := []string{UnreachableReason}
	if err != nil {
		reasons = append(reasons, err.Error())
	}
	return Assessment{
		Risk:    TierHighRisk,
		Score:   UnreachableScore,
		Reasons: reasons,
	}
}

// IsUnreachable reports whether a was produced by Unreachable.
func (a Assessment) IsUnreachable() bool {
	return len(a.Reasons) > 0 && a.Reasons[0] == UnreachableReason && a.Score == UnreachableScore
}

// Verdict is the audit record of one gated transaction.
type Verdict struct {
	ID         string           `json:"id"` // correlation id
	Wallet     string           `json:"wallet"`
	Contract   string           `json:"contract"`
	TxType     TxType           `json:"txType"`
	Assessment Assessment       `json:"assessment"`
	Outcome    protocol.Outcome `json:"outcome"`
	Reason     string           `json:"reason,omitempty"`
	Source     protocol.Source  `json:"source"`
	CreatedAt  time.Time        `json:"createdAt"`
	DecidedAt  time.Time        `json:"decidedAt"`
}

// Clone returns a deep copy.
func (v *Verdict) Clone() *Verdict {
	out := *v
	out.Assessment = v.Assessment.Clone()
	return &out
}

var (
	ErrVerdictNotFound  = errors.New("risk: verdict not found")
	ErrDuplicateVerdict = errors.New("risk: verdict already recorded")
	ErrInvalidVerdict   = errors.New("risk: verdict rejected by store")
	ErrInvalidCursor    = errors.New("risk: invalid cursor")
)

// DefaultPageSize and MaxPageSize bound List.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Page is one slice of the verdict log, newest first.
type Page struct {
	Verdicts   []*Verdict `json:"verdicts"`
	NextCursor string     `json:"nextCursor,omitempty"`
	HasMore    bool       `json:"hasMore"`
}

// Store persists verdicts for the audit trail.
type Store interface {
	Record(ctx context.Context, v *Verdict) error
	Get(ctx context.Context, id string) (*Verdict, error)
	List(ctx context.Context, cursor string, limit int) (*Page, error)
}

// ClampLimit normalises a requested page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
