package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutcome(t *testing.T) {
	tests := []struct {
		in      string
		want    Outcome
		wantErr bool
	}{
		{"PROCEED", OutcomeProceed, false},
		{"proceed", OutcomeProceed, false},
		{" reject ", OutcomeReject, false},
		{"approve", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOutcome(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRejectedError(t *testing.T) {
	err := &RejectedError{CorrelationID: "tx_1", Reason: "User rejected"}
	assert.True(t, errors.Is(err, ErrTransactionRejected))
	assert.False(t, errors.Is(err, ErrDecisionTimeout))
	assert.Equal(t, "transaction rejected: User rejected", err.Error())

	timedOut := &RejectedError{CorrelationID: "tx_2", Reason: "no decision", Err: ErrDecisionTimeout}
	assert.True(t, errors.Is(timedOut, ErrTransactionRejected))
	assert.True(t, errors.Is(timedOut, ErrDecisionTimeout))

	var re *RejectedError
	require.True(t, errors.As(error(timedOut), &re))
	assert.Equal(t, CorrelationID("tx_2"), re.CorrelationID)
}

func TestMessagesCarryCorrelation(t *testing.T) {
	req := AnalysisRequest{CorrelationID: "tx_a"}
	dec := Reject("tx_b", SourceUser, "nope")

	can := Cancellation{CorrelationID: "tx_c", Source: SourceCancelled}

	var msgs []Message = []Message{req, dec, can}
	assert.Equal(t, KindAnalysisRequest, msgs[0].Kind())
	assert.Equal(t, CorrelationID("tx_a"), msgs[0].Correlation())
	assert.Equal(t, KindDecision, msgs[1].Kind())
	assert.Equal(t, CorrelationID("tx_b"), msgs[1].Correlation())
	assert.Equal(t, KindCancellation, msgs[2].Kind())
	assert.Equal(t, CorrelationID("tx_c"), msgs[2].Correlation())
	assert.Equal(t, OutcomeReject, dec.Outcome)
}

func TestStateResolved(t *testing.T) {
	assert.False(t, StateIntercepted.Resolved())
	assert.False(t, StateAwaitingDecision.Resolved())
	assert.True(t, StateResolvedProceed.Resolved())
	assert.True(t, StateResolvedRejected.Resolved())
}
