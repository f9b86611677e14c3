package risk

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTier(t *testing.T) {
	tests := []struct {
		in   string
		want Tier
	}{
		{"SAFE", TierSafe},
		{"low", TierLow},
		{" Suspicious ", TierSuspicious},
		{"HIGH_RISK", TierHighRisk},
		{"CAUTION", TierHighRisk},
		{"DANGEROUS", TierHighRisk},
		{"", TierHighRisk},
		{"whatever", TierHighRisk},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTier(tt.in))
		})
	}
}

func TestAutoProceed(t *testing.T) {
	assert.True(t, AutoProceed(TierSafe))
	assert.True(t, AutoProceed(TierLow))
	assert.False(t, AutoProceed(TierSuspicious))
	assert.False(t, AutoProceed(TierHighRisk))
	assert.False(t, AutoProceed(Tier("")))
	assert.False(t, AutoProceed(ParseTier("garbage")))
}

func TestParseTxType(t *testing.T) {
	for _, s := range []string{"approve", "SWAP", " send "} {
		_, ok := ParseTxType(s)
		assert.True(t, ok, s)
	}
	_, ok := ParseTxType("mint")
	assert.False(t, ok)
}

func TestUnreachable(t *testing.T) {
	a := Unreachable(errors.New("dial tcp: connection refused"))
	assert.Equal(t, TierHighRisk, a.Risk)
	assert.Equal(t, 99, a.Score)
	assert.Equal(t, []string{"Backend unreachable", "dial tcp: connection refused"}, a.Reasons)
	assert.False(t, AutoProceed(a.Risk))
	assert.True(t, a.IsUnreachable())

	assert.Equal(t, []string{"Backend unreachable"}, Unreachable(nil).Reasons)
	assert.False(t, Assessment{Risk: TierHighRisk, Score: 95, Reasons: []string{"x"}}.IsUnreachable())
}

func TestAssessmentClone(t *testing.T) {
	orig := Assessment{
		Risk:            TierSuspicious,
		Score:           60,
		Reasons:         []string{"new contract"},
		GraphSignals:    &GraphSignals{DistanceToBlacklist: 2},
		ForecastSignals: &ForecastSignals{DrainProbability: 0.4, AttackWindowBlocks: 12},
	}
	cp := orig.Clone()
	cp.Reasons[0] = "changed"
	cp.GraphSignals.DistanceToBlacklist = 9
	cp.ForecastSignals.DrainProbability = 1

	assert.Equal(t, "new contract", orig.Reasons[0])
	assert.Equal(t, 2, orig.GraphSignals.DistanceToBlacklist)
	assert.Equal(t, 0.4, orig.ForecastSignals.DrainProbability)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultPageSize, ClampLimit(0))
	assert.Equal(t, DefaultPageSize, ClampLimit(-3))
	assert.Equal(t, 10, ClampLimit(10))
	assert.Equal(t, MaxPageSize, ClampLimit(MaxPageSize+1))
}
