package engine

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"athena/internal/domain/agent"
	"athena/internal/domain/task"
	"athena/pkg/errors"
)

func op(t agent.Type, content string, confidence float64) task.Opinion {
	return task.Opinion{
		AgentID:    uuid.New(),
		AgentType:  t,
		Content:    content,
		Confidence: confidence,
		Round:      1,
	}
}

func TestSynthesize_EmptyOpinions(t *testing.T) {
	s := NewSynthesizer(DefaultSynthesizerConfig())
	_, err := s.Synthesize(nil, nil)
	assert.ErrorIs(t, err, errors.ErrAllParticipantsFailed)
}

func TestSynthesize_MajorityRecommendation(t *testing.T) {
	s := NewSynthesizer(DefaultSynthesizerConfig())

	result, err := s.Synthesize([]task.Opinion{
		op(agent.TypeTechnical, "indicators say buy", 0.7),
		op(agent.TypeFundamental, "fundamentals say buy", 0.7),
		op(agent.TypeRisk, "too risky, sell", 0.7),
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, task.RecommendationBuy, result.Recommendation)
	assert.InDelta(t, 0.7, result.Confidence, 1e-9)
	assert.Equal(t, 3, result.Participants)
}

func TestSynthesize_NoStanceDefaultsToHold(t *testing.T) {
	s := NewSynthesizer(DefaultSynthesizerConfig())

	result, err := s.Synthesize([]task.Opinion{
		op(agent.TypeTechnical, "sideways consolidation expected", 0.5),
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, task.RecommendationHold, result.Recommendation)
}

func TestSynthesize_ConsensusLevelBands(t *testing.T) {
	s := NewSynthesizer(DefaultSynthesizerConfig())

	identical, err := s.Synthesize([]task.Opinion{
		op(agent.TypeTechnical, "hold steady here", 0.8),
		op(agent.TypeFundamental, "hold steady here", 0.8),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, task.ConsensusHigh, identical.Consensus)
	assert.InDelta(t, 1.0, identical.ConsensusScore, 1e-9)

	disjoint, err := s.Synthesize([]task.Opinion{
		op(agent.TypeTechnical, "buy everything now", 0.8),
		op(agent.TypeFundamental, "liquidate the position", 0.8),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, task.ConsensusLow, disjoint.Consensus)
}

func TestSynthesize_KeyInsights(t *testing.T) {
	s := NewSynthesizer(DefaultSynthesizerConfig())

	recurring := "margin compression visible across segments"
	result, err := s.Synthesize([]task.Opinion{
		op(agent.TypeTechnical, "decisive breakout above resistance, buy", 0.95),
		op(agent.TypeFundamental, recurring, 0.5),
		op(agent.TypeSentiment, recurring, 0.5),
	}, nil)
	require.NoError(t, err)

	require.NotEmpty(t, result.KeyInsights)
	assert.Contains(t, result.KeyInsights[0], "high-confidence (technical, 0.95)")

	found := false
	for _, insight := range result.KeyInsights {
		if strings.HasPrefix(insight, "recurring: ") {
			found = true
		}
	}
	assert.True(t, found, "recurring prefix insight expected")
}

func TestSynthesize_InsightLimitCapsOutput(t *testing.T) {
	cfg := DefaultSynthesizerConfig()
	cfg.InsightLimit = 3
	s := NewSynthesizer(cfg)

	opinions := make([]task.Opinion, 0, 8)
	for i := 0; i < 8; i++ {
		opinions = append(opinions, op(agent.TypeTechnical, fmt.Sprintf("unique signal %d, buy", i), 0.9))
	}

	result, err := s.Synthesize(opinions, nil)
	require.NoError(t, err)
	assert.Len(t, result.KeyInsights, 3)
}

func TestSynthesize_SynthesisGroupsByTypeWithClosing(t *testing.T) {
	s := NewSynthesizer(DefaultSynthesizerConfig())

	result, err := s.Synthesize([]task.Opinion{
		op(agent.TypeTechnical, "momentum positive, buy", 0.7),
		op(agent.TypeTechnical, "volume confirms, buy", 0.7),
		op(agent.TypeRisk, "drawdown risk acceptable", 0.6),
	}, []PartialFailure{{AgentID: uuid.New(), AgentType: agent.TypeSentiment, Err: errors.New("down")}})
	require.NoError(t, err)

	assert.Contains(t, result.Synthesis, "TECHNICAL view (2 opinions):")
	assert.Contains(t, result.Synthesis, "RISK view (1 opinions):")
	assert.Contains(t, result.Synthesis, "Overall recommendation: buy based on 3 opinions (1 participants failed to respond).")

	// Technical precedes risk in the canonical type order.
	assert.Less(t,
		strings.Index(result.Synthesis, "TECHNICAL view"),
		strings.Index(result.Synthesis, "RISK view"))
}

func TestSynthesize_AveragesPriceTargets(t *testing.T) {
	s := NewSynthesizer(DefaultSynthesizerConfig())

	result, err := s.Synthesize([]task.Opinion{
		op(agent.TypeTechnical, "buy with price target 100", 0.7),
		op(agent.TypeFundamental, "buy with price target 110.50", 0.7),
		op(agent.TypeSentiment, "no target here", 0.7),
	}, nil)
	require.NoError(t, err)

	require.True(t, result.PriceTarget.Valid)
	assert.Equal(t, "105.25", result.PriceTarget.Decimal.StringFixed(2))
}

func TestSynthesize_NoPriceTargets(t *testing.T) {
	s := NewSynthesizer(DefaultSynthesizerConfig())

	result, err := s.Synthesize([]task.Opinion{
		op(agent.TypeTechnical, "hold and wait", 0.7),
	}, nil)
	require.NoError(t, err)
	assert.False(t, result.PriceTarget.Valid)
}

func TestSynthesize_ParticipantsCountsDistinctAgents(t *testing.T) {
	s := NewSynthesizer(DefaultSynthesizerConfig())

	shared := op(agent.TypeTechnical, "buy round one", 0.7)
	second := shared
	second.Content = "buy round two"
	second.Round = 2

	result, err := s.Synthesize([]task.Opinion{shared, second}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Participants)
}
