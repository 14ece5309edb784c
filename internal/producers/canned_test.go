package producers

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"athena/internal/domain/agent"
	"athena/internal/domain/task"
	"athena/internal/engine"
)

func TestCannedProducer_Deterministic(t *testing.T) {
	p := NewCannedProducer(agent.TypeTechnical)
	req := engine.ProduceRequest{Topic: "AAPL outlook", Round: 1}

	first, err := p.Produce(context.Background(), req)
	require.NoError(t, err)
	second, err := p.Produce(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, first.Confidence, second.Confidence)
}

func TestCannedProducer_ConfidenceBounds(t *testing.T) {
	topics := []string{"AAPL", "MSFT", "NVDA", "TSLA", "semiconductor sector", "rates outlook"}

	for _, typ := range agent.AllTypes {
		p := NewCannedProducer(typ)
		for _, topic := range topics {
			got, err := p.Produce(context.Background(), engine.ProduceRequest{Topic: topic, Round: 1})
			require.NoError(t, err)
			assert.GreaterOrEqual(t, got.Confidence, 0.55)
			assert.LessOrEqual(t, got.Confidence, 0.95)
		}
	}
}

func TestCannedProducer_ContentCarriesStanceAndTarget(t *testing.T) {
	p := NewCannedProducer(agent.TypeFundamental)

	got, err := p.Produce(context.Background(), engine.ProduceRequest{Topic: "MSFT earnings", Round: 1})
	require.NoError(t, err)

	content := strings.ToLower(got.Content)
	hasStance := strings.Contains(content, task.RecommendationBuy) ||
		strings.Contains(content, task.RecommendationHold) ||
		strings.Contains(content, task.RecommendationSell)
	assert.True(t, hasStance)
	assert.Contains(t, content, "price target ")
	assert.NotEmpty(t, got.Reasoning)
}

func TestCannedProducer_DriftsTowardMajorityInLaterRounds(t *testing.T) {
	p := NewCannedProducer(agent.TypeSentiment)
	prior := []task.Opinion{
		{Content: "strong sell signal from positioning"},
		{Content: "sell into strength"},
		{Content: "maybe buy later"},
	}

	got, err := p.Produce(context.Background(), engine.ProduceRequest{
		Topic: "GME squeeze", Prior: prior, Round: 2,
	})
	require.NoError(t, err)

	assert.Contains(t, strings.ToLower(got.Content), "sell stance")
}

func TestCannedProducer_RespectsContextCancellation(t *testing.T) {
	p := NewCannedProducer(agent.TypeRisk)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Produce(ctx, engine.ProduceRequest{Topic: "t", Round: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMajorityStance(t *testing.T) {
	majority, ok := majorityStance([]task.Opinion{
		{Content: "buy the dip"},
		{Content: "buy on momentum"},
		{Content: "hold and reassess"},
	})
	require.True(t, ok)
	assert.Equal(t, task.RecommendationBuy, majority)

	_, ok = majorityStance([]task.Opinion{{Content: "no stance at all"}})
	assert.False(t, ok)
}

func TestDefaultRegistryCoversAllTypes(t *testing.T) {
	r := NewDefaultRegistry()
	for _, typ := range agent.AllTypes {
		_, ok := r.Producer(typ)
		assert.True(t, ok, "missing producer for %s", typ)
	}

	_, ok := r.Producer(agent.Type("astrology"))
	assert.False(t, ok)
}
