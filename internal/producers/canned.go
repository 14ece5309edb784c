package producers

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"athena/internal/domain/agent"
	"athena/internal/domain/task"
	"athena/internal/engine"
)

// CannedProducer emits templated, deterministic opinions per agent
// type. It stands in for the real analysis backends (indicator math,
// filings parsers, news scrapers) which plug in behind the same
// interface.
type CannedProducer struct {
	agentType agent.Type
}

// NewCannedProducer creates a canned producer for one agent type
func NewCannedProducer(t agent.Type) *CannedProducer {
	return &CannedProducer{agentType: t}
}

var stances = []string{task.RecommendationBuy, task.RecommendationHold, task.RecommendationSell}

var typePhrases = map[agent.Type]string{
	agent.TypeTechnical:   "moving averages and momentum indicators",
	agent.TypeFundamental: "earnings quality and balance sheet strength",
	agent.TypeSentiment:   "news flow and social sentiment",
	agent.TypeRisk:        "drawdown exposure and volatility regime",
	agent.TypeMarket:      "sector rotation and breadth",
	agent.TypeDecision:    "the weighted committee view",
	agent.TypeMonitoring:  "data feed integrity and anomaly counters",
}

// Produce derives a stance and confidence from a stable hash of the
// topic and agent type. In later debate rounds the producer drifts
// toward the prior round's majority stance, so honest debates converge.
func (p *CannedProducer) Produce(ctx context.Context, req engine.ProduceRequest) (*task.Opinion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := fnv.New32a()
	h.Write([]byte(req.Topic))
	h.Write([]byte(p.agentType))
	seed := h.Sum32()

	stance := stances[seed%3]
	confidence := 0.55 + float64(seed%40)/100.0

	if req.Round > 1 && len(req.Prior) > 0 {
		if majority, ok := majorityStance(req.Prior); ok {
			stance = majority
			confidence += 0.05 * float64(req.Round-1)
			if confidence > 0.95 {
				confidence = 0.95
			}
		}
	}

	target := priceTarget(seed, stance)
	phrase := typePhrases[p.agentType]

	content := fmt.Sprintf("%s on %s: %s indicate a %s stance with price target %s",
		p.agentType, req.Topic, phrase, stance, target.StringFixed(2))
	reasoning := fmt.Sprintf("Assessment of %s driven by %s; round %d of structured review.",
		req.Topic, phrase, req.Round)

	return &task.Opinion{
		Content:    content,
		Reasoning:  reasoning,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// majorityStance returns the most common stance found in prior opinions
func majorityStance(prior []task.Opinion) (string, bool) {
	counts := make(map[string]int, 3)
	for _, op := range prior {
		content := strings.ToLower(op.Content)
		for _, s := range stances {
			if strings.Contains(content, s) {
				counts[s]++
				break
			}
		}
	}

	best, bestCount := "", 0
	for _, s := range stances {
		if counts[s] > bestCount {
			best, bestCount = s, counts[s]
		}
	}
	return best, bestCount > 0
}

// priceTarget derives a deterministic two-decimal target from the seed,
// nudged by stance direction.
func priceTarget(seed uint32, stance string) decimal.Decimal {
	base := decimal.NewFromInt(int64(50 + seed%200))
	cents := decimal.New(int64(seed%100), -2)
	target := base.Add(cents)

	switch stance {
	case task.RecommendationBuy:
		return target.Mul(decimal.NewFromFloat(1.10)).Round(2)
	case task.RecommendationSell:
		return target.Mul(decimal.NewFromFloat(0.90)).Round(2)
	default:
		return target.Round(2)
	}
}
