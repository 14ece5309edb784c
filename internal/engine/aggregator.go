package engine

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"athena/internal/domain/agent"
	"athena/internal/domain/task"
	"athena/pkg/errors"
	"athena/pkg/logger"
)

// SynthesizerConfig carries the aggregation heuristics. These are
// deliberate defaults, not tuned business rules; deployments may
// adjust them through EngineConfig.
type SynthesizerConfig struct {
	HighThreshold          float64
	MediumThreshold        float64
	InsightConfidenceFloor float64
	RecurringPrefixLen     int
	InsightLimit           int
}

// DefaultSynthesizerConfig returns the standard thresholds
func DefaultSynthesizerConfig() SynthesizerConfig {
	return SynthesizerConfig{
		HighThreshold:          0.8,
		MediumThreshold:        0.6,
		InsightConfidenceFloor: 0.8,
		RecurringPrefixLen:     40,
		InsightLimit:           10,
	}
}

// Synthesizer merges per-agent opinions into one Result
type Synthesizer struct {
	cfg SynthesizerConfig
	log *logger.Logger
}

// NewSynthesizer validates the config and builds a synthesizer
func NewSynthesizer(cfg SynthesizerConfig) *Synthesizer {
	def := DefaultSynthesizerConfig()
	if cfg.HighThreshold <= 0 {
		cfg.HighThreshold = def.HighThreshold
	}
	if cfg.MediumThreshold <= 0 {
		cfg.MediumThreshold = def.MediumThreshold
	}
	if cfg.InsightConfidenceFloor <= 0 {
		cfg.InsightConfidenceFloor = def.InsightConfidenceFloor
	}
	if cfg.RecurringPrefixLen <= 0 {
		cfg.RecurringPrefixLen = def.RecurringPrefixLen
	}
	if cfg.InsightLimit <= 0 {
		cfg.InsightLimit = def.InsightLimit
	}
	return &Synthesizer{cfg: cfg, log: logger.Get().With("component", "synthesizer")}
}

var priceTargetRe = regexp.MustCompile(`price target (\d+(?:\.\d+)?)`)

// Synthesize builds the final Result from all collected opinions.
// Partial failures only shape the closing sentence; the Result is
// produced even from partial participation.
func (s *Synthesizer) Synthesize(opinions []task.Opinion, failures []PartialFailure) (*task.Result, error) {
	if len(opinions) == 0 {
		return nil, errors.ErrAllParticipantsFailed
	}

	var confSum float64
	participants := make(map[uuid.UUID]struct{})
	for _, op := range opinions {
		confSum += op.Confidence
		participants[op.AgentID] = struct{}{}
	}
	confidence := confSum / float64(len(opinions))

	score := WeightedConsensus(opinions)
	level := task.ConsensusLow
	switch {
	case score > s.cfg.HighThreshold:
		level = task.ConsensusHigh
	case score > s.cfg.MediumThreshold:
		level = task.ConsensusMedium
	}

	return &task.Result{
		Recommendation: s.majorityRecommendation(opinions),
		Confidence:     confidence,
		Consensus:      level,
		ConsensusScore: score,
		Participants:   len(participants),
		KeyInsights:    s.keyInsights(opinions),
		Synthesis:      s.synthesisText(opinions, failures),
		PriceTarget:    s.averagePriceTarget(opinions),
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// majorityRecommendation tallies stance keywords across opinions.
// Ties and stance-free opinion sets resolve to hold.
func (s *Synthesizer) majorityRecommendation(opinions []task.Opinion) string {
	counts := map[string]int{}
	for _, op := range opinions {
		content := strings.ToLower(op.Content)
		for _, stance := range []string{task.RecommendationBuy, task.RecommendationSell, task.RecommendationHold} {
			if strings.Contains(content, stance) {
				counts[stance]++
				break
			}
		}
	}

	best := task.RecommendationHold
	bestCount := counts[task.RecommendationHold]
	for _, stance := range []string{task.RecommendationBuy, task.RecommendationSell} {
		if counts[stance] > bestCount {
			best, bestCount = stance, counts[stance]
		}
	}
	return best
}

// keyInsights collects high-confidence opinions and recurring content
// prefixes, capped and in insertion order.
func (s *Synthesizer) keyInsights(opinions []task.Opinion) []string {
	insights := make([]string, 0, s.cfg.InsightLimit)

	add := func(insight string) bool {
		if len(insights) >= s.cfg.InsightLimit {
			return false
		}
		insights = append(insights, insight)
		return true
	}

	for _, op := range opinions {
		if op.Confidence > s.cfg.InsightConfidenceFloor {
			if !add(fmt.Sprintf("high-confidence (%s, %.2f): %s", op.AgentType, op.Confidence, op.Content)) {
				return insights
			}
		}
	}

	seen := map[string]int{}
	for _, op := range opinions {
		prefix := strings.ToLower(op.Content)
		if len(prefix) > s.cfg.RecurringPrefixLen {
			prefix = prefix[:s.cfg.RecurringPrefixLen]
		}
		seen[prefix]++
		if seen[prefix] == 2 {
			if !add("recurring: " + prefix) {
				return insights
			}
		}
	}

	return insights
}

// synthesisText writes one paragraph per agent type grouping plus a
// fixed-form closing recommendation sentence.
func (s *Synthesizer) synthesisText(opinions []task.Opinion, failures []PartialFailure) string {
	byType := make(map[agent.Type][]task.Opinion)
	for _, op := range opinions {
		byType[op.AgentType] = append(byType[op.AgentType], op)
	}

	var b strings.Builder
	for _, t := range agent.AllTypes {
		group, ok := byType[t]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s view (%d opinions):\n", strings.ToUpper(string(t)), len(group))
		for _, op := range group {
			fmt.Fprintf(&b, "- %s\n", op.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Overall recommendation: %s based on %d opinions",
		s.majorityRecommendation(opinions), len(opinions))
	if len(failures) > 0 {
		fmt.Fprintf(&b, " (%d participants failed to respond)", len(failures))
	}
	b.WriteString(".")

	return b.String()
}

// averagePriceTarget extracts "price target N" figures and averages
// them. Invalid when no opinion carried a target.
func (s *Synthesizer) averagePriceTarget(opinions []task.Opinion) decimal.NullDecimal {
	var (
		sum   decimal.Decimal
		count int64
	)
	for _, op := range opinions {
		m := priceTargetRe.FindStringSubmatch(strings.ToLower(op.Content))
		if m == nil {
			continue
		}
		d, err := decimal.NewFromString(m[1])
		if err != nil {
			continue
		}
		sum = sum.Add(d)
		count++
	}

	if count == 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{
		Decimal: sum.Div(decimal.NewFromInt(count)).Round(2),
		Valid:   true,
	}
}
