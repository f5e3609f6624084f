package usecase

import (
	"unicode/utf8"

	"github.com/kirillkom/hybrid-rag-agent/internal/core/domain"
)

const DefaultMinContextChars = 200

// LengthConfidencePolicy treats short local context as a sign the index lacks an answer.
type LengthConfidencePolicy struct {
	MinChars int
}

func NewLengthConfidencePolicy(minChars int) LengthConfidencePolicy {
	if minChars <= 0 {
		minChars = DefaultMinContextChars
	}
	return LengthConfidencePolicy{MinChars: minChars}
}

func (p LengthConfidencePolicy) IsLowConfidence(localContext string, _ []domain.ScoredChunk) bool {
	if localContext == "" {
		return true
	}
	return utf8.RuneCountInString(localContext) < p.MinChars
}

// ScoreConfidencePolicy looks at the best relevance score instead of context length.
type ScoreConfidencePolicy struct {
	MinScore float64
}

func NewScoreConfidencePolicy(minScore float64) ScoreConfidencePolicy {
	return ScoreConfidencePolicy{MinScore: minScore}
}

func (p ScoreConfidencePolicy) IsLowConfidence(localContext string, results []domain.ScoredChunk) bool {
	if localContext == "" || len(results) == 0 {
		return true
	}
	best := results[0].Score
	for _, r := range results[1:] {
		if r.Score > best {
			best = r.Score
		}
	}
	return best < p.MinScore
}
