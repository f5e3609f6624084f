package usecase

import "strings"

// DefaultTriggerTerms mark a query as recency-sensitive.
var DefaultTriggerTerms = []string{"latest", "current", "news", "2024", "2025"}

// TriggerRouter sends queries that mention any trigger term straight to the web.
// Matching is a case-insensitive substring check.
type TriggerRouter struct {
	terms []string
}

func NewTriggerRouter(terms []string) *TriggerRouter {
	normalized := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		normalized = append(normalized, term)
	}
	return &TriggerRouter{terms: normalized}
}

// MatchTrigger returns the first configured term found in the query.
func (r *TriggerRouter) MatchTrigger(query string) (string, bool) {
	if len(r.terms) == 0 || query == "" {
		return "", false
	}
	normalized := strings.ToLower(query)
	for _, term := range r.terms {
		if strings.Contains(normalized, term) {
			return term, true
		}
	}
	return "", false
}

func (r *TriggerRouter) Terms() []string {
	out := make([]string, len(r.terms))
	copy(out, r.terms)
	return out
}
