package domain

import "strings"

type Route string

const (
	// RouteLocal answers from the local index only.
	RouteLocal Route = "local"
	// RouteLocalWithWeb keeps weak local context and adds a web digest.
	RouteLocalWithWeb Route = "local+web"
	// RouteWebOnly is taken when the query carries a recency trigger.
	RouteWebOnly Route = "web"
	// RouteWebFallback is taken when the local index has never been built.
	RouteWebFallback Route = "web_fallback"
)

const (
	LocalContextLabel = "Local context:"
	WebContextLabel   = "Web search context:"
)

// ContextBundle is the grounding text assembled for a single query.
type ContextBundle struct {
	Local    string
	Web      string
	HasLocal bool
	HasWeb   bool
}

// Render labels each present section by origin, local first.
func (b ContextBundle) Render() string {
	sections := make([]string, 0, 2)
	if b.HasLocal {
		sections = append(sections, LocalContextLabel+"\n"+b.Local)
	}
	if b.HasWeb {
		sections = append(sections, WebContextLabel+"\n"+b.Web)
	}
	return strings.Join(sections, "\n\n")
}

type Answer struct {
	Text      string        `json:"answer"`
	Route     Route         `json:"route"`
	UsedLocal bool          `json:"used_local"`
	UsedWeb   bool          `json:"used_web"`
	Sources   []ScoredChunk `json:"sources"`
}
