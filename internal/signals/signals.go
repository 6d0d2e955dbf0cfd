// Package signals gathers external context about a subject entity.
//
// The gatherer is a collaborator of the decision engine, not part of it: it
// must never fail. Any per-source error degrades that source to its
// negative-default fields and the bundle is returned regardless. The engine
// stores the bundle verbatim inside the context snapshot and never inspects
// its internal shape.
package signals

import (
	"encoding/json"
	"time"
)

// WebsiteSignals is what the website probe learned about the entity's domain.
type WebsiteSignals struct {
	Checked    bool   `json:"checked"`
	Reachable  bool   `json:"reachable"`
	StatusCode int    `json:"status_code"` // -1 when unreachable or unchecked
	Server     string `json:"server,omitempty"`
	ResponseMs int64  `json:"response_ms"` // -1 when unreachable or unchecked
}

// SocialSignals is a stub connector result for social presence.
type SocialSignals struct {
	Presence string `json:"presence"` // "unknown" until a real connector exists
	Mentions int    `json:"mentions"` // -1 = not collected
}

// ReviewSignals is a stub connector result for third-party review sources.
type ReviewSignals struct {
	Source string  `json:"source"` // "none" until a real connector exists
	Rating float64 `json:"rating"` // -1 = not collected
	Count  int     `json:"count"`  // -1 = not collected
}

// Bundle is the frozen set of gathered signals for one decision.
type Bundle struct {
	Website    WebsiteSignals `json:"website"`
	Social     SocialSignals  `json:"social"`
	Reviews    ReviewSignals  `json:"reviews"`
	GatheredAt time.Time      `json:"gathered_at"`
	ElapsedMs  int64          `json:"elapsed_ms"`
}

// Map converts the bundle to the opaque JSON shape the snapshot stores.
func (b Bundle) Map() map[string]any {
	raw, err := json.Marshal(b)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

// emptyBundle returns a bundle with every source at its negative defaults.
func emptyBundle() Bundle {
	return Bundle{
		Website: WebsiteSignals{StatusCode: -1, ResponseMs: -1},
		Social:  SocialSignals{Presence: "unknown", Mentions: -1},
		Reviews: ReviewSignals{Source: "none", Rating: -1, Count: -1},
	}
}
