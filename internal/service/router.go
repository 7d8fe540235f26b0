package service

import (
	"regexp"
	"strings"
	"time"
)

// RetrievalMode selects which retrieval strategy a query routes to.
type RetrievalMode string

const (
	ModeKnowledge RetrievalMode = "knowledge"
	ModeNeural    RetrievalMode = "neural"
	ModeHybrid    RetrievalMode = "hybrid"
	ModeTemporal  RetrievalMode = "temporal"
	ModeActor     RetrievalMode = "actor"
)

// QueryClassification is the router's verdict on a query: the mode plus
// the extracted hints downstream candidate generation uses.
type QueryClassification struct {
	Mode        RetrievalMode
	ActorHints  []string
	Identifiers []string
	TimeWindow  *TimeWindow
}

// TimeWindow bounds temporal-mode candidate generation.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

var (
	mentionPattern    = regexp.MustCompile(`@([A-Za-z0-9_.-]+)`)
	identifierPattern = regexp.MustCompile(`\b(?:PR-\d+|[A-Z][A-Z0-9]+-\d+)\b|#\d+\b`)
)

// temporalMarkers route to temporal mode: the asker wants current or
// recent activity, not archived knowledge.
var temporalMarkers = []string{
	"yesterday", "today", "last week", "this week", "last month",
	"recently", "right now", "currently", "latest", "lately",
}

// statusVocabulary also signals temporal intent.
var statusVocabulary = []string{
	"working on", "status of", "progress on", "in progress", "up to",
}

// actorVocabulary signals interest in a person or team rather than a
// document.
var actorVocabulary = []string{
	"who knows", "who worked", "who is", "who's", "expert", "expertise",
	"owner of", "who owns",
}

// neuralVocabulary signals interest in observed moments (decisions,
// incidents) rather than document content.
var neuralVocabulary = []string{
	"decision", "decided", "incident", "outage", "postmortem",
	"what happened", "why did we",
}

// ClassifyQuery routes a free-text query to a retrieval mode. When both
// actor and temporal cues match, actor wins: "what is @sam working on"
// asks about sam first and the time window second, and actor mode applies
// the window anyway.
func ClassifyQuery(query string, now time.Time) QueryClassification {
	lower := strings.ToLower(query)

	c := QueryClassification{Mode: ModeHybrid}

	for _, m := range mentionPattern.FindAllStringSubmatch(query, -1) {
		c.ActorHints = append(c.ActorHints, m[1])
	}
	c.Identifiers = identifierPattern.FindAllString(query, -1)

	temporal := containsAny(lower, temporalMarkers) || containsAny(lower, statusVocabulary)
	actor := len(c.ActorHints) > 0 || containsAny(lower, actorVocabulary)

	if temporal {
		c.TimeWindow = &TimeWindow{Start: windowStart(lower, now), End: now}
	}

	switch {
	case actor:
		c.Mode = ModeActor
	case temporal:
		c.Mode = ModeTemporal
	case len(c.Identifiers) > 0:
		c.Mode = ModeKnowledge
	case containsAny(lower, neuralVocabulary):
		c.Mode = ModeNeural
	}
	return c
}

func windowStart(lower string, now time.Time) time.Time {
	switch {
	case strings.Contains(lower, "today"):
		return now.Add(-24 * time.Hour)
	case strings.Contains(lower, "yesterday"):
		return now.Add(-48 * time.Hour)
	case strings.Contains(lower, "last month"):
		return now.Add(-31 * 24 * time.Hour)
	default:
		return now.Add(-7 * 24 * time.Hour)
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
