package normalize

import (
	"strings"

	"github.com/hivemindhq/hivemind/internal/domain"
)

// Baseline importance per observation type. Incidents and decisions carry
// more long-term retrieval weight than routine activity.
var typeBaseline = map[domain.ObservationType]float64{
	domain.ObservationTypeIncident:  0.85,
	domain.ObservationTypeDecision:  0.75,
	domain.ObservationTypeChange:    0.45,
	domain.ObservationTypeHighlight: 0.40,
}

// significance terms that raise an event's salience when present in its
// text.
var salienceMarkers = []string{
	"breaking", "rollback", "revert", "outage", "security", "deadline",
	"critical", "urgent", "migration", "deprecat", "agreed", "decided",
}

// ScoreImportance combines the observation type baseline with text
// salience into the [0,1] importance score persisted on the observation.
func ScoreImportance(obsType domain.ObservationType, title, content string) float64 {
	score, ok := typeBaseline[obsType]
	if !ok {
		score = 0.3
	}

	text := strings.ToLower(title + " " + content)
	for _, marker := range salienceMarkers {
		if strings.Contains(text, marker) {
			score += 0.05
		}
	}

	// Very short events carry less signal.
	if ApproxTokens(content) < 10 {
		score -= 0.1
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
