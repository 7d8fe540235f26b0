package service

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Signal identifies which retrieval family produced a candidate score.
type Signal string

const (
	SignalKnowledge Signal = "knowledge"
	SignalNeural    Signal = "neural"
	SignalTemporal  Signal = "temporal"
	SignalActor     Signal = "actor"
)

// CandidateKind identifies what a candidate references.
type CandidateKind string

const (
	KindChunk       CandidateKind = "chunk"
	KindObservation CandidateKind = "observation"
	KindSummary     CandidateKind = "summary"
	KindTemporal    CandidateKind = "temporal_state"
)

// FusionConfig holds the per-workspace signal weights. Weights are
// explicit at every call site; there is no ambient default inside fusion
// itself.
type FusionConfig struct {
	Knowledge  float64 `json:"knowledge"`
	Neural     float64 `json:"neural"`
	Temporal   float64 `json:"temporal"`
	Actor      float64 `json:"actor"`
	Recency    float64 `json:"recency"`
	Importance float64 `json:"importance"`
}

// DefaultFusionConfig returns the stock weights applied to workspaces
// without an override.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		Knowledge:  0.30,
		Neural:     0.25,
		Temporal:   0.15,
		Actor:      0.15,
		Recency:    0.10,
		Importance: 0.05,
	}
}

const fusionWeightTolerance = 1e-6

// Validate rejects weight sets that do not sum to 1 within tolerance or
// contain negative weights.
func (c FusionConfig) Validate() error {
	weights := []float64{c.Knowledge, c.Neural, c.Temporal, c.Actor, c.Recency, c.Importance}
	sum := 0.0
	for _, w := range weights {
		if w < 0 {
			return fmt.Errorf("fusion weights cannot be negative, got %v", w)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > fusionWeightTolerance {
		return fmt.Errorf("fusion weights must sum to 1, got %v", sum)
	}
	return nil
}

func (c FusionConfig) weightFor(s Signal) float64 {
	switch s {
	case SignalKnowledge:
		return c.Knowledge
	case SignalNeural:
		return c.Neural
	case SignalTemporal:
		return c.Temporal
	case SignalActor:
		return c.Actor
	}
	return 0
}

// Candidate is one retrieval hit carrying its per-signal scores. A
// candidate found by only one signal has exactly one entry in Scores;
// fusion never imputes scores for absent signals.
type Candidate struct {
	Kind       CandidateKind
	ID         string
	DocumentID string
	Scores     map[Signal]float64
	OccurredAt time.Time
	Importance float64
	Snippet    string
}

// FusedResult is a candidate with its final fused score and the signals
// that contributed to it.
type FusedResult struct {
	Candidate
	Score   float64
	Signals []Signal
}

// recencyHalfLife controls the recency boost: a candidate one half-life
// old gets half the full recency weight.
const recencyHalfLife = 14 * 24 * time.Hour

// Fuse merges per-signal candidate lists into one ranking. Candidates
// appearing under multiple signals are merged by (Kind, ID), keeping the
// max score per signal. Ties break on recency then ID so rankings are
// stable across runs.
func Fuse(cfg FusionConfig, candidates []Candidate, now time.Time, limit int) []FusedResult {
	merged := map[string]*Candidate{}
	for _, c := range candidates {
		key := string(c.Kind) + ":" + c.ID
		existing, ok := merged[key]
		if !ok {
			cc := c
			cc.Scores = map[Signal]float64{}
			for s, v := range c.Scores {
				cc.Scores[s] = v
			}
			merged[key] = &cc
			continue
		}
		for s, v := range c.Scores {
			if v > existing.Scores[s] {
				existing.Scores[s] = v
			}
		}
		if c.OccurredAt.After(existing.OccurredAt) {
			existing.OccurredAt = c.OccurredAt
		}
		if c.Importance > existing.Importance {
			existing.Importance = c.Importance
		}
	}

	results := make([]FusedResult, 0, len(merged))
	for _, c := range merged {
		score := 0.0
		signals := make([]Signal, 0, len(c.Scores))
		for s, v := range c.Scores {
			score += cfg.weightFor(s) * v
			signals = append(signals, s)
		}
		sort.Slice(signals, func(i, j int) bool { return signals[i] < signals[j] })

		score += cfg.Recency * recencyScore(c.OccurredAt, now)
		score += cfg.Importance * c.Importance

		results = append(results, FusedResult{Candidate: *c, Score: score, Signals: signals})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].OccurredAt.Equal(results[j].OccurredAt) {
			return results[i].OccurredAt.After(results[j].OccurredAt)
		}
		return results[i].ID < results[j].ID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func recencyScore(at time.Time, now time.Time) float64 {
	if at.IsZero() || at.After(now) {
		return 0
	}
	age := now.Sub(at)
	return math.Pow(0.5, age.Hours()/recencyHalfLife.Hours())
}

// rrfK is the reciprocal-rank-fusion dampening constant used to convert
// per-signal rank positions into comparable scores.
const rrfK = 60

// rankScores converts an ordered hit list into normalized RRF scores.
// Index 0 scores highest; scores are scaled so rank 0 maps to 1.0,
// keeping signals comparable regardless of list length.
func rankScores(n int) []float64 {
	out := make([]float64, n)
	top := 1.0 / float64(rrfK+1)
	for i := range out {
		out[i] = (1.0 / float64(rrfK+i+1)) / top
	}
	return out
}
