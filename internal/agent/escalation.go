package agent

import (
	"mailbrain.app/agent/internal/match"
	"mailbrain.app/agent/internal/model"
)

// Pipeline outcomes surfaced to callers.
const (
	StatusDraftReady = "draft_ready"
	StatusEscalate   = "escalate_to_human"
)

// Decision is the escalation verdict for one email: draft or route to a
// human, with the confidence bucket and the matches that cleared the
// threshold, best first.
type Decision struct {
	Status     string
	Confidence model.Confidence
	Reason     string
	Matches    []match.RuleMatch
}

// Top returns the best cleared match, nil when escalating with none.
func (d *Decision) Top() *match.RuleMatch {
	if len(d.Matches) == 0 {
		return nil
	}
	return &d.Matches[0]
}

// EscalationPolicy maps ranked rule matches to a Decision. Both thresholds
// come from configuration.
type EscalationPolicy struct {
	// MatchThreshold is the minimum score for a rule to count as a match.
	MatchThreshold float64
	// HighConfidence is the score at which a draft is high confidence.
	HighConfidence float64
}

// Decide buckets the top cleared score: at or above HighConfidence the draft
// is high confidence, between the thresholds it is medium, and with nothing
// clearing MatchThreshold the email escalates with confidence low.
func (p EscalationPolicy) Decide(matches []match.RuleMatch) Decision {
	cleared := make([]match.RuleMatch, 0, len(matches))
	for _, m := range matches {
		if m.Score >= p.MatchThreshold {
			cleared = append(cleared, m)
		}
	}

	if len(cleared) == 0 {
		return Decision{
			Status:     StatusEscalate,
			Confidence: model.ConfidenceLow,
			Reason:     "no skill rule cleared the match threshold",
		}
	}

	if cleared[0].Score >= p.HighConfidence {
		return Decision{
			Status:     StatusDraftReady,
			Confidence: model.ConfidenceHigh,
			Matches:    cleared,
		}
	}

	return Decision{
		Status:     StatusDraftReady,
		Confidence: model.ConfidenceMedium,
		Matches:    cleared,
	}
}
