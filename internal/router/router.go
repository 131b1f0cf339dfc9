// Package router decides a document's terminal disposition from its
// sections' confidence scores. Routing is a pure function of the sections
// and the configured thresholds.
package router

import (
	"fmt"

	"github.com/jackzampolin/docuport/internal/document"
)

// Reason codes attached to validation queue entries.
const (
	ReasonLowConfidence     = "low_confidence"
	ReasonLowSection        = "low_confidence_section"
	ReasonSchemaFailure     = "schema_failure"
	ReasonStructuralAnomaly = "structural_anomaly"
)

// Outcome is the routing result for a document.
type Outcome string

const (
	OutcomeApproved    Outcome = "approved"
	OutcomeNeedsReview Outcome = "needs_review"
	OutcomeRejected    Outcome = "rejected"
)

// Config holds the injectable routing thresholds.
type Config struct {
	// Threshold is the aggregate confidence needed for auto-approval
	// (default 0.85).
	Threshold float64

	// LowThreshold flags individual sections as suspect (default 0.70).
	LowThreshold float64

	// FailureCeiling is the highest tolerable fraction of failed sections.
	// Above it the document is rejected outright regardless of aggregate.
	// All sections failing always rejects. Default 1.0 (only the all-failed
	// case rejects).
	FailureCeiling float64
}

func (c *Config) applyDefaults() {
	if c.Threshold <= 0 {
		c.Threshold = 0.85
	}
	if c.LowThreshold <= 0 {
		c.LowThreshold = 0.70
	}
	if c.FailureCeiling <= 0 {
		c.FailureCeiling = 1.0
	}
}

// Decision is the routing outcome plus the evidence behind it.
type Decision struct {
	Outcome   Outcome
	Aggregate float64
	Reasons   []string
}

// Route computes the aggregate confidence and routing outcome for a set of
// terminal sections. The aggregate is the mean over ALL sections, with a
// failed section contributing 0.0: missing data penalizes the score rather
// than being excluded from it.
func Route(sections []*document.Section, cfg Config) Decision {
	cfg.applyDefaults()

	total := len(sections)
	if total == 0 {
		return Decision{
			Outcome: OutcomeRejected,
			Reasons: []string{ReasonStructuralAnomaly},
		}
	}

	var sum float64
	failed := 0
	lowSections := 0
	for _, s := range sections {
		switch s.Status {
		case document.SectionSucceeded:
			sum += s.Confidence
			if s.Confidence < cfg.LowThreshold {
				lowSections++
			}
		default:
			// Failed or never reached terminal success: counts as zero.
			failed++
		}
	}
	aggregate := sum / float64(total)

	failedFrac := float64(failed) / float64(total)
	if failed == total || failedFrac > cfg.FailureCeiling {
		return Decision{
			Outcome:   OutcomeRejected,
			Aggregate: aggregate,
			Reasons:   []string{ReasonStructuralAnomaly, ReasonSchemaFailure},
		}
	}

	if aggregate >= cfg.Threshold {
		return Decision{Outcome: OutcomeApproved, Aggregate: aggregate}
	}

	reasons := []string{fmt.Sprintf("%s (%.2f < %.2f)", ReasonLowConfidence, aggregate, cfg.Threshold)}
	if failed > 0 {
		reasons = append(reasons, ReasonSchemaFailure)
	}
	if lowSections > 0 {
		reasons = append(reasons, fmt.Sprintf("%s (%d)", ReasonLowSection, lowSections))
	}

	return Decision{
		Outcome:   OutcomeNeedsReview,
		Aggregate: aggregate,
		Reasons:   reasons,
	}
}
