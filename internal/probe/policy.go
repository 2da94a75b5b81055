package probe

import (
	"fmt"

	"github.com/helixir/lumen-search/internal/domain"
)

// RefinementKind is the direction a refinement hint points.
type RefinementKind string

const (
	RefineNarrow  RefinementKind = "NARROW"
	RefineBroaden RefinementKind = "BROADEN"
	RefineOK      RefinementKind = "OK"
)

// Refinement is one hint for the query refinement loop.
type Refinement struct {
	Kind   RefinementKind `json:"kind"`
	Reason string         `json:"reason"`

	// Concept is a concept to add to the query, set on concept hints.
	Concept string `json:"concept,omitempty"`
}

// Policy holds the thresholds of the refinement heuristic.
type Policy struct {
	// NarrowAbove recommends narrowing when the total exceeds it.
	NarrowAbove int64 `mapstructure:"narrow_above" json:"narrow_above"`

	// BroadenBelow recommends broadening when the total is below it.
	BroadenBelow int64 `mapstructure:"broaden_below" json:"broaden_below"`

	// MaxConceptHints caps the concept suggestions attached to a NARROW hint.
	MaxConceptHints int `mapstructure:"max_concept_hints" json:"max_concept_hints"`
}

// DefaultPolicy suits a typical systematic review screening budget.
func DefaultPolicy() Policy {
	return Policy{NarrowAbove: 5000, BroadenBelow: 50, MaxConceptHints: 3}
}

// Validate checks the thresholds are consistent.
func (p Policy) Validate() error {
	if p.BroadenBelow < 0 || p.NarrowAbove < 0 {
		return fmt.Errorf("thresholds must be >= 0")
	}
	if p.NarrowAbove <= p.BroadenBelow {
		return fmt.Errorf("narrow_above (%d) must exceed broaden_below (%d)", p.NarrowAbove, p.BroadenBelow)
	}
	if p.MaxConceptHints < 0 {
		return fmt.Errorf("max_concept_hints must be >= 0")
	}
	return nil
}

// Suggest applies the policy to an aggregated total and concept list.
func (p Policy) Suggest(total int64, concepts []domain.Concept) []Refinement {
	switch {
	case total > p.NarrowAbove:
		out := []Refinement{{
			Kind:   RefineNarrow,
			Reason: fmt.Sprintf("%d results exceed the screening ceiling of %d", total, p.NarrowAbove),
		}}
		for i, c := range concepts {
			if i >= p.MaxConceptHints {
				break
			}
			out = append(out, Refinement{
				Kind:    RefineNarrow,
				Reason:  fmt.Sprintf("restrict to a dominant concept (score %.2f)", c.Score),
				Concept: c.Name,
			})
		}
		return out
	case total < p.BroadenBelow:
		return []Refinement{{
			Kind:   RefineBroaden,
			Reason: fmt.Sprintf("%d results fall below the floor of %d", total, p.BroadenBelow),
		}}
	default:
		return []Refinement{{
			Kind:   RefineOK,
			Reason: fmt.Sprintf("%d results are within [%d, %d]", total, p.BroadenBelow, p.NarrowAbove),
		}}
	}
}
