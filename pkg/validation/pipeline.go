package validation

import (
	"context"
	"encoding/json"

	"github.com/wisbric/avitosentry/pkg/catalog"
	"github.com/wisbric/avitosentry/pkg/queue"
)

// Pipeline chains mechanical then AI validation and persists one
// ValidationResult row per (card, stage).
type Pipeline struct {
	Mechanical *Mechanical
	AI         *AI
	Store      *queue.Store
}

// Run validates listings for article, saving every result, and returns
// the count of listings that passed the final stage.
func (p *Pipeline) Run(ctx context.Context, article string, listings []catalog.Listing) (itemsPassed int, err error) {
	mechResults := p.Mechanical.Validate(listings)

	var mechPassed []catalog.Listing
	byID := make(map[int64]catalog.Listing, len(listings))
	for _, l := range listings {
		byID[l.AvitoItemID] = l
	}

	for _, r := range mechResults {
		if err := p.saveResult(ctx, queue.ValidationTypeMechanical, r); err != nil {
			return 0, err
		}
		if r.Passed {
			mechPassed = append(mechPassed, byID[r.AvitoItemID])
		}
	}

	aiResults, err := p.AI.Validate(ctx, mechPassed, article)
	if err != nil {
		return 0, err
	}
	if aiResults == nil {
		// LLM stage skipped (no API key) or nothing to validate:
		// mechanical passers are final.
		return len(mechPassed), nil
	}

	passed := 0
	for _, r := range aiResults {
		if err := p.saveResult(ctx, queue.ValidationTypeAI, r); err != nil {
			return 0, err
		}
		if r.Passed {
			passed++
		}
	}
	return passed, nil
}

func (p *Pipeline) saveResult(ctx context.Context, stage queue.ValidationType, o Outcome) error {
	var reason *string
	if o.RejectionReason != "" {
		reason = &o.RejectionReason
	}
	var details json.RawMessage
	if o.Details != nil {
		encoded, err := json.Marshal(o.Details)
		if err != nil {
			return err
		}
		details = encoded
	}
	return p.Store.SaveValidationResult(ctx, queue.ValidationResult{
		AvitoItemID:       o.AvitoItemID,
		ValidationType:    stage,
		Passed:            o.Passed,
		RejectionReason:   reason,
		ValidationDetails: details,
	})
}
