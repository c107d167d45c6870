// Package captcha declares the contract for attempting to resolve a
// challenged page. A concrete solver is an external collaborator; this
// package only states the shape the core consumes.
package captcha

import (
	"context"

	"github.com/wisbric/avitosentry/pkg/pagestate"
)

// Solver attempts to resolve whatever challenge is currently blocking a
// page (CAPTCHA, continue-button interstitial, rate-limit holding page).
// Solved reports whether the page is now navigable.
type Solver interface {
	Solve(ctx context.Context, page pagestate.Page, state pagestate.State) (solved bool, err error)
}
