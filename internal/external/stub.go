// Package external provides minimal stand-ins for the browser-driving
// collaborators that sit outside this repository: page-state detection,
// CAPTCHA solving, catalog traversal, and card parsing. Those are
// delivered by a separate DOM-heuristics/vendor-CAPTCHA/LLM-parsing
// stack in production; this package exists only so the core wired in
// internal/app compiles and runs end to end against the interfaces in
// pkg/pagestate, pkg/captcha, pkg/catalog, and pkg/cardparser. A real
// deployment replaces these with its own implementations of the same
// interfaces — nothing in pkg/worker or pkg/coordinator changes.
package external

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wisbric/avitosentry/pkg/cardparser"
	"github.com/wisbric/avitosentry/pkg/catalog"
	"github.com/wisbric/avitosentry/pkg/pagestate"
)

// Detector always reports NotDetected. A production detector inspects
// page.Content() for known CAPTCHA/rate-limit/block markup.
type Detector struct{}

func (Detector) Detect(ctx context.Context, page pagestate.Page) (pagestate.State, error) {
	return pagestate.NotDetected, nil
}

// Solver never resolves a challenge. A production solver drives a vendor
// CAPTCHA-solving API or service against page.
type Solver struct{}

func (Solver) Solve(ctx context.Context, page pagestate.Page, state pagestate.State) (bool, error) {
	return false, nil
}

// Parser extracts nothing beyond a zero Card, always reporting it
// incomplete. A production parser walks the detail-page DOM.
type Parser struct{}

func (Parser) Parse(ctx context.Context, html string) (cardparser.Card, error) {
	return cardparser.Card{Characteristics: json.RawMessage(`{}`)}, nil
}

// Orchestrator issues a single page-request for the initial page and
// returns whatever result the coordinator supplies, without pagination.
// A production orchestrator paginates until the catalog is exhausted,
// emitting further page-requests on every anti-bot interruption.
type Orchestrator struct{}

func (Orchestrator) Run(ctx context.Context, page pagestate.Page, catalogURL string, requests chan<- catalog.PageRequest, responses <-chan catalog.PageResponse) (catalog.Result, error) {
	select {
	case requests <- catalog.PageRequest{Status: catalog.StatusNotDetected, Attempt: 1}:
	case <-ctx.Done():
		return catalog.Result{}, ctx.Err()
	}

	select {
	case resp := <-responses:
		if resp.Err != nil {
			return catalog.Result{}, fmt.Errorf("external: orchestrator stub received page error: %w", resp.Err)
		}
		return catalog.Result{Status: catalog.ResultSuccess, Listings: nil}, nil
	case <-ctx.Done():
		return catalog.Result{}, ctx.Err()
	}
}
