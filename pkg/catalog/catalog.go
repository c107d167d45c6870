// Package catalog declares the contract for the long-running catalog
// traversal routine. A concrete orchestrator is an external collaborator;
// this package states the page-request rendezvous protocol and result
// shape the core consumes, not how traversal or pagination works.
package catalog

import (
	"context"
	"encoding/json"

	"github.com/wisbric/avitosentry/pkg/pagestate"
)

// RequestStatus is the failure classification an orchestrator reports
// when it needs the host to supply a fresh page.
type RequestStatus string

const (
	StatusProxyBlocked    RequestStatus = "PROXY_BLOCKED"
	StatusCaptchaUnsolved RequestStatus = "CAPTCHA_UNSOLVED"
	StatusContinueButton  RequestStatus = "CONTINUE_BUTTON"
	StatusRateLimit       RequestStatus = "RATE_LIMIT"
	StatusNotDetected     RequestStatus = "NOT_DETECTED"
)

// PageRequest is one rendezvous message from the orchestrator to its
// coordinator.
type PageRequest struct {
	Status        RequestStatus
	Attempt       int
	NextStartPage int
}

// PageResponse is the coordinator's reply: either a fresh page to resume
// on, or an error that aborts the traversal.
type PageResponse struct {
	Page pagestate.Page
	Err  error
}

// ResultStatus is the terminal outcome of a traversal.
type ResultStatus string

// ResultSuccess is the only ResultStatus the worker accepts without
// AttemptsExhausted also being false.
const ResultSuccess ResultStatus = "SUCCESS"

// Listing is one catalog-page search result.
type Listing struct {
	AvitoItemID int64
	Title       string
	Description string
	Price       float64
	Seller      string
}

// Result is what a traversal returns once it stops requesting pages.
type Result struct {
	Status            ResultStatus
	Listings          []Listing
	AttemptsExhausted bool
	Details           json.RawMessage
}

// Orchestrator iterates paginated catalog results starting from an
// already-navigated page. Whenever it hits a state it cannot handle
// itself, it sends a PageRequest on requests and blocks until exactly one
// PageResponse arrives on responses before resuming or aborting. It must
// never close either channel — the coordinator owns their lifecycle.
type Orchestrator interface {
	Run(ctx context.Context, page pagestate.Page, catalogURL string, requests chan<- PageRequest, responses <-chan PageResponse) (Result, error)
}
