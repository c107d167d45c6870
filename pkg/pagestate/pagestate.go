// Package pagestate declares the contract for classifying the current
// browser page into one of the anti-bot gauntlet's known states. A
// concrete detector is an external collaborator;
// this package only states what the core consumes from it.
package pagestate

import "context"

// State is the classification of a navigated page.
type State string

const (
	Captcha        State = "captcha"
	ContinueButton State = "continue-button"
	RateLimit429   State = "rate-limit-429"
	ProxyBlock403  State = "proxy-block-403"
	ProxyAuth407   State = "proxy-auth-407"
	CardFound      State = "card-found"
	NotDetected    State = "not-detected"
)

// Page is the minimal surface a detector needs from a live browser page.
// Concrete implementations in pkg/browsersession satisfy it with a
// playwright-go *playwright.Page.
type Page interface {
	Content() (string, error)
	URL() string
}

// Detector classifies a Page's current state.
type Detector interface {
	Detect(ctx context.Context, page Page) (State, error)
}
