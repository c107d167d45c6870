// Package cardparser declares the contract for extracting structured
// fields from a detail-page's HTML. A concrete parser is an external
// collaborator; this package only states the shape the core consumes.
package cardparser

import (
	"context"
	"encoding/json"
	"time"
)

// Card is the structured result of parsing one detail-page HTML document.
type Card struct {
	ItemID          int64
	Title           string
	Price           float64
	Seller          string
	PublishedAt     *time.Time
	Description     string
	Location        string
	Characteristics json.RawMessage
	ViewsTotal      int
}

// Incomplete reports whether this card lacks the minimum field
// (PublishedAt) required to treat detail-parsing as having succeeded.
func (c Card) Incomplete() bool {
	return c.PublishedAt == nil
}

// Parser extracts a Card from one detail page's raw HTML.
type Parser interface {
	Parse(ctx context.Context, html string) (Card, error)
}
