// Package validation implements the two-stage listing validation
// pipeline: rule-based ("mechanical") and LLM-based.
package validation

import (
	"sort"
	"strings"

	"github.com/wisbric/avitosentry/pkg/catalog"
)

// RejectionReason enumerates mechanical rejection causes.
type RejectionReason string

const (
	RejectionStopwords RejectionReason = "stopwords"
	RejectionPrice     RejectionReason = "price"
)

// Outcome is one listing's validation verdict.
type Outcome struct {
	AvitoItemID     int64
	Passed          bool
	RejectionReason string // empty when Passed
	Details         map[string]any
}

// Mechanical runs stop-word and price-threshold checks.
type Mechanical struct {
	stopwords []string
}

// NewMechanical builds a Mechanical validator with DefaultStopwords.
func NewMechanical() *Mechanical {
	return &Mechanical{stopwords: DefaultStopwords}
}

// WithStopwords overrides the stop-word list.
func (m *Mechanical) WithStopwords(words []string) *Mechanical {
	m.stopwords = words
	return m
}

// checkStopwords returns every configured stop-word found in text. A
// stop-word containing '-', '/', or '.' matches as a case-folded
// substring; any other stop-word matches as a whole word, approximated by
// padding both the text and the word with spaces.
func (m *Mechanical) checkStopwords(text string) []string {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	padded := " " + lower + " "

	var found []string
	for _, word := range m.stopwords {
		lw := strings.ToLower(word)
		if strings.ContainsAny(lw, "-/.") {
			if strings.Contains(lower, lw) {
				found = append(found, word)
			}
			continue
		}
		if strings.Contains(padded, " "+lw+" ") {
			found = append(found, word)
		}
	}
	return found
}

// PriceThreshold computes the price-threshold algorithm, returning
// (threshold, true) or (0, false) when there are no usable prices.
func PriceThreshold(prices []float64) (float64, bool) {
	var usable []float64
	for _, p := range prices {
		if p > 0 {
			usable = append(usable, p)
		}
	}
	if len(usable) == 0 {
		return 0, false
	}

	sort.Sort(sort.Reverse(sort.Float64Slice(usable)))
	top20Count := len(usable) / 5
	if top20Count < 1 {
		top20Count = 1
	}
	top20 := append([]float64(nil), usable[:top20Count]...)

	sortedTop20 := append([]float64(nil), top20...)
	sort.Float64s(sortedTop20)
	median := sortedTop20[len(sortedTop20)/2]

	var filtered []float64
	for _, p := range top20 {
		if p <= median*3 {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) == 0 {
		filtered = []float64{median}
	}

	var sum float64
	for _, p := range filtered {
		sum += p
	}
	avg := sum / float64(len(filtered))

	return avg * 0.5, true
}

// Validate runs mechanical validation across all listings, returning one
// Outcome per listing keyed by AvitoItemID order.
func (m *Mechanical) Validate(listings []catalog.Listing) []Outcome {
	if len(listings) == 0 {
		return nil
	}

	prices := make([]float64, 0, len(listings))
	for _, l := range listings {
		if l.Price > 0 {
			prices = append(prices, l.Price)
		}
	}
	threshold, haveThreshold := PriceThreshold(prices)

	outcomes := make([]Outcome, 0, len(listings))
	for _, l := range listings {
		hits := m.checkStopwords(l.Title)
		hits = append(hits, m.checkStopwords(l.Description)...)
		hits = append(hits, m.checkStopwords(l.Seller)...)

		priceValid := true
		if haveThreshold && l.Price > 0 {
			priceValid = l.Price >= threshold
		}

		switch {
		case len(hits) > 0:
			outcomes = append(outcomes, Outcome{
				AvitoItemID:     l.AvitoItemID,
				Passed:          false,
				RejectionReason: string(RejectionStopwords),
			})
		case !priceValid:
			outcomes = append(outcomes, Outcome{
				AvitoItemID:     l.AvitoItemID,
				Passed:          false,
				RejectionReason: string(RejectionPrice),
			})
		default:
			outcomes = append(outcomes, Outcome{
				AvitoItemID: l.AvitoItemID,
				Passed:      true,
			})
		}
	}
	return outcomes
}
