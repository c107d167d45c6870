package validation

import (
	"context"
	"strings"
	"testing"

	"github.com/wisbric/avitosentry/pkg/catalog"
)

func TestNewAI_EmptyKeyDisablesClient(t *testing.T) {
	a := NewAI("")
	if a.apiKey != "" {
		t.Fatalf("apiKey = %q, want empty", a.apiKey)
	}
}

func TestValidate_NoAPIKeySkipsLLMStage(t *testing.T) {
	a := NewAI("")
	outcomes, err := a.Validate(context.Background(), []catalog.Listing{{AvitoItemID: 1}}, "article-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcomes != nil {
		t.Errorf("outcomes = %v, want nil when no API key is configured", outcomes)
	}
}

func TestValidate_NoListingsShortCircuits(t *testing.T) {
	a := NewAI("fake-key")
	outcomes, err := a.Validate(context.Background(), nil, "article-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcomes != nil {
		t.Errorf("outcomes = %v, want nil for an empty listing set", outcomes)
	}
}

func TestFallbackAllPassed(t *testing.T) {
	listings := []catalog.Listing{
		{AvitoItemID: 1},
		{AvitoItemID: 2},
	}
	outcomes := fallbackAllPassed(listings)
	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}
	for _, o := range outcomes {
		if !o.Passed {
			t.Errorf("outcome for item %d: Passed = false, want true", o.AvitoItemID)
		}
		if o.Details["fallback"] != "json_decode_error" {
			t.Errorf("outcome for item %d: Details[fallback] = %v, want json_decode_error", o.AvitoItemID, o.Details["fallback"])
		}
	}
}

func TestFormatListingsForPrompt_IncludesArticleAndListings(t *testing.T) {
	listings := []catalog.Listing{
		{AvitoItemID: 101, Title: "iPhone 13", Description: "new", Price: 50000},
		{AvitoItemID: 102, Title: "iPhone 13 copy", Description: "analog", Price: 10000},
	}
	prompt := formatListingsForPrompt(listings, "iphone-13")

	if !strings.Contains(prompt, "iphone-13") {
		t.Error("prompt does not mention the article")
	}
	if !strings.Contains(prompt, "ID: 101") || !strings.Contains(prompt, "ID: 102") {
		t.Error("prompt does not mention both listing IDs")
	}
	if !strings.Contains(prompt, "iPhone 13") {
		t.Error("prompt does not mention a listing title")
	}
	if !strings.Contains(prompt, "ЦЕНОВОЙ ОРИЕНТИР") {
		t.Error("prompt does not include a price-reference line when prices are present")
	}
}

func TestFormatListingsForPrompt_NoPricesOmitsPriceReference(t *testing.T) {
	listings := []catalog.Listing{
		{AvitoItemID: 1, Title: "no price"},
	}
	prompt := formatListingsForPrompt(listings, "article-1")
	if strings.Contains(prompt, "ЦЕНОВОЙ ОРИЕНТИР") {
		t.Error("prompt should not include a price reference when no listing has a price")
	}
}
