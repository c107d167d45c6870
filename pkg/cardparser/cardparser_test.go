package cardparser

import (
	"testing"
	"time"
)

func TestCard_Incomplete(t *testing.T) {
	t.Run("nil PublishedAt is incomplete", func(t *testing.T) {
		c := Card{}
		if !c.Incomplete() {
			t.Error("expected a card with no PublishedAt to be incomplete")
		}
	})

	t.Run("set PublishedAt is complete", func(t *testing.T) {
		now := time.Now()
		c := Card{PublishedAt: &now}
		if c.Incomplete() {
			t.Error("expected a card with PublishedAt set to be complete")
		}
	})
}
