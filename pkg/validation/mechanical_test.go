package validation

import (
	"testing"

	"github.com/wisbric/avitosentry/pkg/catalog"
)

func TestCheckStopwords(t *testing.T) {
	m := NewMechanical().WithStopwords([]string{"копия", "б/у", "как новый"})

	tests := []struct {
		name string
		text string
		want int
	}{
		{"whole word match", "Продам копия часов", 1},
		{"no match inside another word", "копиясборник не подходит", 0},
		{"substring stopword matches anywhere", "товар б/у в отличном состоянии", 1},
		{"multi-word stopword matches as substring", "состояние как новый", 1},
		{"empty text", "", 0},
		{"case insensitive", "КОПИЯ часов", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.checkStopwords(tt.text)
			if len(got) != tt.want {
				t.Errorf("checkStopwords(%q) = %v, want %d hits", tt.text, got, tt.want)
			}
		})
	}
}

func TestPriceThreshold(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		_, ok := PriceThreshold(nil)
		if ok {
			t.Fatal("expected ok=false for empty input")
		}
	})

	t.Run("zero and negative prices ignored", func(t *testing.T) {
		_, ok := PriceThreshold([]float64{0, -5})
		if ok {
			t.Fatal("expected ok=false when no usable prices")
		}
	})

	t.Run("single price is its own threshold basis", func(t *testing.T) {
		threshold, ok := PriceThreshold([]float64{1000})
		if !ok {
			t.Fatal("expected ok=true")
		}
		if threshold != 500 {
			t.Errorf("threshold = %v, want 500", threshold)
		}
	})

	t.Run("outliers above 3x median excluded from average", func(t *testing.T) {
		// 10 prices; top 20% = top 2 = {100000, 1000}. median of those two
		// (sorted ascending: 1000, 100000) = 100000 (index len/2=1). Values
		// > 3*median are dropped: both <= 300000, so none are dropped.
		prices := []float64{100, 200, 300, 400, 500, 600, 700, 800, 1000, 100000}
		threshold, ok := PriceThreshold(prices)
		if !ok {
			t.Fatal("expected ok=true")
		}
		if threshold <= 0 {
			t.Errorf("threshold = %v, want > 0", threshold)
		}
	})
}

func TestMechanicalValidate(t *testing.T) {
	m := NewMechanical().WithStopwords([]string{"копия"})

	listings := []catalog.Listing{
		{AvitoItemID: 1, Title: "Продам копия часов", Price: 1000},
		{AvitoItemID: 2, Title: "Часы Rolex", Price: 10},
		{AvitoItemID: 3, Title: "Часы Rolex оригинал", Price: 50000},
	}

	outcomes := m.Validate(listings)
	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(outcomes))
	}

	if outcomes[0].Passed || outcomes[0].RejectionReason != string(RejectionStopwords) {
		t.Errorf("listing 1: got %+v, want stopwords rejection", outcomes[0])
	}
	if outcomes[1].Passed || outcomes[1].RejectionReason != string(RejectionPrice) {
		t.Errorf("listing 2: got %+v, want price rejection", outcomes[1])
	}
	if !outcomes[2].Passed {
		t.Errorf("listing 3: got %+v, want passed", outcomes[2])
	}
}

func TestMechanicalValidateEmpty(t *testing.T) {
	m := NewMechanical()
	if got := m.Validate(nil); got != nil {
		t.Errorf("Validate(nil) = %v, want nil", got)
	}
}
