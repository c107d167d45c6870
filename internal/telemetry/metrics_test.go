package telemetry

import "testing"

func TestAll_ReturnsEveryCollector(t *testing.T) {
	collectors := All()
	if len(collectors) != 10 {
		t.Fatalf("got %d collectors, want 10", len(collectors))
	}
	for i, c := range collectors {
		if c == nil {
			t.Errorf("collector at index %d is nil", i)
		}
	}
}

func TestNewMetricsRegistry_RegistersWithoutPanicking(t *testing.T) {
	reg := NewMetricsRegistry(All()...)
	if reg == nil {
		t.Fatal("NewMetricsRegistry returned nil")
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least one registered metric family")
	}
}

func TestNewLogger_JSONAndText(t *testing.T) {
	for _, format := range []string{"json", "text", "unknown"} {
		logger := NewLogger(format, "info")
		if logger == nil {
			t.Errorf("NewLogger(%q, \"info\") returned nil", format)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level string
		want  string
	}{
		{"debug", "DEBUG"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"info", "INFO"},
		{"bogus", "INFO"},
		{"", "INFO"},
	}
	for _, tt := range tests {
		got := parseLevel(tt.level)
		if got.String() != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
