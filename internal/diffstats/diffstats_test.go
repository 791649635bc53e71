package diffstats

import (
	"strings"
	"testing"
	"time"
)

func TestComputeIdentical(t *testing.T) {
	texts := []string{"", "a", "a\nb\nc", "line with é and 日本語\nsecond"}
	for _, text := range texts {
		if got := Compute(text, text); got != (Stats{}) {
			t.Errorf("Compute(%q, same) = %+v, want zero", text, got)
		}
	}
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name     string
		original string
		modified string
		want     Stats
	}{
		{"single line replaced", "a\nb\nc", "a\nx\nc", Stats{Added: 1, Removed: 1}},
		{"pure addition", "a\nc", "a\nb\nc", Stats{Added: 1, Removed: 0}},
		{"pure removal", "a\nb\nc", "a\nc", Stats{Added: 0, Removed: 1}},
		{"full rewrite", "a\nb", "x\ny\nz", Stats{Added: 3, Removed: 2}},
		{"empty to content", "", "a\nb", Stats{Added: 2, Removed: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compute(tt.original, tt.modified); got != tt.want {
				t.Errorf("Compute = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestComputeSizeGuard(t *testing.T) {
	big := strings.Repeat("line\n", 6000)
	other := strings.Repeat("other\n", 6000)

	start := time.Now()
	got := Compute(big, other)
	elapsed := time.Since(start)

	if got != (Stats{}) {
		t.Errorf("oversized input = %+v, want zero stats", got)
	}
	// The guard must short-circuit before building the 6000x6000 table.
	if elapsed > 100*time.Millisecond {
		t.Errorf("size guard did not short-circuit (took %v)", elapsed)
	}
}
