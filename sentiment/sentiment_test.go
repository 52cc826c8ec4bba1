package sentiment

import "testing"

// TestLabels verifies clearly valenced text maps to the expected label.
func TestLabels(t *testing.T) {
	a := New()
	tests := []struct {
		text string
		want string
	}{
		{"I love this, it's absolutely wonderful!", "positive"},
		{"This is terrible and I hate everything about it.", "negative"},
		{"The package arrived on a Tuesday.", "neutral"},
	}
	for _, tt := range tests {
		if got := a.Label(tt.text); got != tt.want {
			t.Errorf("Label(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

// TestLabelFor verifies the threshold boundaries.
func TestLabelFor(t *testing.T) {
	tests := []struct {
		compound float64
		want     string
	}{
		{0.05, "positive"},
		{0.049, "neutral"},
		{0, "neutral"},
		{-0.049, "neutral"},
		{-0.05, "negative"},
		{0.99, "positive"},
		{-0.99, "negative"},
	}
	for _, tt := range tests {
		if got := LabelFor(tt.compound); got != tt.want {
			t.Errorf("LabelFor(%v) = %q, want %q", tt.compound, got, tt.want)
		}
	}
}

// TestMemoization verifies repeat scoring hits the memo and Reset clears it.
func TestMemoization(t *testing.T) {
	a := New()

	first := a.Compound("what a fantastic day")
	second := a.Compound("what a fantastic day")
	if first != second {
		t.Errorf("memoized score differs: %v vs %v", first, second)
	}
	if got := a.MemoSize(); got != 1 {
		t.Errorf("MemoSize() = %d, want 1", got)
	}

	a.Compound("another text entirely")
	if got := a.MemoSize(); got != 2 {
		t.Errorf("MemoSize() = %d, want 2", got)
	}

	a.Reset()
	if got := a.MemoSize(); got != 0 {
		t.Errorf("MemoSize() after Reset = %d, want 0", got)
	}

	if got := a.Compound("what a fantastic day"); got != first {
		t.Errorf("score after Reset = %v, want %v; scoring must be deterministic", got, first)
	}
}
