package topic

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase passthrough", "general", "general"},
		{"uppercase folded", "Python", "python"},
		{"spaces to underscore", "New Topic", "new_topic"},
		{"punctuation to underscore", "New Topic!", "new_topic_"},
		{"mixed symbols", "C++ & Go", "c_____go"},
		{"digits kept", "vrp2024", "vrp2024"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got.String() != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"General Chat", "a-b.c", "ALL CAPS!!"}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once.String())
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}
