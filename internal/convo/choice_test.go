package convo

import "testing"

func TestParseChoice(t *testing.T) {
	labels := []string{"Software engineer at Acme", "Barista at Beans"}

	tests := []struct {
		name  string
		reply string
		want  int
		ok    bool
	}{
		{"bare number", "2", 2, true},
		{"number with punctuation", "2.", 2, true},
		{"number in sentence", "let's do 1 please", 1, true},
		{"ordinal word", "the second one", 2, true},
		{"spelled-out number", "two", 2, true},
		{"fuzzy label match", "barista at beens", 2, true},
		{"out of range", "3", 0, false},
		{"zero", "0", 0, false},
		{"negative", "-1", 0, false},
		{"unrelated text", "tell me about the weather", 0, false},
		{"empty", "   ", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseChoice(tt.reply, labels)
			if ok != tt.ok || got != tt.want {
				t.Errorf("parseChoice(%q) = (%d, %v), want (%d, %v)", tt.reply, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParseChoice_EmptyLabels(t *testing.T) {
	if got, ok := parseChoice("1", nil); ok || got != 0 {
		t.Errorf("parseChoice with no labels = (%d, %v), want (0, false)", got, ok)
	}
}
