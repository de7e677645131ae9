package service

import "testing"

func TestTextFilter(t *testing.T) {
	tests := []struct {
		name  string
		terms []string
		in    string
		want  string
	}{
		{"basic", []string{"curse"}, "this is a curse word", "this is a *** word"},
		{"case insensitive", []string{"curse"}, "CURSE you, Curse", "*** you, ***"},
		{"inside word", []string{"curse"}, "accursed", "ac***d"},
		{"longest first", []string{"curse", "cursed"}, "cursed", "***"},
		{"regex chars are literal", []string{"a.b"}, "axb a.b", "axb ***"},
		{"no terms", nil, "curse", "curse"},
		{"blank terms ignored", []string{" ", ""}, "curse", "curse"},
		{"defaults", []string{"slur1", "slur2", "curse"}, "slur1 and SLUR2", "*** and ***"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewTextFilter(tt.terms, "***")
			if got := f.Apply(tt.in); got != tt.want {
				t.Errorf("Apply(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if f.Contains(f.Apply(tt.in)) {
				t.Errorf("filtered text still contains a term")
			}
		})
	}
}
