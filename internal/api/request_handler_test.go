package api

import "testing"

func TestMustParseInt(t *testing.T) {
	tests := []struct {
		in         string
		defaultVal int
		want       int
	}{
		{"25", 50, 25},
		{"0", 50, 0},
		{"-10", 50, -10},
		{"", 50, 50},
		{"abc", 50, 50},
		{"12.5", 0, 0},
	}

	for _, tt := range tests {
		if got := mustParseInt(tt.in, tt.defaultVal); got != tt.want {
			t.Errorf("mustParseInt(%q, %d) = %d, want %d", tt.in, tt.defaultVal, got, tt.want)
		}
	}
}
