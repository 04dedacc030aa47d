package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	tests := []struct {
		in   string
		def  int
		want int
	}{
		{"42", 0, 42},
		{"", 10, 10},
		{"x", 5, 5},
		{"-3", 1, -3},
	}
	for _, tt := range tests {
		if got := AtoiDefault(tt.in, tt.def); got != tt.want {
			t.Errorf("AtoiDefault(%q, %d) = %d, want %d", tt.in, tt.def, got, tt.want)
		}
	}
}

func TestClampPage(t *testing.T) {
	tests := []struct {
		page, size, max    int
		wantPage, wantSize int
	}{
		{0, 0, 100, 1, 1},
		{2, 50, 100, 2, 50},
		{1, 500, 100, 1, 100},
		{-1, -1, 100, 1, 1},
	}
	for _, tt := range tests {
		p, s := ClampPage(tt.page, tt.size, tt.max)
		if p != tt.wantPage || s != tt.wantSize {
			t.Errorf("ClampPage(%d,%d,%d) = %d,%d; want %d,%d", tt.page, tt.size, tt.max, p, s, tt.wantPage, tt.wantSize)
		}
	}
}
