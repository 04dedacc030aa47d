package validate

import "testing"

func TestSimilarityIdentity(t *testing.T) {
	for _, s := range []string{"", "a", "maria silva", "12345678900"} {
		if got := Similarity(s, s); got != 1 {
			t.Errorf("Similarity(%q, %q) = %v, want 1", s, s, got)
		}
	}
}

func TestSimilaritySymmetry(t *testing.T) {
	pairs := [][2]string{
		{"maria silva", "maria da silva"},
		{"jose", "joao"},
		{"", "abc"},
		{"05/03/2012", "05/03/2021"},
	}
	for _, p := range pairs {
		ab, ba := Similarity(p[0], p[1]), Similarity(p[1], p[0])
		if ab != ba {
			t.Errorf("Similarity(%q,%q)=%v but reversed=%v", p[0], p[1], ab, ba)
		}
	}
}

func TestSimilarityRange(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"maria silva", "maria da silva", 0.75, 0.99},
		{"maria silva", "joao pedro", 0, 0.4},
		{"abc", "", 0, 0},
		{"", "abc", 0, 0},
	}
	for _, tt := range tests {
		got := Similarity(tt.a, tt.b)
		if got < tt.min || got > tt.max {
			t.Errorf("Similarity(%q,%q) = %v, want in [%v,%v]", tt.a, tt.b, got, tt.min, tt.max)
		}
	}
}

func TestSimilarityEditDistanceOverLongerLength(t *testing.T) {
	// "maria silva" vs "maria da silva": distance 3 over 14 runes.
	got := Similarity("maria silva", "maria da silva")
	want := 1 - 3.0/14
	if got < want-0.001 || got > want+0.001 {
		t.Errorf("Similarity = %v, want %v", got, want)
	}
}
