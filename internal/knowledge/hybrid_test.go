package knowledge

import "testing"

func TestNormalizeScore(t *testing.T) {
	cases := []struct {
		in   float32
		want float64
	}{
		{1, 1},
		{-1, 0},
		{0, 0.5},
	}
	for _, c := range cases {
		if got := normalizeScore(c.in); got != c.want {
			t.Errorf("normalizeScore(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
