package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		in   string
		def  int
		want int
	}{
		{"", 7, 7},
		{"42", 7, 42},
		{"-3", 7, -3},
		{"nope", 7, 7},
		{"4.2", 7, 7},
		{" 5", 7, 7}, // no trimming, parse fails
	}
	for _, tc := range cases {
		if got := AtoiDefault(tc.in, tc.def); got != tc.want {
			t.Errorf("AtoiDefault(%q, %d) = %d; want %d", tc.in, tc.def, got, tc.want)
		}
	}
}
