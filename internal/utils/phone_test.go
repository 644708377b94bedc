package utils

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"(555) 123-4567", "5551234567"},
		{"555.123.4567", "5551234567"},
		{"+1 555 123 4567", "5551234567"},
		{"15551234567", "5551234567"},
		{"5551234", "5551234"},
		{"", ""},
		{"ext. 12", "12"},
	}
	for _, tc := range cases {
		if got := NormalizePhone(tc.in); got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
