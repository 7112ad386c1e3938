package utils

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"  Chest   PAIN\n", 0, "chest pain"},
		{"can’t breathe", 0, "can't breathe"},
		{"बुखार १०४", 0, "बुखार 104"},
		{"abcdef", 3, "abc"},
		{"", 10, ""},
	}
	for _, c := range cases {
		if got := Normalize(c.in, c.max); got != c.want {
			t.Errorf("Normalize(%q, %d) = %q, want %q", c.in, c.max, got, c.want)
		}
	}
}

func TestTokenizeKeepsCombiningMarks(t *testing.T) {
	got := Tokenize(Normalize("मुझे सिरदर्द है!", 0))
	want := []string{"मुझे", "सिरदर्द", "है"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tokenize = %q, want %q", got, want)
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	if got := Truncate("नमस्ते", 2); got != "नम" {
		t.Fatalf("Truncate = %q", got)
	}
	if got := Truncate("hi", 10); got != "hi" {
		t.Fatalf("Truncate = %q", got)
	}
}
