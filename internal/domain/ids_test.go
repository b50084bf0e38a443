package domain

import "testing"

func TestConvID_RoundTrip(t *testing.T) {
	ids := []string{
		"c1",
		"+5215512345678@s.whatsapp.net",
		"conv/with/slashes",
		"spaces and ümlauts",
		"100%legit",
	}
	for _, id := range ids {
		got := NormalizeConvID(EncodeConvID(id))
		if got != id {
			t.Errorf("round trip %q: got %q", id, got)
		}
	}
}

func TestNormalizeConvID_AlreadyDecoded(t *testing.T) {
	// A bad escape sequence must not destroy the ID.
	if got := NormalizeConvID("abc%zz"); got != "abc%zz" {
		t.Errorf("got %q, want input unchanged", got)
	}
	if got := NormalizeConvID("c%2B1"); got != "c+1" {
		t.Errorf("got %q, want %q", got, "c+1")
	}
}
