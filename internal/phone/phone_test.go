package phone

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"01012345678":    "+821012345678",
		"010-1234-5678":  "+821012345678",
		"+82 10 1234 5678": "+821012345678",
		"+821012345678":  "+821012345678",
		"821012345678":   "+821012345678",
		"1012345678":     "+821012345678",
	}
	for input, expect := range cases {
		got, err := Normalize(input, "82")
		if err != nil {
			t.Fatalf("Normalize(%q) error: %v", input, err)
		}
		if got != expect {
			t.Fatalf("Normalize(%q) = %q, want %q", input, got, expect)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	first, err := Normalize("01099998888", "82")
	if err != nil {
		t.Fatalf("normalize error: %v", err)
	}
	second, err := Normalize(first, "82")
	if err != nil {
		t.Fatalf("re-normalize error: %v", err)
	}
	if first != second {
		t.Fatalf("expected idempotence, got %q then %q", first, second)
	}
}

func TestDomesticRoundTrip(t *testing.T) {
	original := "01012345678"
	normalized, err := Normalize(original, "82")
	if err != nil {
		t.Fatalf("normalize error: %v", err)
	}
	if got := Domestic(normalized, "82"); got != original {
		t.Fatalf("expected round trip to %q, got %q", original, got)
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "   ", "abc", "+", "12345"} {
		if _, err := Normalize(input, "82"); err == nil {
			t.Fatalf("expected %q to be rejected", input)
		}
	}
}

func TestDomesticForeignNumber(t *testing.T) {
	if got := Domestic("+15551234567", "82"); got != "15551234567" {
		t.Fatalf("expected plus stripped, got %q", got)
	}
}
