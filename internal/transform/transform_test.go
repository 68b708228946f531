package transform

import "testing"

func TestValid(t *testing.T) {
	cases := map[string]bool{
		"":              true,
		"identity":      true,
		"parse-int":     true,
		"parse-float":   true,
		"scale":         true,
		"trim":          true,
		"regex-extract": true,
		"eval":          false,
		"lambda":        false,
	}
	for name, want := range cases {
		if got := Valid(name); got != want {
			t.Errorf("Valid(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestApplyIdentityTrims(t *testing.T) {
	got, err := Apply("identity", "  42  \n", 0, "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got != "42" {
		t.Errorf("got %v, want \"42\"", got)
	}
}

func TestApplyParseInt(t *testing.T) {
	got, err := Apply("parse-int", "128\n", 0, "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got != int64(128) {
		t.Errorf("got %v, want 128", got)
	}
}

func TestApplyParseIntRejectsNonNumeric(t *testing.T) {
	if _, err := Apply("parse-int", "not-a-number", 0, ""); err == nil {
		t.Fatal("expected an error for non-numeric input")
	}
}

func TestApplyScale(t *testing.T) {
	got, err := Apply("scale", "10", 1.5, "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got != 15.0 {
		t.Errorf("got %v, want 15", got)
	}
}

func TestApplyRegexExtract(t *testing.T) {
	got, err := Apply("regex-extract", "temp=45.2C", 0, `temp=([\d.]+)`)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got != "45.2" {
		t.Errorf("got %v, want 45.2", got)
	}
}

func TestApplyRegexExtractNoMatch(t *testing.T) {
	if _, err := Apply("regex-extract", "nothing here", 0, `temp=([\d.]+)`); err == nil {
		t.Fatal("expected an error when the pattern doesn't match")
	}
}
