package models

import "testing"

func TestFormatBaseUnits(t *testing.T) {
	cases := []struct {
		raw      string
		decimals int32
		want     string
	}{
		{"1500000", 6, "1.5"},
		{"1", 6, "0.000001"},
		{"0", 18, "0"},
		{"2500000000000000000", 18, "2.5"},
		{"42", 0, "42"},
	}
	for _, tc := range cases {
		got, err := FormatBaseUnits(tc.raw, tc.decimals)
		if err != nil {
			t.Fatalf("FormatBaseUnits(%q, %d): %v", tc.raw, tc.decimals, err)
		}
		if got != tc.want {
			t.Fatalf("FormatBaseUnits(%q, %d) = %q, want %q", tc.raw, tc.decimals, got, tc.want)
		}
	}
	if _, err := FormatBaseUnits("not-a-number", 6); err == nil {
		t.Fatal("expected error for malformed amount")
	}
}

func TestParseBaseUnits(t *testing.T) {
	got, err := ParseBaseUnits(" 1.5 ", 6)
	if err != nil {
		t.Fatalf("ParseBaseUnits: %v", err)
	}
	if got != "1500000" {
		t.Fatalf("expected 1500000, got %q", got)
	}
	got, err = ParseBaseUnits("42", 0)
	if err != nil {
		t.Fatalf("ParseBaseUnits: %v", err)
	}
	if got != "42" {
		t.Fatalf("expected 42, got %q", got)
	}
}

func TestParseBaseUnitsRejectsExcessPrecision(t *testing.T) {
	if _, err := ParseBaseUnits("1.2345678", 6); err == nil {
		t.Fatal("expected rejection of sub-unit precision")
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	raw, err := ParseBaseUnits("123.456", 9)
	if err != nil {
		t.Fatalf("ParseBaseUnits: %v", err)
	}
	display, err := FormatBaseUnits(raw, 9)
	if err != nil {
		t.Fatalf("FormatBaseUnits: %v", err)
	}
	if display != "123.456" {
		t.Fatalf("round trip changed amount: %q", display)
	}
}
