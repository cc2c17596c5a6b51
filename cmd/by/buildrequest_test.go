package main

import "testing"

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"42", "1000"})
	if err != nil {
		t.Fatalf("parseIDs() error: %v", err)
	}
	if len(ids) != 2 || ids[0] != 42 || ids[1] != 1000 {
		t.Errorf("parseIDs() = %v, want [42 1000]", ids)
	}
}

func TestParseIDs_Bad(t *testing.T) {
	if _, err := parseIDs([]string{"42", "abc"}); err == nil {
		t.Fatal("parseIDs() expected error for non-numeric id")
	}
}
