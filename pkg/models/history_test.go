package models

import (
	"reflect"
	"testing"
)

func TestNormalizeText(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Signed in", "signed in"},
		{"  Signed   in\t", "signed in"},
		{"SIGNED\nIN", "signed in"},
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := NormalizeText(tc.in); got != tc.want {
			t.Errorf("NormalizeText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeText_Idempotent(t *testing.T) {
	inputs := []string{"  Mixed   Case Entry ", "already normal", "TABS\tAND\nNEWLINES"}
	for _, in := range inputs {
		once := NormalizeText(in)
		if twice := NormalizeText(once); twice != once {
			t.Errorf("NormalizeText not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestMergeHistory_FirstSeenWins(t *testing.T) {
	history := []string{"Opened cart", "Signed in"}
	additions := []string{"signed  IN", "Checked out"}

	got := MergeHistory(history, additions)
	want := []string{"Opened cart", "Signed in", "Checked out"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MergeHistory = %v, want %v", got, want)
	}
}

func TestMergeHistory_Idempotent(t *testing.T) {
	history := []string{"step one"}
	additions := []string{"Step Two", "step one"}

	once := MergeHistory(history, additions)
	twice := MergeHistory(once, additions)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("second merge changed history: %v != %v", once, twice)
	}
}

func TestMergeHistory_DropsBlanks(t *testing.T) {
	got := MergeHistory(nil, []string{"", "   ", "real entry"})
	if len(got) != 1 || got[0] != "real entry" {
		t.Errorf("MergeHistory = %v, want [real entry]", got)
	}
}

func TestMergeHistory_DedupesExistingHistory(t *testing.T) {
	got := MergeHistory([]string{"Same", "same", " SAME "}, nil)
	if len(got) != 1 || got[0] != "Same" {
		t.Errorf("MergeHistory = %v, want [Same]", got)
	}
}
