package main

import (
	"reflect"
	"testing"
)

func TestParseKey(t *testing.T) {
	got := parseKey("repo-a/file.txt/v3")
	want := []string{"repo-a", "file.txt", "v3"}
	if !reflect.DeepEqual([]string(got), want) {
		t.Fatalf("parseKey got %v want %v", got, want)
	}
}

func TestParseKeySingleComponent(t *testing.T) {
	got := parseKey("v1")
	want := []string{"v1"}
	if !reflect.DeepEqual([]string(got), want) {
		t.Fatalf("parseKey got %v want %v", got, want)
	}
}

func TestStringSlice(t *testing.T) {
	var s stringSlice
	if err := s.Set("a/v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("b/v2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if s.String() != "a/v1,b/v2" {
		t.Fatalf("String() got %q", s.String())
	}
}

func TestSplitLines(t *testing.T) {
	got := splitLines([]byte("one\ntwo\nthree"))
	want := []string{"one\n", "two\n", "three"}
	if len(got) != len(want) {
		t.Fatalf("splitLines len got %d want %d", len(got), len(want))
	}
	for i := range want {
		if string(got[i]) != want[i] {
			t.Fatalf("splitLines[%d] got %q want %q", i, got[i], want[i])
		}
	}
}

func TestSplitLinesTrailingNewline(t *testing.T) {
	got := splitLines([]byte("one\ntwo\n"))
	if len(got) != 2 {
		t.Fatalf("splitLines len got %d want 2", len(got))
	}
	if string(got[1]) != "two\n" {
		t.Fatalf("splitLines[1] got %q", got[1])
	}
}

func TestSplitLinesEmpty(t *testing.T) {
	if got := splitLines(nil); got != nil {
		t.Fatalf("splitLines(nil) got %v want nil", got)
	}
}
