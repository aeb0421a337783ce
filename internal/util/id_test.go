package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	a := NewID("view")
	b := NewID("view")
	if a == b {
		t.Fatal("ids must be unique")
	}
	if !strings.HasPrefix(a, "view_") || len(a) != len("view_")+32 {
		t.Fatalf("unexpected id %q", a)
	}
	if strings.Contains(NewID(""), "_") {
		t.Fatal("unprefixed id should have no separator")
	}
}
