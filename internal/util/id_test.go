package util

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("edition")
	if !strings.HasPrefix(id, "edition_") {
		t.Fatalf("NewID() = %q, want edition_ prefix", id)
	}
	if len(id) != len("edition_")+32 {
		t.Fatalf("NewID() length = %d", len(id))
	}
	if NewID("") == NewID("") {
		t.Fatal("NewID() returned duplicate ids")
	}
}

func TestNewContentIDIsUUID(t *testing.T) {
	if _, err := uuid.Parse(NewContentID()); err != nil {
		t.Fatalf("NewContentID() is not a uuid: %v", err)
	}
}
