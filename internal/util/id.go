package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewContentID returns the publishing identity for a guide or topic.
// It is assigned once at first persistence and never reassigned.
func NewContentID() string {
	return uuid.NewString()
}
