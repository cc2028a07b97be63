// Package utils provides utility functions for the application.
package utils

import "github.com/google/uuid"

func ToPtr[T any](v T) *T {
	return &v
}

func IsTrue(b *bool) bool {
	return b != nil && *b
}

// ParseUUID parses a string form UUID, rejecting malformed input
func ParseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
