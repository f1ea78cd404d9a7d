package util

import "time"

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// TimePtr returns a pointer to t, or nil for the zero time.
func TimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// FalseIfNil dereferences b, treating nil as false.
func FalseIfNil(b *bool) bool {
	return b != nil && *b
}
