package util

import "github.com/google/uuid"

// NewID returns a random identifier suitable for primary keys.
func NewID() string {
	return uuid.NewString()
}
