package core

import "github.com/google/uuid"

// NewID returns a fresh random identifier, used for task ids and for the
// per-batch trigger correlation id.
func NewID() string {
	return uuid.NewString()
}
