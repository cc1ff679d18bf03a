package utils

import (
	"github.com/google/uuid"
)

// GenerateID returns a new random entity identifier.
func GenerateID() string {
	return uuid.NewString()
}
