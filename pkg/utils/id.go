package utils

import (
	"github.com/google/uuid"
)

// GenerateResultID returns a fresh random identifier for a simulation result.
// The id doubles as the name of the run's working directory.
func GenerateResultID() string {
	return uuid.NewString()
}
