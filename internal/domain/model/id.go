package model

import "github.com/google/uuid"

// generateID returns a time-ordered UUIDv7 string so ledger rows sort by creation.
func generateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
