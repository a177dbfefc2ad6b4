package triple

import "github.com/google/uuid"

// GenerateExternalID returns a fresh external id suitable for
// NewEntityID, used when an insert omits an explicit id (spec.md §6
// "Id defaulting").
func GenerateExternalID() string {
	return uuid.NewString()
}
