// Package model defines the core data types shared across the scheduling
// daemon: jobs, runs, and the events that describe their lifecycle.
package model

import (
	"github.com/google/uuid"
)

// NewID returns a fresh time-ordered identifier (UUID version 7). Run IDs,
// job IDs, and run-handle keys are all drawn from this space so that
// listings sorted by ID are also sorted by creation time.
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the system entropy source is broken;
		// fall back to a random v4 rather than panic the daemon.
		return uuid.New()
	}
	return id
}

// ParseID parses s as a UUID. It is used at the HTTP/CLI boundary to decide
// whether a job identifier string names an ID or a job name (§6 of the
// design: "if the supplied string parses as a UUID, look up by id").
func ParseID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

// IsUUID reports whether s parses as a UUID of any version. Job names are
// rejected if they happen to look like a UUID, since that would make the
// identifier-resolution rule at the HTTP boundary ambiguous.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
