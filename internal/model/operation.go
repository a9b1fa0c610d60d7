package model

import "time"

// Operation is a persisted record of a CLI command that mutated the catalog.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
}
