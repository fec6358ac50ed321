package models

import "database/sql"

// Queries is the hand-written query layer shared by the protocol engine and
// the REST responders.
type Queries struct {
	db *sql.DB
}

// New creates a Queries over the given database handle.
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}
