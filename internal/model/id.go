package model

import "github.com/oklog/ulid/v2"

// NewRunID generates a new ULID string for use as a run identifier.
func NewRunID() string {
	return ulid.Make().String()
}
