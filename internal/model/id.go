package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string for use as a job identifier. ULIDs sort
// lexicographically by creation time, which the queue relies on for its
// oldest-first claim order.
func NewID() string {
	return ulid.Make().String()
}
