package types

import "time"

// Association relationship types used by the turn orchestrator.
const (
	// AssociationRelatesTo links a memorygram to a memory that informed it.
	AssociationRelatesTo = "RELATES_TO"

	// AssociationExperienceOf links a chat's Experience node to the
	// memorygrams produced by a turn in that chat.
	AssociationExperienceOf = "EXPERIENCE_OF"
)

// Association is a weighted directed edge between two memorygrams. At most one
// active edge exists per (FromID, ToID, Type); re-creating an edge updates its
// weight (last write wins) rather than duplicating it.
//
// Weight is deliberately unbounded: callers may use any range they like and the
// store does not validate it.
type Association struct {
	ID        string    `json:"id"`         // Unique identifier (format: assoc:uuid)
	FromID    string    `json:"from_id"`    // Source memorygram ID
	ToID      string    `json:"to_id"`      // Target memorygram ID
	Type      string    `json:"type"`       // Relationship type (e.g. "RELATES_TO")
	Weight    float64   `json:"weight"`     // Edge weight, last write wins
	CreatedAt time.Time `json:"created_at"` // Creation timestamp
	UpdatedAt time.Time `json:"updated_at"` // Last weight update timestamp
	Active    bool      `json:"active"`     // False when administratively disabled
}
