package chat

import "time"

// Session captures a durable conversation bound to a persona. PersonaSlug
// may be empty, in which case turns fall back to the default persona.
// Summary is reserved for rolling context compression and is not populated
// by the current pipeline.
type Session struct {
	ID          string    `json:"id"`
	PersonaSlug string    `json:"personaSlug,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
