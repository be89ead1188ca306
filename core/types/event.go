package types

// Event represents a typed notification emitted during sale state
// transitions.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
