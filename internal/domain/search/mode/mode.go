package mode

// Mode is the ranking strategy a query ended up using.
type Mode string

// Retrieval mode constants.
const (
	// Hybrid intersects the structured candidate set with semantic neighbours.
	Hybrid Mode = "hybrid"
	// Structured orders the structured candidate set by recency.
	Structured Mode = "structured"
)

// IsValid checks if the mode is one of the supported values.
func (m Mode) IsValid() bool {
	return m == Hybrid || m == Structured
}
