package types

// Event is the flat, wire-friendly form of a committed ledger event. The
// websocket stream and the Kafka publisher ship this shape.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

