package core

// TurnInput is one utterance submitted by a chat front end.
type TurnInput struct {
	// Utterance is the raw user text for this turn.
	Utterance string `json:"utterance"`

	// RequestID is echoed back on the matching TurnResult so asynchronous
	// front ends can correlate replies. Optional.
	RequestID string `json:"request_id,omitempty"`
}
