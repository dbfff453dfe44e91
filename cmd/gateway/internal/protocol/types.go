package protocol

const (
	ActionSubscribe = "subscribe"
)

// ClientRequest is a control message sent by a subscriber. Only Action is
// interpreted; the remaining fields are accepted for clients that send them.
type ClientRequest struct {
	Action   string   `json:"action"`
	Symbols  []string `json:"symbols,omitempty"`
	Exchange string   `json:"exchange,omitempty"`
	ID       string   `json:"id,omitempty"`
}
