package protocol

const (
	ActionSubscribe      = "subscribe"
	ActionUnsubscribe    = "unsubscribe"
	ActionUnsubscribeAll = "unsubscribe_all"
	// ActionSetInterest declares the client's full desired ticker set in one
	// shot; the server diffs it against the previous declaration.
	ActionSetInterest = "set_interest"
)

// Server->client message types
const (
	TypeAck          = "ack"
	TypeError        = "error"
	TypePrice        = "price"
	TypeSnapshot     = "snapshot"
	TypeDelta        = "delta"
	TypeConnectivity = "connectivity"
)

type WSRequest struct {
	Action  string         `json:"action"`
	Payload RequestPayload `json:"payload"`
	ID      string         `json:"id,omitempty"`
}

type RequestPayload struct {
	Symbols []string `json:"symbols"`
}

type WSResponse struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`     // Matches request ID
	Status  string      `json:"status,omitempty"` // "success", "error"
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// DeltaPayload carries the portfolio movement flash.
type DeltaPayload struct {
	Direction string `json:"direction"` // "increased", "decreased", "unchanged"
	TTLMillis int64  `json:"ttl_ms"`    // suggested display lifetime
}

// ConnectivityPayload reports the upstream feed state.
type ConnectivityPayload struct {
	State string `json:"state"`
}
