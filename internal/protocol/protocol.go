package protocol

import "encoding/json"

const Version = "1.0"

// Payload types carried inside a MessageHeader envelope.
const (
	TypeQuarantine     = "QUARANTINE"
	TypeHubInvoke      = "HUB_INVOKE"
	TypeSpokeInvoke    = "SPOKE_INVOKE"
	TypeHubResults     = "HUB_INVOCATION_RESULTS"
	TypeSpokeResults   = "SPOKE_INVOCATION_RESULTS"
	TypeChannelPublish = "CHANNEL_PUBLISH"
	TypeNodeLost       = "NODE_LOST"
)

// Node identifies a participant in the hub-and-spoke graph.
// The zero value is the null sentinel used inside quarantine.
type Node struct {
	Name string `json:"name"`
	Addr string `json:"addr,omitempty"`
}

var NullNode = Node{}

func (n Node) IsNull() bool { return n.Name == "" }

// MessageHeader wraps every frame exchanged with the hub.
// Inside quarantine From and To are the null sentinel.
type MessageHeader struct {
	From    Node            `json:"from"`
	To      Node            `json:"to"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func NewHeader(from, to Node, payloadType string, payload any) (MessageHeader, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return MessageHeader{}, err
	}
	return MessageHeader{From: from, To: to, Type: payloadType, Payload: b}, nil
}

func DecodeHeader(b []byte) (MessageHeader, error) {
	var h MessageHeader
	err := json.Unmarshal(b, &h)
	return h, err
}
