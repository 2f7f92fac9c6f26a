package protocol

import "encoding/json"

// RemoteMethodCall names a method on a registered remote endpoint.
type RemoteMethodCall struct {
	RemoteName string            `json:"remote_name"`
	Method     string            `json:"method"`
	Args       []json.RawMessage `json:"args,omitempty"`
}

// HubInvoke is a spoke calling a remote hosted on the hub.
type HubInvoke struct {
	MethodCallID     uint64           `json:"method_call_id"`
	NeedsReturnValue bool             `json:"needs_return_value"`
	Call             RemoteMethodCall `json:"call"`
}

// SpokeInvoke is the hub calling a remote hosted on a named spoke. It
// additionally carries the identity of the node that originated the call.
type SpokeInvoke struct {
	MethodCallID     uint64           `json:"method_call_id"`
	NeedsReturnValue bool             `json:"needs_return_value"`
	Call             RemoteMethodCall `json:"call"`
	Invoker          Node             `json:"invoker"`
}

// InvocationResults correlates a reply with its invoke via MethodCallID.
// Error is empty on success.
type InvocationResults struct {
	MethodCallID uint64          `json:"method_call_id"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
}

// ChannelPublish is a named multicast; the hub forwards it to every
// subscriber of the channel, including itself.
type ChannelPublish struct {
	Channel string            `json:"channel"`
	Method  string            `json:"method"`
	Args    []json.RawMessage `json:"args,omitempty"`
}

// NodeLost notifies remaining spokes that a node left the graph.
type NodeLost struct {
	Node   Node   `json:"node"`
	Reason string `json:"reason,omitempty"`
}

// Quarantine conversation payloads. The conversation is positional: each
// frame carries exactly one of these bodies, wrapped as TypeQuarantine.
type (
	// QuarantineName is frame 1 from the spoke.
	QuarantineName struct {
		Name string `json:"name"`
	}
	// QuarantineMAC is frame 2 from the spoke: its machine id.
	QuarantineMAC struct {
		MAC string `json:"mac"`
	}
	// QuarantineChallenge is the hub's challenge; nil Properties means no
	// challenge is made.
	QuarantineChallenge struct {
		Properties map[string]string `json:"properties"`
	}
	// QuarantineResponse is the spoke's answer, same shape as the challenge.
	QuarantineResponse struct {
		Properties map[string]string `json:"properties"`
	}
	// QuarantineVerdict is empty on success; on failure the spoke must ack
	// before the hub closes the connection.
	QuarantineVerdict struct {
		Error string `json:"error,omitempty"`
	}
	QuarantineErrorAck struct{}
	// QuarantineNames carries [uniqueName, serverName] on success.
	QuarantineNames struct {
		UniqueName string `json:"unique_name"`
		ServerName string `json:"server_name"`
	}
	// QuarantineAddrs carries [remoteAddr, serverAddr] as the hub sees them.
	QuarantineAddrs struct {
		RemoteAddr string `json:"remote_addr"`
		ServerAddr string `json:"server_addr"`
	}
)
