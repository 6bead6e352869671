// Package wire defines the envelope messages exchanged between lobby
// servers and clients, and the Schema codec that frames them for a
// transport. The envelope never interprets game payloads: lobby options,
// player actions and state deltas travel as opaque bytes produced and
// consumed by the endpoints.
package wire

import "errors"

// Form selects the frame kind a schema expects on the transport.
type Form int

const (
	// Text frames carry UTF-8 payloads (e.g. JSON).
	Text Form = iota
	// Binary frames carry raw bytes.
	Binary
)

// Schema encodes and decodes envelope messages and user payloads. Both
// endpoints of a deployment must be constructed with the same schema.
// Implementations must be safe for concurrent use.
type Schema interface {
	// Form reports the transport framing this schema produces.
	Form() Form

	EncodeInput(Input) ([]byte, error)
	DecodeInput([]byte) (Input, error)
	EncodeOutput(Output) ([]byte, error)
	DecodeOutput([]byte) (Output, error)

	// MarshalPayload serializes a user value (lobby options, an action or
	// a delta) for embedding in an envelope.
	MarshalPayload(v any) ([]byte, error)
	// UnmarshalPayload decodes payload bytes into v. Empty input leaves v
	// untouched.
	UnmarshalPayload(data []byte, v any) error
}

// Sentinel decode errors, matched with errors.Is.
var (
	ErrUnknownMethod = errors.New("wire: unknown method")
	ErrMissingField  = errors.New("wire: missing required field")
)

// Input is a client-to-server envelope message.
type Input interface{ isInput() }

// Output is a server-to-client envelope message.
type Output interface{ isOutput() }

// Connect opens a session for a player id. It must be the first message
// on every connection; the server binds the player identity to the
// connection here, and every later input on it is attributed to that
// player. No other input message carries a player id.
type Connect struct {
	CorrelationID string
	PlayerID      uint64
}

// Create asks the server to start a new lobby of the given type under
// lobby id, with the sender as its first member. Options carries the
// lobby construction payload.
type Create struct {
	CorrelationID string
	LobbyType     string
	LobbyID       string
	Options       []byte
}

// Join subscribes the sender to an existing lobby.
type Join struct {
	CorrelationID string
	LobbyType     string
	LobbyID       string
}

// Action carries one player input for a lobby. Actions are
// fire-and-forget and carry no correlation id; Data may be empty.
type Action struct {
	LobbyType string
	LobbyID   string
	Data      []byte
}

func (Connect) isInput() {}
func (Create) isInput()  {}
func (Join) isInput()    {}
func (Action) isInput()  {}

// ConnectAck answers a Connect.
type ConnectAck struct {
	CorrelationID string
	Success       bool
}

// CreateAck answers a Create. Success is false when the lobby type is
// unknown, the lobby id is already live, or the options were malformed.
type CreateAck struct {
	CorrelationID string
	Success       bool
}

// JoinAck answers a Join. Success is false when the lobby type or id is
// unknown.
type JoinAck struct {
	CorrelationID string
	Success       bool
}

// Diff is an authoritative state delta pushed to a lobby member. When
// Finished is set the lobby has terminated and Data is empty; a terminal
// delta, if any, travels in its own preceding Diff.
type Diff struct {
	LobbyType string
	LobbyID   string
	Finished  bool
	Data      []byte
}

// GenericError reports a request the server could not act on without
// tearing the session down.
type GenericError struct {
	Description string
}

func (ConnectAck) isOutput()   {}
func (CreateAck) isOutput()    {}
func (JoinAck) isOutput()      {}
func (Diff) isOutput()         {}
func (GenericError) isOutput() {}
