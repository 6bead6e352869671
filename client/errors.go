package client

import "errors"

// Sentinel errors, matched with errors.Is.
var (
	// ErrTimeout resolves requests whose reply never arrived in time.
	ErrTimeout = errors.New("client: reply timed out")
	// ErrClosed reports an operation on a closed client.
	ErrClosed = errors.New("client: connection closed")
	// ErrNotConnected reports a lobby operation before Connect succeeded.
	ErrNotConnected = errors.New("client: not connected")
	// ErrConnectRefused reports a ConnectAck with success false.
	ErrConnectRefused = errors.New("client: connect refused")
	// ErrCreateRefused reports a CreateAck with success false.
	ErrCreateRefused = errors.New("client: create refused")
	// ErrJoinRefused reports a JoinAck with success false.
	ErrJoinRefused = errors.New("client: join refused")
	// ErrLobbyTracked reports a create or join for a lobby this client
	// already mirrors.
	ErrLobbyTracked = errors.New("client: lobby already tracked")
)
