package wire

import (
	"encoding/json"
	"fmt"
)

// JSON is the default schema: flat text objects discriminated by a
// "method" key, snake_case field names, opaque payloads embedded as raw
// JSON. Unknown keys are ignored on decode; absent optional payloads are
// omitted on encode.
type JSON struct{}

const (
	methodConnect      = "connect"
	methodCreate       = "create"
	methodJoin         = "join"
	methodAction       = "action"
	methodDiff         = "diff"
	methodGenericError = "generic_error"
)

// envelope is the superset of all message fields. Pointers distinguish
// absent keys from zero values so required-field checks stay exact, and
// omitempty keeps encodings minimal. Options and Data are captured raw in
// the single envelope pass and re-emitted byte-for-byte, never reparsed.
type envelope struct {
	Method        string          `json:"method"`
	CorrelationID *string         `json:"correlation_id,omitempty"`
	PlayerID      *uint64         `json:"p_id,omitempty"`
	LobbyType     *string         `json:"type,omitempty"`
	LobbyID       *string         `json:"id,omitempty"`
	Options       json.RawMessage `json:"options,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Success       *bool           `json:"success,omitempty"`
	Finished      *bool           `json:"finished,omitempty"`
	Description   *string         `json:"description,omitempty"`
}

// Form reports Text: JSON frames are UTF-8.
func (JSON) Form() Form { return Text }

func (JSON) EncodeInput(in Input) ([]byte, error) {
	var env envelope
	switch m := in.(type) {
	case Connect:
		env.Method = methodConnect
		env.CorrelationID = &m.CorrelationID
		env.PlayerID = &m.PlayerID
	case Create:
		env.Method = methodCreate
		env.CorrelationID = &m.CorrelationID
		env.LobbyType = &m.LobbyType
		env.LobbyID = &m.LobbyID
		if len(m.Options) > 0 {
			env.Options = json.RawMessage(m.Options)
		}
	case Join:
		env.Method = methodJoin
		env.CorrelationID = &m.CorrelationID
		env.LobbyType = &m.LobbyType
		env.LobbyID = &m.LobbyID
	case Action:
		env.Method = methodAction
		env.LobbyType = &m.LobbyType
		env.LobbyID = &m.LobbyID
		if len(m.Data) > 0 {
			env.Data = json.RawMessage(m.Data)
		}
	default:
		return nil, fmt.Errorf("encode input %T: %w", in, ErrUnknownMethod)
	}
	return json.Marshal(env)
}

func (JSON) DecodeInput(data []byte) (Input, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode input envelope: %w", err)
	}
	switch env.Method {
	case methodConnect:
		if env.CorrelationID == nil || env.PlayerID == nil {
			return nil, fmt.Errorf("connect: %w", ErrMissingField)
		}
		return Connect{CorrelationID: *env.CorrelationID, PlayerID: *env.PlayerID}, nil
	case methodCreate:
		if env.CorrelationID == nil || env.LobbyType == nil || env.LobbyID == nil {
			return nil, fmt.Errorf("create: %w", ErrMissingField)
		}
		return Create{
			CorrelationID: *env.CorrelationID,
			LobbyType:     *env.LobbyType,
			LobbyID:       *env.LobbyID,
			Options:       env.Options,
		}, nil
	case methodJoin:
		if env.CorrelationID == nil || env.LobbyType == nil || env.LobbyID == nil {
			return nil, fmt.Errorf("join: %w", ErrMissingField)
		}
		return Join{
			CorrelationID: *env.CorrelationID,
			LobbyType:     *env.LobbyType,
			LobbyID:       *env.LobbyID,
		}, nil
	case methodAction:
		if env.LobbyType == nil || env.LobbyID == nil {
			return nil, fmt.Errorf("action: %w", ErrMissingField)
		}
		return Action{
			LobbyType: *env.LobbyType,
			LobbyID:   *env.LobbyID,
			Data:      env.Data,
		}, nil
	case "":
		return nil, fmt.Errorf("input: %w", ErrMissingField)
	default:
		return nil, fmt.Errorf("input method %q: %w", env.Method, ErrUnknownMethod)
	}
}

func (JSON) EncodeOutput(out Output) ([]byte, error) {
	var env envelope
	switch m := out.(type) {
	case ConnectAck:
		env.Method = methodConnect
		env.CorrelationID = &m.CorrelationID
		env.Success = &m.Success
	case CreateAck:
		env.Method = methodCreate
		env.CorrelationID = &m.CorrelationID
		env.Success = &m.Success
	case JoinAck:
		env.Method = methodJoin
		env.CorrelationID = &m.CorrelationID
		env.Success = &m.Success
	case Diff:
		env.Method = methodDiff
		env.LobbyType = &m.LobbyType
		env.LobbyID = &m.LobbyID
		env.Finished = &m.Finished
		if len(m.Data) > 0 {
			env.Data = json.RawMessage(m.Data)
		}
	case GenericError:
		env.Method = methodGenericError
		env.Description = &m.Description
	default:
		return nil, fmt.Errorf("encode output %T: %w", out, ErrUnknownMethod)
	}
	return json.Marshal(env)
}

func (JSON) DecodeOutput(data []byte) (Output, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode output envelope: %w", err)
	}
	switch env.Method {
	case methodConnect:
		if env.CorrelationID == nil || env.Success == nil {
			return nil, fmt.Errorf("connect ack: %w", ErrMissingField)
		}
		return ConnectAck{CorrelationID: *env.CorrelationID, Success: *env.Success}, nil
	case methodCreate:
		if env.CorrelationID == nil || env.Success == nil {
			return nil, fmt.Errorf("create ack: %w", ErrMissingField)
		}
		return CreateAck{CorrelationID: *env.CorrelationID, Success: *env.Success}, nil
	case methodJoin:
		if env.CorrelationID == nil || env.Success == nil {
			return nil, fmt.Errorf("join ack: %w", ErrMissingField)
		}
		return JoinAck{CorrelationID: *env.CorrelationID, Success: *env.Success}, nil
	case methodDiff:
		if env.LobbyType == nil || env.LobbyID == nil || env.Finished == nil {
			return nil, fmt.Errorf("diff: %w", ErrMissingField)
		}
		return Diff{
			LobbyType: *env.LobbyType,
			LobbyID:   *env.LobbyID,
			Finished:  *env.Finished,
			Data:      env.Data,
		}, nil
	case methodGenericError:
		if env.Description == nil {
			return nil, fmt.Errorf("generic error: %w", ErrMissingField)
		}
		return GenericError{Description: *env.Description}, nil
	case "":
		return nil, fmt.Errorf("output: %w", ErrMissingField)
	default:
		return nil, fmt.Errorf("output method %q: %w", env.Method, ErrUnknownMethod)
	}
}

func (JSON) MarshalPayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) UnmarshalPayload(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
