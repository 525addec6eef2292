package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrMalformed is returned for lines that are not valid UTF-8 JSON objects
var ErrMalformed = errors.New("malformed message")

type envelope struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	Action    Action          `json:"action,omitempty"`
	Params    *CommandParams  `json:"params,omitempty"`
}

// Decode parses one line (without the trailing newline).
// A missing or null data field decodes to the zero event.
func Decode(line []byte) (Message, error) {
	if !utf8.Valid(line) {
		return nil, fmt.Errorf("%w: invalid utf-8", ErrMalformed)
	}

	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	// Non-numeric timestamps on control messages are tolerated and read as zero.
	var ts float64
	if len(env.Timestamp) > 0 {
		_ = json.Unmarshal(env.Timestamp, &ts)
	}

	switch env.Type {
	case TypeConnectEvent:
		var m ConnectEvent
		if err := decodeData(env.Data, &m.Data); err != nil {
			return nil, err
		}
		return m, nil
	case TypeVoteEvent:
		var m VoteEvent
		if err := decodeData(env.Data, &m.Data); err != nil {
			return nil, err
		}
		return m, nil
	case TypeKeyEvent:
		var m KeyEvent
		if err := decodeData(env.Data, &m.Data); err != nil {
			return nil, err
		}
		return m, nil
	case TypeHDParamEvent:
		var m HDParamEvent
		if err := decodeData(env.Data, &m.Data); err != nil {
			return nil, err
		}
		return m, nil
	case TypeKeypadParamEvent:
		var m KeypadParamEvent
		if err := decodeData(env.Data, &m.Data); err != nil {
			return nil, err
		}
		return m, nil
	case TypeHeartbeat:
		return Heartbeat{Timestamp: ts}, nil
	case TypePing:
		return Ping{Timestamp: ts}, nil
	case TypePong:
		return Pong{Timestamp: ts}, nil
	case TypeCommand:
		cmd := Command{Action: env.Action}
		if env.Params != nil {
			cmd.Params = *env.Params
		}
		return cmd, nil
	default:
		return Unknown{Kind: env.Type}, nil
	}
}

func decodeData(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: data: %v", ErrMalformed, err)
	}
	return nil
}

// Encode renders m as one newline-terminated line
func Encode(m Message) ([]byte, error) {
	env := envelope{Type: m.Type()}

	switch v := m.(type) {
	case Heartbeat:
		env.Timestamp = timestamp(v.Timestamp)
	case Ping:
		env.Timestamp = timestamp(v.Timestamp)
	case Pong:
		env.Timestamp = timestamp(v.Timestamp)
	case Command:
		if !v.Action.Valid() {
			return nil, fmt.Errorf("encode command: unknown action %q", v.Action)
		}
		env.Action = v.Action
		params := v.Params
		env.Params = &params
	case Unknown:
		return nil, fmt.Errorf("encode: unknown message type %q", v.Kind)
	default:
		data, err := json.Marshal(Payload(m))
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
		}
		env.Data = data
	}

	line, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return append(line, '\n'), nil
}

func timestamp(ts float64) json.RawMessage {
	raw, _ := json.Marshal(ts)
	return raw
}
