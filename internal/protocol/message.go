// Package protocol implements the newline-delimited JSON wire format spoken
// between relay clients and the relay server.
package protocol

import (
	"time"

	"github.com/keypad-relay/keypad-relay-server/internal/models"
)

// MessageType is the value of the envelope "type" field
type MessageType string

const (
	TypeConnectEvent     MessageType = "connect_event"
	TypeVoteEvent        MessageType = "vote_event"
	TypeKeyEvent         MessageType = "key_event"
	TypeHDParamEvent     MessageType = "hd_param_event"
	TypeKeypadParamEvent MessageType = "keypad_param_event"
	TypeHeartbeat        MessageType = "heartbeat"
	TypePing             MessageType = "ping"
	TypePong             MessageType = "pong"
	TypeCommand          MessageType = "command"
)

// Action is a server to client command
type Action string

const (
	ActionStartVote Action = "start_vote"
	ActionStopVote  Action = "stop_vote"
	ActionResetVote Action = "reset_vote"

	ActionReadHDParam      Action = "read_hd_param"
	ActionWriteHDParam     Action = "write_hd_param"
	ActionReadKeypadParam  Action = "read_keypad_param"
	ActionWriteKeypadParam Action = "write_keypad_param"
)

// Valid reports whether a is a known command action
func (a Action) Valid() bool {
	return a.IsVote() || a.IsParam()
}

// IsVote reports whether a drives a vote session
func (a Action) IsVote() bool {
	switch a {
	case ActionStartVote, ActionStopVote, ActionResetVote:
		return true
	}
	return false
}

// IsParam reports whether a reads or writes a device parameter. The device
// answers with an hd_param_event or keypad_param_event.
func (a Action) IsParam() bool {
	switch a {
	case ActionReadHDParam, ActionWriteHDParam, ActionReadKeypadParam, ActionWriteKeypadParam:
		return true
	}
	return false
}

// Message is one decoded protocol message. The set of implementations is
// closed; dispatch sites switch over the concrete types.
type Message interface {
	Type() MessageType
	isMessage()
}

// ConnectEvent relays a device connect callback
type ConnectEvent struct{ Data models.ConnectEvent }

// VoteEvent relays a vote callback
type VoteEvent struct{ Data models.VoteEvent }

// KeyEvent relays a key press
type KeyEvent struct{ Data models.KeypadEvent }

// HDParamEvent relays a hardware parameter callback
type HDParamEvent struct{ Data models.HDParamEvent }

// KeypadParamEvent relays a keypad parameter callback
type KeypadParamEvent struct{ Data models.KeypadParamEvent }

// Heartbeat is an optional client liveness message; data is ignored
type Heartbeat struct{ Timestamp float64 }

// Ping is the server liveness check
type Ping struct{ Timestamp float64 }

// Pong answers a ping
type Pong struct{ Timestamp float64 }

// CommandParams are the parameters of a command. VoteType and Config are
// sent as null for actions that do not use them. The parameter fields are
// only present on parameter actions.
type CommandParams struct {
	BaseID   int     `json:"base_id"`
	VoteType *int    `json:"vote_type"`
	Config   *string `json:"config"`

	Mode  *int    `json:"mode,omitempty"`
	KeyID *int    `json:"key_id,omitempty"`
	KeySN *string `json:"key_sn,omitempty"`
	Value *string `json:"value,omitempty"`
}

// ParamRequest addresses one device parameter. KeyID and KeySN select the
// keypad for keypad parameters; Value is only sent by write actions.
type ParamRequest struct {
	Mode  int    `json:"mode"`
	KeyID int    `json:"key_id"`
	KeySN string `json:"key_sn"`
	Value string `json:"value"`
}

// Command is pushed by the server to drive a vote session or query the device
type Command struct {
	Action Action
	Params CommandParams
}

// Unknown carries a well-formed message whose type is not recognized
type Unknown struct{ Kind MessageType }

func (ConnectEvent) Type() MessageType     { return TypeConnectEvent }
func (VoteEvent) Type() MessageType        { return TypeVoteEvent }
func (KeyEvent) Type() MessageType         { return TypeKeyEvent }
func (HDParamEvent) Type() MessageType     { return TypeHDParamEvent }
func (KeypadParamEvent) Type() MessageType { return TypeKeypadParamEvent }
func (Heartbeat) Type() MessageType        { return TypeHeartbeat }
func (Ping) Type() MessageType             { return TypePing }
func (Pong) Type() MessageType             { return TypePong }
func (Command) Type() MessageType          { return TypeCommand }
func (u Unknown) Type() MessageType        { return u.Kind }

func (ConnectEvent) isMessage()     {}
func (VoteEvent) isMessage()        {}
func (KeyEvent) isMessage()         {}
func (HDParamEvent) isMessage()     {}
func (KeypadParamEvent) isMessage() {}
func (Heartbeat) isMessage()        {}
func (Ping) isMessage()             {}
func (Pong) isMessage()             {}
func (Command) isMessage()          {}
func (Unknown) isMessage()          {}

// NewCommand builds a vote command. Only start_vote carries the vote type
// and configuration string; stop_vote and reset_vote send nulls and the
// client applies its own defaults.
func NewCommand(action Action, baseID, voteType int, config string) Command {
	cmd := Command{Action: action, Params: CommandParams{BaseID: baseID}}
	if action == ActionStartVote {
		vt, cfg := voteType, config
		cmd.Params.VoteType = &vt
		cmd.Params.Config = &cfg
	}
	return cmd
}

// NewParamCommand builds a parameter read or write command
func NewParamCommand(action Action, baseID int, req ParamRequest) Command {
	mode := req.Mode
	cmd := Command{Action: action, Params: CommandParams{BaseID: baseID, Mode: &mode}}

	if action == ActionReadKeypadParam || action == ActionWriteKeypadParam {
		keyID, keySN := req.KeyID, req.KeySN
		cmd.Params.KeyID = &keyID
		cmd.Params.KeySN = &keySN
	}
	if action == ActionWriteHDParam || action == ActionWriteKeypadParam {
		value := req.Value
		cmd.Params.Value = &value
	}
	return cmd
}

// Now returns the current time as fractional unix seconds
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// EndpointFor returns the backend ingestion endpoint name for an event type,
// or "" if the type is not an event.
func EndpointFor(t MessageType) string {
	switch t {
	case TypeConnectEvent:
		return "connect-events"
	case TypeVoteEvent:
		return "vote-events"
	case TypeKeyEvent:
		return "key-events"
	case TypeHDParamEvent:
		return "hd-param-events"
	case TypeKeypadParamEvent:
		return "keypad-param-events"
	}
	return ""
}

// Payload returns the event body of m, or nil if m is not an event
func Payload(m Message) interface{} {
	switch v := m.(type) {
	case ConnectEvent:
		return v.Data
	case VoteEvent:
		return v.Data
	case KeyEvent:
		return v.Data
	case HDParamEvent:
		return v.Data
	case KeypadParamEvent:
		return v.Data
	}
	return nil
}
