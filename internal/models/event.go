package models

import (
	"time"
)

// EventTypeRealHardware tags key events that originated from a physical keypress
const EventTypeRealHardware = "real_hardware"

// DeviceConnection identifies a physical base unit as reported by the connect callback
type DeviceConnection struct {
	BaseID int    `json:"base_id"`
	Mode   int    `json:"mode"`
	Info   string `json:"info"`
}

// Ready reports whether info matches the vendor ready code
func (d DeviceConnection) Ready(trigger string) bool {
	return d.Info == trigger
}

// ConnectEvent is a device connect/disconnect transition
type ConnectEvent struct {
	BaseID    int    `json:"base_id"`
	Mode      int    `json:"mode"`
	Info      string `json:"info"`
	Timestamp string `json:"timestamp"`
}

// VoteEvent is a vote session transition
type VoteEvent struct {
	BaseID    int    `json:"base_id"`
	Mode      int    `json:"mode"`
	Info      string `json:"info"`
	Timestamp string `json:"timestamp"`
}

// HDParamEvent carries base hardware parameters
type HDParamEvent struct {
	BaseID    int    `json:"base_id"`
	Mode      int    `json:"mode"`
	Info      string `json:"info"`
	Timestamp string `json:"timestamp"`
}

// KeypadParamEvent carries parameters of one remote
type KeypadParamEvent struct {
	BaseID    int    `json:"base_id"`
	KeyID     *int   `json:"key_id"`
	KeySN     string `json:"key_sn"`
	Mode      int    `json:"mode"`
	Info      string `json:"info"`
	Timestamp string `json:"timestamp"`
}

// KeypadEvent is one hardware key press.
// KeyID is a pointer so that a missing key id is distinguishable from key 0.
type KeypadEvent struct {
	BaseID          int     `json:"base_id"`
	KeyID           *int    `json:"key_id"`
	KeySN           string  `json:"key_sn"`
	Mode            int     `json:"mode"`
	SDKTimestamp    float64 `json:"timestamp"`
	Info            string  `json:"info"`
	ClientTimestamp string  `json:"client_timestamp"`
	EventType       string  `json:"event_type"`
}

// KeyEventRecord is a key event persisted by the relay server
type KeyEventRecord struct {
	ID              int64     `json:"id" db:"id"`
	ClientID        string    `json:"client_id" db:"client_id"`
	BaseID          int       `json:"base_id" db:"base_id"`
	RemoteID        int       `json:"remote_id" db:"remote_id"`
	KeySN           string    `json:"key_sn" db:"key_sn"`
	Mode            int       `json:"mode" db:"mode"`
	ResponseInfo    string    `json:"response_info" db:"response_info"`
	SDKTimestamp    float64   `json:"sdk_timestamp" db:"sdk_timestamp"`
	ClientTimestamp string    `json:"client_timestamp" db:"client_timestamp"`
	EventType       string    `json:"event_type" db:"event_type"`
	Sequence        int64     `json:"sequence" db:"sequence"`
	ReceivedAt      time.Time `json:"received_at" db:"received_at"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// NewKeyEventRecord builds the persisted row for a key event received from clientID
func NewKeyEventRecord(clientID string, seq int64, ev *KeypadEvent) *KeyEventRecord {
	rec := &KeyEventRecord{
		ClientID:        clientID,
		BaseID:          ev.BaseID,
		KeySN:           ev.KeySN,
		Mode:            ev.Mode,
		ResponseInfo:    ev.Info,
		SDKTimestamp:    ev.SDKTimestamp,
		ClientTimestamp: ev.ClientTimestamp,
		EventType:       ev.EventType,
		Sequence:        seq,
	}
	if ev.KeyID != nil {
		rec.RemoteID = *ev.KeyID
	}
	return rec
}

// StoredKeyEvent is a key event ingested by the backend
type StoredKeyEvent struct {
	BaseModel
	BaseID          int        `json:"base_id" db:"base_id"`
	KeyID           int        `json:"key_id" db:"key_id"`
	KeySN           string     `json:"key_sn" db:"key_sn"`
	Mode            int        `json:"mode" db:"mode"`
	SDKTimestamp    float64    `json:"timestamp" db:"sdk_timestamp"`
	Info            string     `json:"info" db:"info"`
	ClientTimestamp *time.Time `json:"client_timestamp,omitempty" db:"client_timestamp"`
	EventType       string     `json:"event_type" db:"event_type"`
	Source          string     `json:"source" db:"source"`
	Processed       bool       `json:"processed" db:"processed"`
}

// StoredConnectEvent is a connect event ingested by the backend
type StoredConnectEvent struct {
	BaseModel
	BaseID    int       `json:"base_id" db:"base_id"`
	Mode      int       `json:"mode" db:"mode"`
	Info      string    `json:"info" db:"info"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// StoredVoteEvent is a vote event ingested by the backend
type StoredVoteEvent struct {
	BaseModel
	BaseID    int       `json:"base_id" db:"base_id"`
	Mode      int       `json:"mode" db:"mode"`
	Info      string    `json:"info" db:"info"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// ParamKind distinguishes the two parameter event streams
type ParamKind string

const (
	ParamKindHD     ParamKind = "hd"
	ParamKindKeypad ParamKind = "keypad"
)

// StoredParamEvent is a hardware or keypad parameter event ingested by the backend
type StoredParamEvent struct {
	BaseModel
	Kind      ParamKind `json:"kind" db:"kind"`
	BaseID    int       `json:"base_id" db:"base_id"`
	KeyID     *int      `json:"key_id,omitempty" db:"key_id"`
	KeySN     string    `json:"key_sn,omitempty" db:"key_sn"`
	Mode      int       `json:"mode" db:"mode"`
	Info      string    `json:"info" db:"info"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}
