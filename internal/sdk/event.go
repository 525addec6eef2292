package sdk

import (
	"time"
	"unicode/utf8"

	"github.com/keypad-relay/keypad-relay-server/internal/protocol"
)

// Event is one decoded native callback
type Event interface {
	Kind() protocol.MessageType
	At() time.Time
}

// ConnectEvent reports a connection state change of a base
type ConnectEvent struct {
	BaseID     int
	Mode       int
	Info       string
	ReceivedAt time.Time
}

// VoteEvent reports a vote session state change
type VoteEvent struct {
	BaseID     int
	Mode       int
	Info       string
	ReceivedAt time.Time
}

// KeyEvent reports one key press
type KeyEvent struct {
	BaseID     int
	KeyID      int
	KeySN      string
	Mode       int
	Timestamp  float64
	Info       string
	ReceivedAt time.Time
}

// HDParamEvent reports base hardware parameters
type HDParamEvent struct {
	BaseID     int
	Mode       int
	Info       string
	ReceivedAt time.Time
}

// KeypadParamEvent reports parameters of one remote
type KeypadParamEvent struct {
	BaseID     int
	KeyID      int
	KeySN      string
	Mode       int
	Info       string
	ReceivedAt time.Time
}

func (ConnectEvent) Kind() protocol.MessageType     { return protocol.TypeConnectEvent }
func (VoteEvent) Kind() protocol.MessageType        { return protocol.TypeVoteEvent }
func (KeyEvent) Kind() protocol.MessageType         { return protocol.TypeKeyEvent }
func (HDParamEvent) Kind() protocol.MessageType     { return protocol.TypeHDParamEvent }
func (KeypadParamEvent) Kind() protocol.MessageType { return protocol.TypeKeypadParamEvent }

func (e ConnectEvent) At() time.Time     { return e.ReceivedAt }
func (e VoteEvent) At() time.Time        { return e.ReceivedAt }
func (e KeyEvent) At() time.Time         { return e.ReceivedAt }
func (e HDParamEvent) At() time.Time     { return e.ReceivedAt }
func (e KeypadParamEvent) At() time.Time { return e.ReceivedAt }

func decodeText(callback, field string, raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", &MalformedEventError{Callback: callback, Field: field, Raw: raw}
	}
	return string(raw), nil
}

// DecodeConnect decodes the connect callback arguments
func DecodeConnect(baseID, mode int, info []byte) (ConnectEvent, error) {
	s, err := decodeText("connect", "info", info)
	if err != nil {
		return ConnectEvent{}, err
	}
	return ConnectEvent{BaseID: baseID, Mode: mode, Info: s, ReceivedAt: time.Now()}, nil
}

// DecodeVote decodes the vote callback arguments
func DecodeVote(baseID, mode int, info []byte) (VoteEvent, error) {
	s, err := decodeText("vote", "info", info)
	if err != nil {
		return VoteEvent{}, err
	}
	return VoteEvent{BaseID: baseID, Mode: mode, Info: s, ReceivedAt: time.Now()}, nil
}

// DecodeKey decodes the key callback arguments
func DecodeKey(baseID, keyID int, keySN []byte, mode int, ts float64, info []byte) (KeyEvent, error) {
	sn, err := decodeText("key", "key_sn", keySN)
	if err != nil {
		return KeyEvent{}, err
	}
	s, err := decodeText("key", "info", info)
	if err != nil {
		return KeyEvent{}, err
	}
	return KeyEvent{
		BaseID:     baseID,
		KeyID:      keyID,
		KeySN:      sn,
		Mode:       mode,
		Timestamp:  ts,
		Info:       s,
		ReceivedAt: time.Now(),
	}, nil
}

// DecodeHDParam decodes the hardware parameter callback arguments
func DecodeHDParam(baseID, mode int, info []byte) (HDParamEvent, error) {
	s, err := decodeText("hd_param", "info", info)
	if err != nil {
		return HDParamEvent{}, err
	}
	return HDParamEvent{BaseID: baseID, Mode: mode, Info: s, ReceivedAt: time.Now()}, nil
}

// DecodeKeypadParam decodes the keypad parameter callback arguments
func DecodeKeypadParam(baseID, keyID int, keySN []byte, mode int, info []byte) (KeypadParamEvent, error) {
	sn, err := decodeText("keypad_param", "key_sn", keySN)
	if err != nil {
		return KeypadParamEvent{}, err
	}
	s, err := decodeText("keypad_param", "info", info)
	if err != nil {
		return KeypadParamEvent{}, err
	}
	return KeypadParamEvent{
		BaseID:     baseID,
		KeyID:      keyID,
		KeySN:      sn,
		Mode:       mode,
		Info:       s,
		ReceivedAt: time.Now(),
	}, nil
}
