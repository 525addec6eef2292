package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/keypad-relay/keypad-relay-server/internal/protocol"
)

func TestValidator_KeyEvent(t *testing.T) {
	t.Parallel()

	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"base_id":1,"key_id":5,"key_sn":"SN","mode":1,"timestamp":12.5,"info":"A","client_timestamp":"2024-01-01T10:00:00","event_type":"real_hardware"}`, false},
		{"missing key_id", `{"base_id":1,"mode":1,"event_type":"real_hardware"}`, true},
		{"null key_id", `{"base_id":1,"key_id":null,"mode":1,"event_type":"real_hardware"}`, true},
		{"string base_id", `{"base_id":"1","key_id":5,"mode":1,"event_type":"real_hardware"}`, true},
		{"empty event_type", `{"base_id":1,"key_id":5,"mode":1,"event_type":""}`, true},
		{"not json", `{"base_id":`, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(protocol.TypeKeyEvent, []byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var verr *Error
				if !errors.As(err, &verr) {
					t.Fatalf("expected *Error, got %T", err)
				}
			}
		})
	}
}

func TestValidator_ConnectEventRequiresMode(t *testing.T) {
	t.Parallel()

	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	if err := v.Validate(protocol.TypeConnectEvent, []byte(`{"base_id":1,"mode":2,"info":"1","timestamp":"2024-01-01T10:00:00"}`)); err != nil {
		t.Fatalf("valid connect event rejected: %v", err)
	}

	err = v.Validate(protocol.TypeConnectEvent, []byte(`{"base_id":1}`))
	if err == nil || !strings.Contains(err.Error(), "mode") {
		t.Fatalf("expected missing mode error, got %v", err)
	}
}

func TestValidator_UnknownKind(t *testing.T) {
	t.Parallel()

	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	if err := v.Validate(protocol.TypeHeartbeat, []byte(`{}`)); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}
