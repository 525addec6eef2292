package models

import (
	"time"
)

// DeviceStatus represents the connection status of a base
type DeviceStatus string

const (
	DeviceStatusConnected    DeviceStatus = "connected"
	DeviceStatusConnecting   DeviceStatus = "connecting"
	DeviceStatusDisconnected DeviceStatus = "disconnected"
)

// StatusFromInfo maps the vendor connect info code onto a device status
func StatusFromInfo(info string) DeviceStatus {
	switch info {
	case "1":
		return DeviceStatusConnected
	case "2":
		return DeviceStatusConnecting
	default:
		return DeviceStatusDisconnected
	}
}

// Device represents a base unit known to the backend
type Device struct {
	BaseID    int          `json:"base_id" db:"base_id"`
	Mode      int          `json:"mode" db:"mode"`
	Info      string       `json:"info" db:"info"`
	Status    DeviceStatus `json:"status" db:"status"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// ApplyConnect updates the device from a connect event
func (d *Device) ApplyConnect(mode int, info string, at time.Time) {
	d.Mode = mode
	d.Info = info
	d.Status = StatusFromInfo(info)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = at
	}
	d.UpdatedAt = at
}
