package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BaseModel contains common fields for backend rows
type BaseModel struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Touch assigns an id and creation time if unset
func (b *BaseModel) Touch() {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
}

// timestampLayouts are accepted for ISO8601 timestamps posted by relay clients.
// Naive layouts (no offset) are interpreted as local time.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses an ISO8601 timestamp with or without a zone offset
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// FormatTimestamp renders t the way relay clients stamp events
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}
