package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/drawroom/internal/services/collab/canvas"
)

// NormalizeLogRecord validates a record before insertion, trimming keys and
// filling the timestamp with now when absent.
func NormalizeLogRecord(record LogRecord, now time.Time) (LogRecord, error) {
	record.RoomName = strings.TrimSpace(record.RoomName)
	record.EventType = strings.TrimSpace(record.EventType)
	record.UserPseudonym = strings.TrimSpace(record.UserPseudonym)
	if record.RoomName == "" {
		return LogRecord{}, errors.New("room name is required")
	}
	if !canvas.IsLogged(record.EventType) {
		return LogRecord{}, fmt.Errorf("event type %q is not logged", record.EventType)
	}
	if len(record.Content) == 0 {
		record.Content = []byte("null")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.CreatedAt = record.CreatedAt.UTC()
	return record, nil
}

// NormalizeRoomName validates a room key.
func NormalizeRoomName(name string) (string, error) {
	name = canvas.NormalizeRoomName(name)
	if name == "" {
		return "", errors.New("room name is required")
	}
	return name, nil
}
