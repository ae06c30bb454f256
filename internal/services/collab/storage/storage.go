// Package storage defines the persistence contracts for rooms and their
// append-only event log.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/louisbranch/drawroom/internal/services/collab/canvas"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// Room is the latest reconciled snapshot of one canvas plus its metadata.
type Room struct {
	Name     string
	Elements canvas.Elements
	// Creator is the pseudonym of the first authenticated visitor.
	Creator   string
	Consumer  string
	CourseID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoomMetadata carries the optional room attributes set outside of
// reconciliation.
type RoomMetadata struct {
	Creator  string
	Consumer string
	CourseID string
}

// LogRecord is one accepted event. Records are never rewritten; their ids
// grow with insertion order.
type LogRecord struct {
	ID            int64
	RoomName      string
	EventType     string
	UserPseudonym string
	CreatedAt     time.Time
	Content       json.RawMessage
}

// RoomStore persists room snapshots.
type RoomStore interface {
	// GetOrCreateRoom returns the room, creating an empty one when missing.
	// created reports whether this call created it.
	GetOrCreateRoom(ctx context.Context, name string) (room Room, created bool, err error)
	// GetRoom returns ErrNotFound when the room does not exist.
	GetRoom(ctx context.Context, name string) (Room, error)
	// PutRoomElements replaces the whole element snapshot of a room,
	// creating the room when needed.
	PutRoomElements(ctx context.Context, name string, elements canvas.Elements) error
	// SetRoomMetadata fills metadata fields that are still empty.
	SetRoomMetadata(ctx context.Context, name string, metadata RoomMetadata) error
}

// LogStore persists the append-only event log.
type LogStore interface {
	AppendLogRecord(ctx context.Context, record LogRecord) (int64, error)
	// AppendLogRecords appends records atomically in slice order.
	AppendLogRecords(ctx context.Context, records []LogRecord) error
	// ListLogRecordIDs returns a room's record ids in ascending order.
	ListLogRecordIDs(ctx context.Context, roomName string) ([]int64, error)
	GetLogRecord(ctx context.Context, id int64) (LogRecord, error)
}

// Store combines both contracts behind one closable backend.
type Store interface {
	RoomStore
	LogStore
	Close() error
}
