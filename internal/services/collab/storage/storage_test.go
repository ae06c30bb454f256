package storage

import (
	"testing"
	"time"
)

func TestNormalizeLogRecord(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	record, err := NormalizeLogRecord(LogRecord{RoomName: " room ", EventType: "full_sync"}, now)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if record.RoomName != "room" {
		t.Fatalf("room = %q, want %q", record.RoomName, "room")
	}
	if !record.CreatedAt.Equal(now) {
		t.Fatalf("created at = %v, want %v", record.CreatedAt, now)
	}
	if string(record.Content) != "null" {
		t.Fatalf("content = %s, want null", record.Content)
	}
}

func TestNormalizeLogRecordRejects(t *testing.T) {
	now := time.Now()
	if _, err := NormalizeLogRecord(LogRecord{EventType: "full_sync"}, now); err == nil {
		t.Fatal("expected error for empty room")
	}
	if _, err := NormalizeLogRecord(LogRecord{RoomName: "r", EventType: "save_room"}, now); err == nil {
		t.Fatal("expected error for unlogged event type")
	}
}

func TestNormalizeRoomName(t *testing.T) {
	if _, err := NormalizeRoomName("   "); err == nil {
		t.Fatal("expected error for blank room")
	}
	name, err := NormalizeRoomName(" lecture-1 ")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if name != "lecture-1" {
		t.Fatalf("name = %q", name)
	}
}
