// Package storagetest holds a behavioral suite every collab storage backend
// must pass, plus an in-memory backend for tests of higher layers.
package storagetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/louisbranch/drawroom/internal/services/collab/canvas"
	"github.com/louisbranch/drawroom/internal/services/collab/storage"
)

// RunConformance exercises a backend through the storage contracts. open
// must return an empty store; the suite does not close it.
func RunConformance(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Helper()

	t.Run("get or create room", func(t *testing.T) {
		testGetOrCreateRoom(t, open(t))
	})
	t.Run("put room elements", func(t *testing.T) {
		testPutRoomElements(t, open(t))
	})
	t.Run("room metadata", func(t *testing.T) {
		testRoomMetadata(t, open(t))
	})
	t.Run("log records in insertion order", func(t *testing.T) {
		testLogOrder(t, open(t))
	})
	t.Run("log record round trip", func(t *testing.T) {
		testLogRecordFields(t, open(t))
	})
	t.Run("missing records", func(t *testing.T) {
		testNotFound(t, open(t))
	})
}

func testGetOrCreateRoom(t *testing.T, store storage.Store) {
	ctx := context.Background()

	room, created, err := store.GetOrCreateRoom(ctx, "room-a")
	if err != nil {
		t.Fatalf("get or create room: %v", err)
	}
	if !created {
		t.Fatal("first call should create the room")
	}
	if room.Name != "room-a" {
		t.Fatalf("room name = %q, want %q", room.Name, "room-a")
	}
	if len(room.Elements) != 0 {
		t.Fatalf("new room elements = %d, want 0", len(room.Elements))
	}

	_, created, err = store.GetOrCreateRoom(ctx, "room-a")
	if err != nil {
		t.Fatalf("get or create room again: %v", err)
	}
	if created {
		t.Fatal("second call should not create the room")
	}

	if _, _, err := store.GetOrCreateRoom(ctx, "  "); err == nil {
		t.Fatal("expected error for blank room name")
	}
}

func testPutRoomElements(t *testing.T, store storage.Store) {
	ctx := context.Background()

	elements, err := canvas.ParseElements([]byte(`[{"id":"A","version":2,"type":"ellipse"},{"id":"B","version":1}]`))
	if err != nil {
		t.Fatalf("parse elements: %v", err)
	}
	if err := store.PutRoomElements(ctx, "room-put", elements); err != nil {
		t.Fatalf("put room elements on missing room: %v", err)
	}

	room, created, err := store.GetOrCreateRoom(ctx, "room-put")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if created {
		t.Fatal("put should have created the room")
	}
	assertElementsJSON(t, room.Elements, `[{"id":"A","version":2,"type":"ellipse"},{"id":"B","version":1}]`)

	replacement, err := canvas.ParseElements([]byte(`[{"id":"A","version":3}]`))
	if err != nil {
		t.Fatalf("parse replacement: %v", err)
	}
	if err := store.PutRoomElements(ctx, "room-put", replacement); err != nil {
		t.Fatalf("replace room elements: %v", err)
	}
	room, err = store.GetRoom(ctx, "room-put")
	if err != nil {
		t.Fatalf("get room after replace: %v", err)
	}
	assertElementsJSON(t, room.Elements, `[{"id":"A","version":3}]`)
	if room.UpdatedAt.Before(room.CreatedAt) {
		t.Fatalf("updated at %v before created at %v", room.UpdatedAt, room.CreatedAt)
	}
}

func testRoomMetadata(t *testing.T, store storage.Store) {
	ctx := context.Background()

	if _, _, err := store.GetOrCreateRoom(ctx, "room-meta"); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if err := store.SetRoomMetadata(ctx, "room-meta", storage.RoomMetadata{Creator: "first", Consumer: "lms-1"}); err != nil {
		t.Fatalf("set metadata: %v", err)
	}
	if err := store.SetRoomMetadata(ctx, "room-meta", storage.RoomMetadata{Creator: "second", CourseID: "course-9"}); err != nil {
		t.Fatalf("set metadata again: %v", err)
	}

	room, err := store.GetRoom(ctx, "room-meta")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	want := storage.RoomMetadata{Creator: "first", Consumer: "lms-1", CourseID: "course-9"}
	got := storage.RoomMetadata{Creator: room.Creator, Consumer: room.Consumer, CourseID: room.CourseID}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("metadata mismatch (-want +got):\n%s", diff)
	}

	if err := store.SetRoomMetadata(ctx, "room-missing", storage.RoomMetadata{Creator: "x"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("set metadata on missing room err = %v, want ErrNotFound", err)
	}
}

func testLogOrder(t *testing.T, store storage.Store) {
	ctx := context.Background()
	base := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	first, err := store.AppendLogRecord(ctx, storage.LogRecord{
		RoomName:  "room-log",
		EventType: canvas.EventElementsChanged,
		CreatedAt: base.Add(time.Hour),
		Content:   json.RawMessage(`[{"id":"A","version":1}]`),
	})
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	if err := store.AppendLogRecords(ctx, []storage.LogRecord{
		{RoomName: "room-log", EventType: canvas.EventCollaboratorChange, UserPseudonym: "p1", CreatedAt: base, Content: json.RawMessage(`{"pointer":{"x":1}}`)},
		{RoomName: "room-log", EventType: canvas.EventCollaboratorChange, UserPseudonym: "p1", CreatedAt: base.Add(-time.Hour), Content: json.RawMessage(`{"pointer":{"x":2}}`)},
	}); err != nil {
		t.Fatalf("append batch: %v", err)
	}
	if _, err := store.AppendLogRecord(ctx, storage.LogRecord{RoomName: "room-other", EventType: canvas.EventFullSync}); err != nil {
		t.Fatalf("append other room: %v", err)
	}

	ids, err := store.ListLogRecordIDs(ctx, "room-log")
	if err != nil {
		t.Fatalf("list ids: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("ids = %v, want 3 entries", ids)
	}
	if ids[0] != first {
		t.Fatalf("first id = %d, want %d", ids[0], first)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("ids not ascending: %v", ids)
		}
	}

	second, err := store.GetLogRecord(ctx, ids[1])
	if err != nil {
		t.Fatalf("get second: %v", err)
	}
	if string(second.Content) != `{"pointer":{"x":1}}` {
		t.Fatalf("second content = %s", second.Content)
	}

	empty, err := store.ListLogRecordIDs(ctx, "room-none")
	if err != nil {
		t.Fatalf("list empty room: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("empty room ids = %v", empty)
	}

	if err := store.AppendLogRecords(ctx, nil); err != nil {
		t.Fatalf("append empty batch: %v", err)
	}
	if err := store.AppendLogRecords(ctx, []storage.LogRecord{
		{RoomName: "room-log", EventType: canvas.EventFullSync},
		{RoomName: "", EventType: canvas.EventFullSync},
	}); err == nil {
		t.Fatal("expected invalid batch to fail")
	}
	after, err := store.ListLogRecordIDs(ctx, "room-log")
	if err != nil {
		t.Fatalf("list after invalid batch: %v", err)
	}
	if len(after) != 3 {
		t.Fatalf("invalid batch was partially written: %v", after)
	}
}

func testLogRecordFields(t *testing.T, store storage.Store) {
	ctx := context.Background()
	at := time.Date(2026, 2, 14, 8, 30, 15, 250_000_000, time.UTC)

	id, err := store.AppendLogRecord(ctx, storage.LogRecord{
		RoomName:      "room-fields",
		EventType:     canvas.EventCollaboratorChange,
		UserPseudonym: "pseudo",
		CreatedAt:     at,
		Content:       json.RawMessage(`{"button":"down"}`),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	record, err := store.GetLogRecord(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.ID != id || record.RoomName != "room-fields" || record.EventType != canvas.EventCollaboratorChange || record.UserPseudonym != "pseudo" {
		t.Fatalf("record = %+v", record)
	}
	if !record.CreatedAt.Equal(at) {
		t.Fatalf("created at = %v, want %v", record.CreatedAt, at)
	}
	var content map[string]string
	if err := json.Unmarshal(record.Content, &content); err != nil {
		t.Fatalf("decode content: %v", err)
	}
	if content["button"] != "down" {
		t.Fatalf("content = %s", record.Content)
	}
}

func testNotFound(t *testing.T, store storage.Store) {
	ctx := context.Background()
	if _, err := store.GetRoom(ctx, "nowhere"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get missing room err = %v, want ErrNotFound", err)
	}
	if _, err := store.GetLogRecord(ctx, 987654); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get missing record err = %v, want ErrNotFound", err)
	}
}

func assertElementsJSON(t *testing.T, elements canvas.Elements, want string) {
	t.Helper()
	got, err := json.Marshal(elements)
	if err != nil {
		t.Fatalf("marshal elements: %v", err)
	}
	var gotValue, wantValue any
	if err := json.Unmarshal(got, &gotValue); err != nil {
		t.Fatalf("decode got: %v", err)
	}
	if err := json.Unmarshal([]byte(want), &wantValue); err != nil {
		t.Fatalf("decode want: %v", err)
	}
	if diff := cmp.Diff(wantValue, gotValue); diff != "" {
		t.Fatalf("elements mismatch (-want +got):\n%s", diff)
	}
}
