package storagetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/louisbranch/drawroom/internal/services/collab/canvas"
	"github.com/louisbranch/drawroom/internal/services/collab/storage"
)

// MemoryStore is a map-backed storage.Store. Its exported error fields let
// tests inject backend failures.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	rooms   map[string]storage.Room
	records []storage.LogRecord
	nextID  int64
	puts    int

	// AppendErr, when set, fails every log append.
	AppendErr error
	// ListErr, when set, fails ListLogRecordIDs.
	ListErr error
	// RoomErr, when set, fails GetOrCreateRoom.
	RoomErr error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:   func() time.Time { return time.Now().UTC() },
		rooms: make(map[string]storage.Room),
	}
}

// PutCount reports how many times PutRoomElements wrote a snapshot.
func (s *MemoryStore) PutCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// Records returns a copy of every appended record in insertion order.
func (s *MemoryStore) Records() []storage.LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.LogRecord(nil), s.records...)
}

func (s *MemoryStore) GetOrCreateRoom(_ context.Context, name string) (storage.Room, bool, error) {
	name, err := storage.NormalizeRoomName(name)
	if err != nil {
		return storage.Room{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RoomErr != nil {
		return storage.Room{}, false, s.RoomErr
	}
	if room, ok := s.rooms[name]; ok {
		return cloneRoom(room), false, nil
	}
	now := s.now()
	room := storage.Room{Name: name, Elements: canvas.Elements{}, CreatedAt: now, UpdatedAt: now}
	s.rooms[name] = room
	return cloneRoom(room), true, nil
}

func (s *MemoryStore) GetRoom(_ context.Context, name string) (storage.Room, error) {
	name, err := storage.NormalizeRoomName(name)
	if err != nil {
		return storage.Room{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[name]
	if !ok {
		return storage.Room{}, storage.ErrNotFound
	}
	return cloneRoom(room), nil
}

func (s *MemoryStore) PutRoomElements(_ context.Context, name string, elements canvas.Elements) error {
	name, err := storage.NormalizeRoomName(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	room, ok := s.rooms[name]
	if !ok {
		room = storage.Room{Name: name, CreatedAt: now}
	}
	room.Elements = append(canvas.Elements{}, elements...)
	room.UpdatedAt = now
	s.rooms[name] = room
	s.puts++
	return nil
}

func (s *MemoryStore) SetRoomMetadata(_ context.Context, name string, metadata storage.RoomMetadata) error {
	name, err := storage.NormalizeRoomName(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[name]
	if !ok {
		return storage.ErrNotFound
	}
	if room.Creator == "" {
		room.Creator = metadata.Creator
	}
	if room.Consumer == "" {
		room.Consumer = metadata.Consumer
	}
	if room.CourseID == "" {
		room.CourseID = metadata.CourseID
	}
	s.rooms[name] = room
	return nil
}

func (s *MemoryStore) AppendLogRecord(ctx context.Context, record storage.LogRecord) (int64, error) {
	ids, err := s.append(ctx, []storage.LogRecord{record})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

func (s *MemoryStore) AppendLogRecords(ctx context.Context, records []storage.LogRecord) error {
	_, err := s.append(ctx, records)
	return err
}

func (s *MemoryStore) append(ctx context.Context, records []storage.LogRecord) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return nil, s.AppendErr
	}
	now := s.now()
	normalized := make([]storage.LogRecord, 0, len(records))
	for i, record := range records {
		record, err := storage.NormalizeLogRecord(record, now)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		normalized = append(normalized, record)
	}
	ids := make([]int64, 0, len(normalized))
	for _, record := range normalized {
		s.nextID++
		record.ID = s.nextID
		record.Content = append(json.RawMessage(nil), record.Content...)
		s.records = append(s.records, record)
		ids = append(ids, record.ID)
	}
	return ids, nil
}

func (s *MemoryStore) ListLogRecordIDs(_ context.Context, roomName string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	ids := make([]int64, 0)
	for _, record := range s.records {
		if record.RoomName == roomName {
			ids = append(ids, record.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) GetLogRecord(_ context.Context, id int64) (storage.LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.records {
		if record.ID == id {
			return record, nil
		}
	}
	return storage.LogRecord{}, storage.ErrNotFound
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneRoom(room storage.Room) storage.Room {
	room.Elements = append(canvas.Elements{}, room.Elements...)
	return room
}

var _ storage.Store = (*MemoryStore)(nil)
