package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/drawroom/internal/platform/storage/sqlmigrate"
	"github.com/louisbranch/drawroom/internal/services/collab/canvas"
	"github.com/louisbranch/drawroom/internal/services/collab/storage"
	"github.com/louisbranch/drawroom/internal/services/collab/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed room and event log persistence.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens a collab SQLite store, creating its directory when needed, and
// applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer connection; concurrent sessions queue in database/sql.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB, now: func() time.Time { return time.Now().UTC() }}
	if err := sqlmigrate.Apply(context.Background(), sqlDB, sqlmigrate.SQLite, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// GetOrCreateRoom returns the named room, inserting an empty one first when
// it does not exist.
func (s *Store) GetOrCreateRoom(ctx context.Context, name string) (storage.Room, bool, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Room{}, false, err
	}
	name, err := storage.NormalizeRoomName(name)
	if err != nil {
		return storage.Room{}, false, err
	}

	now := toMillis(s.now())
	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO rooms (name, elements, created_at, updated_at)
VALUES (?, '[]', ?, ?)
ON CONFLICT(name) DO NOTHING
`, name, now, now)
	if err != nil {
		return storage.Room{}, false, fmt.Errorf("create room: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return storage.Room{}, false, fmt.Errorf("create room rows affected: %w", err)
	}

	room, err := s.GetRoom(ctx, name)
	if err != nil {
		return storage.Room{}, false, err
	}
	return room, inserted > 0, nil
}

// GetRoom loads a room snapshot.
func (s *Store) GetRoom(ctx context.Context, name string) (storage.Room, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Room{}, err
	}
	name, err := storage.NormalizeRoomName(name)
	if err != nil {
		return storage.Room{}, err
	}

	var (
		room      storage.Room
		elements  string
		createdAt int64
		updatedAt int64
	)
	err = s.sqlDB.QueryRowContext(ctx, `
SELECT name, elements, creator, consumer, course_id, created_at, updated_at
FROM rooms
WHERE name = ?
`, name).Scan(&room.Name, &elements, &room.Creator, &room.Consumer, &room.CourseID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Room{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Room{}, fmt.Errorf("get room: %w", err)
	}
	room.Elements, err = canvas.ParseElements([]byte(elements))
	if err != nil {
		return storage.Room{}, fmt.Errorf("decode room %s elements: %w", name, err)
	}
	room.CreatedAt = fromMillis(createdAt)
	room.UpdatedAt = fromMillis(updatedAt)
	return room, nil
}

// PutRoomElements replaces a room's snapshot in a single statement.
func (s *Store) PutRoomElements(ctx context.Context, name string, elements canvas.Elements) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	name, err := storage.NormalizeRoomName(name)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(elements)
	if err != nil {
		return fmt.Errorf("encode room elements: %w", err)
	}

	now := toMillis(s.now())
	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO rooms (name, elements, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	elements = excluded.elements,
	updated_at = excluded.updated_at
`, name, string(encoded), now, now); err != nil {
		return fmt.Errorf("put room elements: %w", err)
	}
	return nil
}

// SetRoomMetadata fills metadata columns that are still empty.
func (s *Store) SetRoomMetadata(ctx context.Context, name string, metadata storage.RoomMetadata) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	name, err := storage.NormalizeRoomName(name)
	if err != nil {
		return err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE rooms SET
	creator = CASE WHEN creator = '' THEN ? ELSE creator END,
	consumer = CASE WHEN consumer = '' THEN ? ELSE consumer END,
	course_id = CASE WHEN course_id = '' THEN ? ELSE course_id END
WHERE name = ?
`, strings.TrimSpace(metadata.Creator), strings.TrimSpace(metadata.Consumer), strings.TrimSpace(metadata.CourseID), name)
	if err != nil {
		return fmt.Errorf("set room metadata: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set room metadata rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AppendLogRecord inserts one record and returns its id.
func (s *Store) AppendLogRecord(ctx context.Context, record storage.LogRecord) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	record, err := storage.NormalizeLogRecord(record, s.now())
	if err != nil {
		return 0, err
	}
	result, err := s.sqlDB.ExecContext(ctx, insertLogRecordSQL, logRecordArgs(record)...)
	if err != nil {
		return 0, fmt.Errorf("append log record: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append log record id: %w", err)
	}
	return id, nil
}

// AppendLogRecords inserts records in one transaction, in slice order.
func (s *Store) AppendLogRecords(ctx context.Context, records []storage.LogRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	now := s.now()
	normalized := make([]storage.LogRecord, 0, len(records))
	for i, record := range records {
		record, err := storage.NormalizeLogRecord(record, now)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		normalized = append(normalized, record)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin log append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertLogRecordSQL)
	if err != nil {
		return fmt.Errorf("prepare log append: %w", err)
	}
	defer stmt.Close()

	for _, record := range normalized {
		if _, err := stmt.ExecContext(ctx, logRecordArgs(record)...); err != nil {
			return fmt.Errorf("append log record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit log append: %w", err)
	}
	return nil
}

// ListLogRecordIDs returns a room's record ids in insertion order.
func (s *Store) ListLogRecordIDs(ctx context.Context, roomName string) ([]int64, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id FROM log_records
WHERE room_name = ?
ORDER BY id ASC
`, strings.TrimSpace(roomName))
	if err != nil {
		return nil, fmt.Errorf("list log record ids: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan log record id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log record ids: %w", err)
	}
	return ids, nil
}

// GetLogRecord loads one record by id.
func (s *Store) GetLogRecord(ctx context.Context, id int64) (storage.LogRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.LogRecord{}, err
	}
	var (
		record    storage.LogRecord
		createdAt int64
		content   string
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT id, room_name, event_type, user_pseudonym, created_at, content
FROM log_records
WHERE id = ?
`, id).Scan(&record.ID, &record.RoomName, &record.EventType, &record.UserPseudonym, &createdAt, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.LogRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.LogRecord{}, fmt.Errorf("get log record: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	record.Content = json.RawMessage(content)
	return record, nil
}

const insertLogRecordSQL = `
INSERT INTO log_records (room_name, event_type, user_pseudonym, created_at, content)
VALUES (?, ?, ?, ?, ?)
`

func logRecordArgs(record storage.LogRecord) []any {
	return []any{
		record.RoomName,
		record.EventType,
		record.UserPseudonym,
		toMillis(record.CreatedAt),
		string(record.Content),
	}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

var _ storage.Store = (*Store)(nil)
