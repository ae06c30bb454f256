package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/louisbranch/drawroom/internal/platform/storage/sqlmigrate"
	"github.com/louisbranch/drawroom/internal/services/collab/canvas"
	"github.com/louisbranch/drawroom/internal/services/collab/storage"
	"github.com/louisbranch/drawroom/internal/services/collab/storage/postgres/migrations"
)

// Store provides PostgreSQL-backed room and event log persistence.
type Store struct {
	pool  *pgxpool.Pool
	sqlDB *sql.DB
	now   func() time.Time
}

// Open connects to url and applies migrations.
func Open(ctx context.Context, url string) (*Store, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("postgres url is required")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	if err := sqlmigrate.Apply(ctx, sqlDB, sqlmigrate.Postgres, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{pool: pool, sqlDB: sqlDB, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	err := s.sqlDB.Close()
	s.pool.Close()
	return err
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.pool == nil {
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

	now := s.now()
	tag, err := s.pool.Exec(ctx, `
INSERT INTO rooms (name, elements, created_at, updated_at)
VALUES ($1, '[]', $2, $2)
ON CONFLICT (name) DO NOTHING
`, name, now)
	if err != nil {
		return storage.Room{}, false, fmt.Errorf("create room: %w", err)
	}

	room, err := s.GetRoom(ctx, name)
	if err != nil {
		return storage.Room{}, false, err
	}
	return room, tag.RowsAffected() > 0, nil
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
		room     storage.Room
		elements string
	)
	err = s.pool.QueryRow(ctx, `
SELECT name, elements::text, creator, consumer, course_id, created_at, updated_at
FROM rooms
WHERE name = $1
`, name).Scan(&room.Name, &elements, &room.Creator, &room.Consumer, &room.CourseID, &room.CreatedAt, &room.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Room{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Room{}, fmt.Errorf("get room: %w", err)
	}
	room.Elements, err = canvas.ParseElements([]byte(elements))
	if err != nil {
		return storage.Room{}, fmt.Errorf("decode room %s elements: %w", name, err)
	}
	room.CreatedAt = room.CreatedAt.UTC()
	room.UpdatedAt = room.UpdatedAt.UTC()
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

	if _, err := s.pool.Exec(ctx, `
INSERT INTO rooms (name, elements, created_at, updated_at)
VALUES ($1, $2::text::json, $3, $3)
ON CONFLICT (name) DO UPDATE SET
	elements = EXCLUDED.elements,
	updated_at = EXCLUDED.updated_at
`, name, string(encoded), s.now()); err != nil {
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

	tag, err := s.pool.Exec(ctx, `
UPDATE rooms SET
	creator = CASE WHEN creator = '' THEN $1 ELSE creator END,
	consumer = CASE WHEN consumer = '' THEN $2 ELSE consumer END,
	course_id = CASE WHEN course_id = '' THEN $3 ELSE course_id END
WHERE name = $4
`, strings.TrimSpace(metadata.Creator), strings.TrimSpace(metadata.Consumer), strings.TrimSpace(metadata.CourseID), name)
	if err != nil {
		return fmt.Errorf("set room metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const insertLogRecordSQL = `
INSERT INTO log_records (room_name, event_type, user_pseudonym, created_at, content)
VALUES ($1, $2, $3, $4, $5::text::json)
RETURNING id
`

// AppendLogRecord inserts one record and returns its id.
func (s *Store) AppendLogRecord(ctx context.Context, record storage.LogRecord) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	record, err := storage.NormalizeLogRecord(record, s.now())
	if err != nil {
		return 0, err
	}
	var id int64
	if err := s.pool.QueryRow(ctx, insertLogRecordSQL, logRecordArgs(record)...).Scan(&id); err != nil {
		return 0, fmt.Errorf("append log record: %w", err)
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
	batch := &pgx.Batch{}
	for i, record := range records {
		record, err := storage.NormalizeLogRecord(record, now)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		batch.Queue(insertLogRecordSQL, logRecordArgs(record)...)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin log append: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	results := tx.SendBatch(ctx, batch)
	for range records {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("append log record: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close log append batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit log append: %w", err)
	}
	return nil
}

// ListLogRecordIDs returns a room's record ids in insertion order.
func (s *Store) ListLogRecordIDs(ctx context.Context, roomName string) ([]int64, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
SELECT id FROM log_records
WHERE room_name = $1
ORDER BY id ASC
`, strings.TrimSpace(roomName))
	if err != nil {
		return nil, fmt.Errorf("list log record ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect log record ids: %w", err)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

// GetLogRecord loads one record by id.
func (s *Store) GetLogRecord(ctx context.Context, id int64) (storage.LogRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.LogRecord{}, err
	}
	var (
		record  storage.LogRecord
		content string
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, room_name, event_type, user_pseudonym, created_at, content::text
FROM log_records
WHERE id = $1
`, id).Scan(&record.ID, &record.RoomName, &record.EventType, &record.UserPseudonym, &record.CreatedAt, &content)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.LogRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.LogRecord{}, fmt.Errorf("get log record: %w", err)
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.Content = json.RawMessage(content)
	return record, nil
}

func logRecordArgs(record storage.LogRecord) []any {
	return []any{
		record.RoomName,
		record.EventType,
		record.UserPseudonym,
		record.CreatedAt,
		string(record.Content),
	}
}

var _ storage.Store = (*Store)(nil)
