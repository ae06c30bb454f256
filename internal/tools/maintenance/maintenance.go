// Package maintenance implements operator commands for the collab service:
// probing its health endpoint and dumping a room's event log or snapshot.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/drawroom/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/drawroom/internal/platform/grpc"
	"github.com/louisbranch/drawroom/internal/platform/timeouts"
	"github.com/louisbranch/drawroom/internal/services/collab/canvas"
	"github.com/louisbranch/drawroom/internal/services/collab/storage"
	"github.com/louisbranch/drawroom/internal/services/collab/storage/backend"
	"go.uber.org/zap"
)

// Commands accepted as the first positional argument.
const (
	CommandHealth   = "health"
	CommandExport   = "export"
	CommandSnapshot = "snapshot"
)

// Config holds maintenance command configuration.
type Config struct {
	Command     string
	Room        string
	Rooms       string
	GRPCAddr    string        `env:"COLLAB_GRPC_ADDR"             envDefault:"localhost:8091"`
	Store       string        `env:"COLLAB_STORE"                 envDefault:"sqlite"`
	DBPath      string        `env:"COLLAB_DB_PATH"               envDefault:"data/collab.db"`
	PostgresURL string        `env:"COLLAB_POSTGRES_URL"`
	Timeout     time.Duration `env:"MAINTENANCE_TIMEOUT"          envDefault:"1m"`
}

// ParseConfig parses environment and flags into a Config. The command is
// the first positional argument.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Room, "room", "", "room to export or snapshot")
	fs.StringVar(&cfg.Rooms, "rooms", "", "comma-separated rooms to export or snapshot")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "collab gRPC health address")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "storage backend: sqlite or postgres")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "sqlite database path")
	fs.StringVar(&cfg.PostgresURL, "postgres-url", cfg.PostgresURL, "postgres connection URL")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.Command = strings.TrimSpace(fs.Arg(0))
	return cfg, nil
}

// Run executes the configured command, writing results to out.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}

	switch cfg.Command {
	case CommandHealth:
		return runHealth(ctx, nil, cfg.GRPCAddr, out)
	case CommandExport, CommandSnapshot:
		rooms, err := resolveRooms(cfg.Room, cfg.Rooms)
		if err != nil {
			return err
		}
		store, err := backend.Open(ctx, backend.Config{
			Kind:        cfg.Store,
			DBPath:      cfg.DBPath,
			PostgresURL: cfg.PostgresURL,
		})
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				fmt.Fprintf(errOut, "Error: close store: %v\n", closeErr)
			}
		}()
		if cfg.Command == CommandExport {
			return runExport(ctx, store, rooms, out)
		}
		return runSnapshot(ctx, store, rooms, out)
	case "":
		return errors.New("command is required: health, export or snapshot")
	default:
		return fmt.Errorf("unknown command %q", cfg.Command)
	}
}

func runHealth(ctx context.Context, dialer platformgrpc.Dialer, addr string, out io.Writer) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return errors.New("-grpc-addr is required")
	}
	conn, err := platformgrpc.DialWithHealth(ctx, dialer, addr, timeouts.GRPCDial, zap.NewNop(), platformgrpc.DefaultClientDialOptions()...)
	if err != nil {
		return fmt.Errorf("check health of %s: %w", addr, err)
	}
	defer conn.Close()
	fmt.Fprintf(out, "%s SERVING\n", addr)
	return nil
}

// exportRecord is one line of an export.
type exportRecord struct {
	ID            int64           `json:"id"`
	RoomName      string          `json:"room_name"`
	EventType     string          `json:"eventtype"`
	UserPseudonym string          `json:"user_pseudonym"`
	CreatedAt     time.Time       `json:"created_at"`
	Content       json.RawMessage `json:"content"`
}

// runExport writes every log record of each room as one JSON line, in
// insertion order.
func runExport(ctx context.Context, store storage.LogStore, rooms []string, out io.Writer) error {
	encoder := json.NewEncoder(out)
	for _, room := range rooms {
		ids, err := store.ListLogRecordIDs(ctx, room)
		if err != nil {
			return fmt.Errorf("list log records for %s: %w", room, err)
		}
		for _, id := range ids {
			record, err := store.GetLogRecord(ctx, id)
			if err != nil {
				return fmt.Errorf("get log record %d: %w", id, err)
			}
			if err := encoder.Encode(exportRecord{
				ID:            record.ID,
				RoomName:      record.RoomName,
				EventType:     record.EventType,
				UserPseudonym: record.UserPseudonym,
				CreatedAt:     record.CreatedAt.UTC(),
				Content:       record.Content,
			}); err != nil {
				return fmt.Errorf("write log record %d: %w", id, err)
			}
		}
	}
	return nil
}

type snapshotReport struct {
	Room      string          `json:"room"`
	Creator   string          `json:"creator,omitempty"`
	Consumer  string          `json:"consumer,omitempty"`
	CourseID  string          `json:"course_id,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
	Elements  canvas.Elements `json:"elements"`
}

// runSnapshot writes the persisted snapshot of each room as one JSON line.
func runSnapshot(ctx context.Context, store storage.RoomStore, rooms []string, out io.Writer) error {
	encoder := json.NewEncoder(out)
	for _, name := range rooms {
		room, err := store.GetRoom(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("room %s does not exist", name)
		}
		if err != nil {
			return fmt.Errorf("get room %s: %w", name, err)
		}
		if err := encoder.Encode(snapshotReport{
			Room:      room.Name,
			Creator:   room.Creator,
			Consumer:  room.Consumer,
			CourseID:  room.CourseID,
			UpdatedAt: room.UpdatedAt.UTC(),
			Elements:  room.Elements,
		}); err != nil {
			return fmt.Errorf("write room %s: %w", name, err)
		}
	}
	return nil
}

func resolveRooms(single, list string) ([]string, error) {
	single = strings.TrimSpace(single)
	if single == "" && strings.TrimSpace(list) == "" {
		return nil, fmt.Errorf("-room or -rooms is required")
	}
	if single != "" && strings.TrimSpace(list) != "" {
		return nil, fmt.Errorf("-room cannot be combined with -rooms")
	}
	if single != "" {
		return []string{single}, nil
	}
	rooms := splitCSV(list)
	if len(rooms) == 0 {
		return nil, fmt.Errorf("-rooms must contain at least one room")
	}
	return rooms, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	output := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		output = append(output, trimmed)
	}
	return output
}
