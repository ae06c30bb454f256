package maintenance

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"net"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	platformgrpc "github.com/louisbranch/drawroom/internal/platform/grpc"
	"github.com/louisbranch/drawroom/internal/services/collab/canvas"
	"github.com/louisbranch/drawroom/internal/services/collab/storage"
	"github.com/louisbranch/drawroom/internal/services/collab/storage/sqlite"
)

func TestResolveRooms(t *testing.T) {
	tests := []struct {
		single   string
		list     string
		expected []string
		wantErr  bool
	}{
		{single: "", list: "", wantErr: true},
		{single: "r1", list: "r2", wantErr: true},
		{single: "", list: " , ", wantErr: true},
		{single: "r1", list: "", expected: []string{"r1"}},
		{single: "", list: "r1, r2", expected: []string{"r1", "r2"}},
	}

	for _, tc := range tests {
		got, err := resolveRooms(tc.single, tc.list)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("expected error for %q/%q", tc.single, tc.list)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error for %q/%q: %v", tc.single, tc.list, err)
		}
		if !reflect.DeepEqual(got, tc.expected) {
			t.Fatalf("expected %v, got %v", tc.expected, got)
		}
	}
}

func TestSplitCSV(t *testing.T) {
	if got := splitCSV(" a, b ,, "); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("expected trimmed entries, got %v", got)
	}
}

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("maintenance", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"export"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Command != CommandExport {
		t.Fatalf("expected export command, got %q", cfg.Command)
	}
	if cfg.DBPath != "data/collab.db" {
		t.Fatalf("expected default db path, got %q", cfg.DBPath)
	}
	if cfg.Store != "sqlite" {
		t.Fatalf("expected sqlite store, got %q", cfg.Store)
	}
	if cfg.Timeout != time.Minute {
		t.Fatalf("expected 1m timeout, got %v", cfg.Timeout)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("DRAWROOM_COLLAB_DB_PATH", "env.db")
	t.Setenv("DRAWROOM_COLLAB_GRPC_ADDR", "env:1")

	fs := flag.NewFlagSet("maintenance", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-grpc-addr", "flag:2", "-room", "r1", "snapshot"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.DBPath != "env.db" {
		t.Fatalf("expected env db path, got %q", cfg.DBPath)
	}
	if cfg.GRPCAddr != "flag:2" {
		t.Fatalf("expected flag grpc addr, got %q", cfg.GRPCAddr)
	}
	if cfg.Room != "r1" || cfg.Command != CommandSnapshot {
		t.Fatalf("expected snapshot of r1, got %q of %q", cfg.Command, cfg.Room)
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	if err := Run(context.Background(), Config{}, nil, nil); err == nil {
		t.Fatal("expected error for missing command")
	}
	if err := Run(context.Background(), Config{Command: "vacuum"}, nil, nil); err == nil {
		t.Fatal("expected error for unknown command")
	}
	if err := Run(context.Background(), Config{Command: CommandExport}, nil, nil); err == nil {
		t.Fatal("expected error for export without a room")
	}
}

func seedStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collab.db")
	store, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	records := []storage.LogRecord{
		{RoomName: "r1", EventType: canvas.EventFullSync, UserPseudonym: "p1", Content: json.RawMessage(`[{"id":"a","version":1}]`)},
		{RoomName: "r2", EventType: canvas.EventFullSync, UserPseudonym: "p2", Content: json.RawMessage(`[]`)},
		{RoomName: "r1", EventType: canvas.EventCollaboratorChange, UserPseudonym: "p1", Content: json.RawMessage(`{"pointer":{"x":1}}`)},
	}
	if err := store.AppendLogRecords(ctx, records); err != nil {
		t.Fatalf("append records: %v", err)
	}
	elements, err := canvas.ParseElements([]byte(`[{"id":"a","version":4,"extra":true}]`))
	if err != nil {
		t.Fatalf("parse elements: %v", err)
	}
	if err := store.PutRoomElements(ctx, "r1", elements); err != nil {
		t.Fatalf("put room: %v", err)
	}
	if err := store.SetRoomMetadata(ctx, "r1", storage.RoomMetadata{Creator: "p1", Consumer: "lti"}); err != nil {
		t.Fatalf("set metadata: %v", err)
	}
	return path
}

func TestRunExport(t *testing.T) {
	path := seedStore(t)
	var out bytes.Buffer

	err := Run(context.Background(), Config{Command: CommandExport, Room: "r1", DBPath: path}, &out, nil)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d:\n%s", len(lines), out.String())
	}
	var first, second exportRecord
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if first.EventType != canvas.EventFullSync || second.EventType != canvas.EventCollaboratorChange {
		t.Fatalf("unexpected order: %s then %s", first.EventType, second.EventType)
	}
	if first.ID >= second.ID {
		t.Fatalf("ids out of order: %d then %d", first.ID, second.ID)
	}
	if string(second.Content) != `{"pointer":{"x":1}}` {
		t.Fatalf("content = %s", second.Content)
	}
}

func TestRunSnapshot(t *testing.T) {
	path := seedStore(t)
	var out bytes.Buffer

	err := Run(context.Background(), Config{Command: CommandSnapshot, Rooms: "r1", DBPath: path}, &out, nil)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	var report struct {
		Room     string            `json:"room"`
		Creator  string            `json:"creator"`
		Consumer string            `json:"consumer"`
		Elements []json.RawMessage `json:"elements"`
	}
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if report.Room != "r1" || report.Creator != "p1" || report.Consumer != "lti" {
		t.Fatalf("unexpected snapshot: %+v", report)
	}
	if len(report.Elements) != 1 || string(report.Elements[0]) != `{"id":"a","version":4,"extra":true}` {
		t.Fatalf("unexpected elements: %s", out.String())
	}

	err = Run(context.Background(), Config{Command: CommandSnapshot, Room: "missing", DBPath: path}, &out, nil)
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("expected missing room error, got %v", err)
	}
}

func TestRunHealth(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	health := platformgrpc.NewHealthServer()
	health.SetServing(true)
	go func() { _ = health.Serve(listener) }()
	t.Cleanup(health.Stop)

	var out bytes.Buffer
	addr := listener.Addr().String()
	if err := Run(context.Background(), Config{Command: CommandHealth, GRPCAddr: addr}, &out, nil); err != nil {
		t.Fatalf("health: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != addr+" SERVING" {
		t.Fatalf("output = %q", got)
	}
}

func TestRunHealthRequiresAddr(t *testing.T) {
	if err := Run(context.Background(), Config{Command: CommandHealth}, nil, nil); err == nil {
		t.Fatal("expected error for missing gRPC address")
	}
}
