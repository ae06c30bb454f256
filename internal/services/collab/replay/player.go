// Package replay plays a room's event log back to one observer at a fixed
// pace, with collaborator identities replaced by generated names.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/louisbranch/drawroom/internal/platform/otel"
	"github.com/louisbranch/drawroom/internal/services/collab/canvas"
	"github.com/louisbranch/drawroom/internal/services/collab/pseudonym"
	"github.com/louisbranch/drawroom/internal/services/collab/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is the playback phase of a Player.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateDrained State = "drained"
)

// DefaultDelay is the pause between two replayed events.
const DefaultDelay = 100 * time.Millisecond

// LogReader is the read side of the event log used by replay.
type LogReader interface {
	ListLogRecordIDs(ctx context.Context, roomName string) ([]int64, error)
	GetLogRecord(ctx context.Context, id int64) (storage.LogRecord, error)
}

// Emitter delivers one outbound event to the observer.
type Emitter interface {
	Emit(ctx context.Context, event any) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, event any) error

// Emit implements Emitter.
func (fn EmitterFunc) Emit(ctx context.Context, event any) error {
	return fn(ctx, event)
}

// Config wires a Player.
type Config struct {
	Room    string
	Log     LogReader
	Emitter Emitter
	Names   *pseudonym.Registry
	Clock   clockwork.Clock
	Delay   time.Duration
	Logger  *zap.Logger
	Tracer  trace.Tracer
}

// Player owns the playback position of one replay session and at most one
// running playback task.
type Player struct {
	room    string
	log     LogReader
	emitter Emitter
	names   *pseudonym.Registry
	clock   clockwork.Clock
	delay   time.Duration
	logger  *zap.Logger
	tracer  trace.Tracer

	// opMu serializes control operations; mu guards the fields below it.
	opMu  sync.Mutex
	mu    sync.Mutex
	state State
	ids   []int64
	task  *playbackTask
}

type playbackTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *playbackTask) running() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// NewPlayer validates cfg and returns an idle Player.
func NewPlayer(cfg Config) (*Player, error) {
	room := strings.TrimSpace(cfg.Room)
	if room == "" {
		return nil, errors.New("replay room is required")
	}
	if cfg.Log == nil {
		return nil, errors.New("replay log reader is required")
	}
	if cfg.Emitter == nil {
		return nil, errors.New("replay emitter is required")
	}
	if cfg.Names == nil {
		cfg.Names = pseudonym.NewRegistry(nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("drawroom/replay")
	}
	return &Player{
		room:    room,
		log:     cfg.Log,
		emitter: cfg.Emitter,
		names:   cfg.Names,
		clock:   cfg.Clock,
		delay:   cfg.Delay,
		logger:  cfg.Logger.With(zap.String("room", room)),
		tracer:  cfg.Tracer,
		state:   StateIdle,
	}, nil
}

// State returns the current playback phase.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Remaining reports how many records are left to play.
func (p *Player) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

// Init reloads the record ids and tells the observer to reset its scene.
// Playback position returns to the first record.
func (p *Player) Init(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.init(ctx)
}

// Start begins playback, loading the log first when nothing is left to play.
// A task that is already running is replaced.
func (p *Player) Start(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	if p.Remaining() == 0 {
		if err := p.init(ctx); err != nil {
			return err
		}
	}
	return p.start(ctx)
}

// Pause stops a running task. Without one it does nothing.
func (p *Player) Pause(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	running := p.task.running() && p.state != StateDrained
	p.mu.Unlock()
	if !running {
		return nil
	}

	p.stopTask()
	p.setState(StatePaused)
	p.logger.Debug("replay paused")
	return p.emit(ctx, canvas.Control(canvas.EventPauseReplay))
}

// Restart stops any task, reloads the log, and plays from the first record.
func (p *Player) Restart(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.stopTask()
	if err := p.init(ctx); err != nil {
		return err
	}
	return p.start(ctx)
}

// Close stops any task and waits for it to finish.
func (p *Player) Close() {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	if p.stopTask() {
		p.logger.Debug("observer left before replay finished")
	}
	p.setState(StateIdle)
}

func (p *Player) init(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "replay.init", trace.WithAttributes(attribute.String("room", p.room)))
	defer span.End()

	p.setState(StateLoading)

	var ids []int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		listed, err := p.log.ListLogRecordIDs(groupCtx, p.room)
		if err != nil {
			return fmt.Errorf("list log records: %w", err)
		}
		ids = listed
		return nil
	})
	group.Go(func() error {
		return p.emit(groupCtx, canvas.Control(canvas.EventResetScene))
	})
	if err := group.Wait(); err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("records", len(ids)))

	p.mu.Lock()
	p.ids = ids
	p.mu.Unlock()
	return nil
}

func (p *Player) start(ctx context.Context) error {
	p.stopTask()
	if err := p.emit(ctx, canvas.Control(canvas.EventStartReplay)); err != nil {
		return err
	}
	p.logger.Info("start replay")

	taskCtx, cancel := context.WithCancel(context.Background())
	task := &playbackTask{cancel: cancel, done: make(chan struct{})}
	p.mu.Lock()
	p.task = task
	p.state = StatePlaying
	p.mu.Unlock()

	go p.run(taskCtx, task.done)
	return nil
}

// stopTask cancels the current task and waits for it. It reports whether a
// task was still running.
func (p *Player) stopTask() bool {
	p.mu.Lock()
	task := p.task
	p.task = nil
	p.mu.Unlock()
	if task == nil {
		return false
	}
	running := task.running()
	task.cancel()
	<-task.done
	return running
}

// run sends one record per step. Cancellation is checked before each step
// and during the wait between steps. A record is consumed before it is
// sent, so a step interrupted mid-send is not replayed again.
func (p *Player) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		id, ok := p.next()
		if !ok {
			if err := p.emit(ctx, canvas.Control(canvas.EventPauseReplay)); err != nil && ctx.Err() == nil {
				p.logger.Warn("emit end of replay", zap.Error(err))
			}
			return
		}
		if err := p.sendRecord(ctx, id); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("replay record", zap.Int64("record_id", id), zap.Error(err))
		}
		if !p.wait(ctx) {
			return
		}
	}
}

// next pops the next record id. When none is left the player is marked
// drained under the same lock, so a concurrent Pause sees it.
func (p *Player) next() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ids) == 0 {
		p.state = StateDrained
		return 0, false
	}
	id := p.ids[0]
	p.ids = p.ids[1:]
	return id, true
}

func (p *Player) wait(ctx context.Context) bool {
	if p.delay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-p.clock.After(p.delay):
		return true
	}
}

func (p *Player) sendRecord(ctx context.Context, id int64) error {
	record, err := p.log.GetLogRecord(ctx, id)
	if err != nil {
		return fmt.Errorf("get log record: %w", err)
	}
	event, ok, err := p.translate(record)
	if err != nil {
		return err
	}
	if !ok {
		p.logger.Debug("skip unknown replay record", zap.Int64("record_id", id), zap.String("event_type", record.EventType))
		return nil
	}
	return p.emit(ctx, event)
}

// translate rebuilds the wire event a live peer received for record.
func (p *Player) translate(record storage.LogRecord) (any, bool, error) {
	switch record.EventType {
	case canvas.EventFullSync, canvas.EventElementsChanged:
		elements := record.Content
		if len(elements) == 0 {
			elements = json.RawMessage("[]")
		}
		return canvas.ElementsMessage{EventType: record.EventType, Elements: elements}, true, nil
	case canvas.EventCollaboratorChange:
		var change canvas.Change
		if len(record.Content) > 0 {
			if err := json.Unmarshal(record.Content, &change); err != nil {
				return nil, false, fmt.Errorf("decode change record %d: %w", record.ID, err)
			}
		}
		change.SetUsername(p.names.Name(record.UserPseudonym))
		change.SetUserRoomID(record.UserPseudonym)
		return canvas.ChangesMessage{EventType: canvas.EventCollaboratorChange, Changes: []canvas.Change{change}}, true, nil
	default:
		return nil, false, nil
	}
}

func (p *Player) emit(ctx context.Context, event any) error {
	if err := p.emitter.Emit(ctx, event); err != nil {
		return fmt.Errorf("emit replay event: %w", err)
	}
	return nil
}

func (p *Player) setState(state State) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}
