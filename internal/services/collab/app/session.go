package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/louisbranch/drawroom/internal/services/collab/broadcast"
	"github.com/louisbranch/drawroom/internal/services/collab/canvas"
	"github.com/louisbranch/drawroom/internal/services/collab/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// sessionState is either pendingSession or admittedSession.
type sessionState interface {
	sessionState()
}

type pendingSession struct{}

// admittedSession exists only after the admission checks passed and the
// session joined its room.
type admittedSession struct {
	room       string
	userRoomID string
}

func (pendingSession) sessionState()  {}
func (admittedSession) sessionState() {}

// collabSession is one live collaboration connection.
type collabSession struct {
	svc      *service
	peer     *wsPeer
	identity Identity
	room     string
	logger   *zap.Logger
	state    sessionState
}

func (s *service) serveCollab(w http.ResponseWriter, r *http.Request) {
	peer, room, identity, ok := s.accept(w, r)
	if !ok {
		return
	}
	defer s.release(peer)

	ctx, cancel := sessionContext(r)
	defer cancel()

	session := &collabSession{
		svc:      s,
		peer:     peer,
		identity: identity,
		room:     room,
		logger:   s.logger.With(zap.String("room", room), zap.String("connection_id", peer.id)),
		state:    pendingSession{},
	}
	if !session.connect(ctx) {
		return
	}
	code := session.readLoop(ctx)
	session.disconnect(ctx, code)
}

// ConnectionID identifies the session in broadcast envelopes.
func (s *collabSession) ConnectionID() string {
	return s.peer.id
}

// Notify forwards a room notification to the client unless this session
// sent it.
func (s *collabSession) Notify(notification broadcast.Notification) {
	if broadcast.IsOwn(s, notification) {
		return
	}
	if err := s.peer.writeRaw(notification.Payload); err != nil {
		s.logger.Debug("deliver notification", zap.Error(err))
	}
}

// connect runs the admission checks and joins the room. It reports whether
// the session was admitted; on false the connection is already closed.
func (s *collabSession) connect(ctx context.Context) bool {
	room, _, err := s.svc.store.GetOrCreateRoom(ctx, s.room)
	if err != nil {
		s.logger.Error("load room", zap.Error(err))
		s.svc.metrics.admissions.WithLabelValues(sessionKindCollab, "failed").Inc()
		_ = s.peer.closeWith(websocket.CloseInternalServerErr, "room unavailable")
		return false
	}

	var authenticated, authorized bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ok, err := s.svc.identity.IsAuthenticated(gctx, s.identity)
		authenticated = ok
		return err
	})
	g.Go(func() error {
		ok, err := s.svc.identity.IsAuthorized(gctx, s.identity, room)
		authorized = ok
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("check room access", zap.Error(err))
		authenticated, authorized = false, false
	}

	if !s.svc.allowAnonymous && !authenticated && !authorized {
		s.reject(ctx, authenticated)
		return false
	}

	userRoomID := canvas.AnonymousPseudonym(s.room)
	if s.identity.Known() {
		userRoomID = canvas.RoomPseudonym(s.identity.UserID, s.room)
	}

	if authenticated {
		metadata := storage.RoomMetadata{
			Creator:  userRoomID,
			Consumer: s.identity.Consumer,
			CourseID: s.identity.CourseID,
		}
		if err := s.svc.store.SetRoomMetadata(ctx, s.room, metadata); err != nil {
			s.logger.Warn("record room metadata", zap.Error(err))
		}
	}

	// Notify may run on other goroutines once joined.
	s.logger = s.logger.With(zap.String("user_room_id", userRoomID))
	if err := s.svc.broadcaster.Join(ctx, s.room, s); err != nil {
		s.logger.Error("join room", zap.Error(err))
		s.svc.metrics.admissions.WithLabelValues(sessionKindCollab, "failed").Inc()
		_ = s.peer.closeWith(websocket.CloseInternalServerErr, "room unavailable")
		return false
	}

	s.state = admittedSession{room: s.room, userRoomID: userRoomID}
	s.svc.metrics.admissions.WithLabelValues(sessionKindCollab, "admitted").Inc()
	s.svc.metrics.activeSessions.WithLabelValues(sessionKindCollab).Inc()
	return true
}

func (s *collabSession) reject(ctx context.Context, authenticated bool) {
	who := "Someone"
	reason := "anonymous visits are disallowed"
	if authenticated {
		reason = "this user is not allowed to access the room"
		if name, err := s.svc.identity.DisplayName(ctx, s.identity); err == nil && name != "" {
			who = name
		}
	}
	s.logger.Warn("room entry refused",
		zap.String("who", who),
		zap.String("reason", reason),
	)
	s.svc.metrics.admissions.WithLabelValues(sessionKindCollab, "rejected").Inc()

	if err := s.peer.writeJSON(canvas.Control(canvas.EventLoginRequired)); err != nil {
		s.logger.Debug("send login_required", zap.Error(err))
	}
	_ = s.peer.closeWith(closeUnauthorized, "login required")
}

// readLoop processes frames in arrival order until the connection ends and
// returns the close code.
func (s *collabSession) readLoop(ctx context.Context) int {
	for {
		data, err := s.peer.readFrame(s.svc.maxFrameBytes)
		if errors.Is(err, errFrameTooLarge) {
			s.svc.metrics.frame(sessionKindCollab, "", frameOversized)
			s.logger.Debug("discard oversized frame")
			continue
		}
		if err != nil {
			return closeCode(err)
		}
		s.dispatch(ctx, data)
	}
}

// disconnect announces the departure to the room and leaves it. Sessions
// that were never admitted, or that closed as unauthorized, stay silent.
func (s *collabSession) disconnect(ctx context.Context, code int) {
	admitted, ok := s.state.(admittedSession)
	if !ok {
		return
	}
	s.svc.metrics.activeSessions.WithLabelValues(sessionKindCollab).Dec()
	if code != closeUnauthorized {
		s.publish(ctx, admitted, canvas.CollaboratorLeft(admitted.userRoomID))
	}
	if err := s.svc.broadcaster.Leave(ctx, admitted.room, s); err != nil {
		s.logger.Warn("leave room", zap.Error(err))
	}
}

func (s *collabSession) dispatch(ctx context.Context, data []byte) {
	admitted, ok := s.state.(admittedSession)
	if !ok {
		return
	}

	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.svc.metrics.frame(sessionKindCollab, "", frameMalformed)
		s.logger.Debug("discard malformed frame", zap.Error(err))
		return
	}

	var handled bool
	switch frame.EventType {
	case canvas.EventCollaboratorChange:
		handled = s.handleCollaboratorChange(ctx, admitted, frame)
	case canvas.EventElementsChanged, canvas.EventFullSync:
		handled = s.handleElementsChanged(ctx, admitted, frame)
	case canvas.EventSaveRoom:
		handled = s.handleSaveRoom(ctx, admitted, frame)
	default:
		s.svc.metrics.frame(sessionKindCollab, "other", frameDiscarded)
		s.logger.Debug("discard unsupported frame", zap.String("eventtype", frame.EventType))
		return
	}
	if handled {
		s.svc.metrics.frame(sessionKindCollab, frame.EventType, frameAccepted)
	} else {
		s.svc.metrics.frame(sessionKindCollab, frame.EventType, frameMalformed)
	}
}

func (s *collabSession) handleCollaboratorChange(ctx context.Context, admitted admittedSession, frame inboundFrame) bool {
	changes, err := canvas.ParseChanges(frame.Changes)
	if err != nil {
		s.logger.Debug("discard collaborator_change", zap.Error(err))
		return false
	}
	if len(changes) == 0 {
		s.logger.Debug("discard collaborator_change without changes")
		return false
	}

	now := s.svc.clock.Now().UTC()
	records := make([]storage.LogRecord, 0, len(changes))
	for i := range changes {
		change := &changes[i]
		change.StripUsername()
		createdAt := change.PopTime(now)
		content, err := json.Marshal(change)
		if err != nil {
			s.logger.Debug("discard collaborator_change", zap.Error(err))
			return false
		}
		records = append(records, storage.LogRecord{
			RoomName:      admitted.room,
			EventType:     canvas.EventCollaboratorChange,
			UserPseudonym: admitted.userRoomID,
			CreatedAt:     createdAt,
			Content:       content,
		})
	}

	outbound := changes[len(changes)-1].Clone()
	outbound.SetUserRoomID(admitted.userRoomID)
	message := canvas.ChangesMessage{
		EventType: canvas.EventCollaboratorChange,
		Changes:   []canvas.Change{outbound},
	}
	s.publishAndLog(ctx, admitted, message, canvas.EventCollaboratorChange, records)
	return true
}

func (s *collabSession) handleElementsChanged(ctx context.Context, admitted admittedSession, frame inboundFrame) bool {
	elements := bytes.TrimSpace(frame.Elements)
	var items []json.RawMessage
	if len(elements) == 0 || json.Unmarshal(elements, &items) != nil || items == nil {
		s.logger.Debug("discard frame without an element array", zap.String("eventtype", frame.EventType))
		return false
	}

	message := canvas.ElementsMessage{EventType: frame.EventType, Elements: elements}
	record := storage.LogRecord{
		RoomName:      admitted.room,
		EventType:     frame.EventType,
		UserPseudonym: admitted.userRoomID,
		CreatedAt:     s.svc.clock.Now().UTC(),
		Content:       elements,
	}
	s.publishAndLog(ctx, admitted, message, frame.EventType, []storage.LogRecord{record})
	return true
}

func (s *collabSession) handleSaveRoom(ctx context.Context, admitted admittedSession, frame inboundFrame) bool {
	incoming, err := canvas.ParseElements(frame.Elements)
	if err != nil {
		s.logger.Debug("discard save_room", zap.Error(err))
		return false
	}

	ctx, span := s.svc.tracer.Start(ctx, "collab.save_room", trace.WithAttributes(
		attribute.String("room", admitted.room),
		attribute.Int("elements", len(incoming)),
	))
	defer span.End()

	room, created, err := s.svc.store.GetOrCreateRoom(ctx, admitted.room)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load room")
		s.logger.Error("load room for save", zap.Error(err))
		return true
	}

	decision := canvas.Reconcile(room.Elements, created, incoming)
	span.SetAttributes(attribute.String("outcome", string(decision.Outcome)))
	s.svc.metrics.reconciliations.WithLabelValues(string(decision.Outcome)).Inc()

	switch decision.Outcome {
	case canvas.OutcomeStale:
		s.logger.Debug("save_room rejected", zap.String("stale_element", decision.StaleID))
		return true
	case canvas.OutcomeUnchanged:
		s.logger.Debug("save_room unchanged")
		return true
	}

	if err := s.svc.store.PutRoomElements(ctx, admitted.room, decision.Elements); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save room")
		s.logger.Error("save room", zap.Error(err))
		return true
	}
	s.logger.Debug("room saved", zap.Int("elements", len(decision.Elements)))
	return true
}

// publishAndLog broadcasts message and appends records concurrently. A
// failure on one side never cancels the other.
func (s *collabSession) publishAndLog(ctx context.Context, admitted admittedSession, message any, eventType string, records []storage.LogRecord) {
	var g errgroup.Group
	g.Go(func() error {
		s.publish(ctx, admitted, message)
		return nil
	})
	g.Go(func() error {
		if err := s.svc.store.AppendLogRecords(ctx, records); err != nil {
			s.svc.metrics.logFailures.WithLabelValues(eventType).Inc()
			s.logger.Error("append log records", zap.String("eventtype", eventType), zap.Error(err))
		}
		return nil
	})
	_ = g.Wait()
}

func (s *collabSession) publish(ctx context.Context, admitted admittedSession, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		s.logger.Error("marshal notification", zap.Error(err))
		return
	}
	notification := broadcast.Notification{Sender: s.peer.id, Payload: payload}
	if err := s.svc.broadcaster.Send(ctx, admitted.room, notification); err != nil {
		s.svc.metrics.broadcastErrors.Inc()
		s.logger.Warn("broadcast notification", zap.Error(err))
	}
}
