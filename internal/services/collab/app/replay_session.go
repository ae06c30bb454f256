package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/louisbranch/drawroom/internal/services/collab/canvas"
	"github.com/louisbranch/drawroom/internal/services/collab/pseudonym"
	"github.com/louisbranch/drawroom/internal/services/collab/replay"
	"go.uber.org/zap"
)

// serveReplay plays a room's event log back to a privileged observer.
// Anyone else is disconnected before anything is sent.
func (s *service) serveReplay(w http.ResponseWriter, r *http.Request) {
	peer, room, identity, ok := s.accept(w, r)
	if !ok {
		return
	}
	defer s.release(peer)

	ctx, cancel := sessionContext(r)
	defer cancel()
	logger := s.logger.With(zap.String("room", room), zap.String("connection_id", peer.id))

	privileged, err := s.identity.IsPrivilegedObserver(ctx, identity)
	if err != nil {
		logger.Warn("check replay access", zap.Error(err))
		privileged = false
	}
	if !privileged {
		logger.Info("replay refused")
		s.metrics.admissions.WithLabelValues(sessionKindReplay, "rejected").Inc()
		_ = peer.closeWith(closeUnauthorized, "")
		return
	}

	player, err := replay.NewPlayer(replay.Config{
		Room: room,
		Log:  s.store,
		Emitter: replay.EmitterFunc(func(_ context.Context, event any) error {
			return peer.writeJSON(event)
		}),
		Names:  pseudonym.NewRegistry(pseudonym.NewGenerator(0)),
		Clock:  s.clock,
		Delay:  s.replayDelay,
		Logger: logger,
		Tracer: s.tracer,
	})
	if err != nil {
		logger.Error("init replay", zap.Error(err))
		s.metrics.admissions.WithLabelValues(sessionKindReplay, "failed").Inc()
		_ = peer.closeWith(websocket.CloseInternalServerErr, "replay unavailable")
		return
	}
	defer player.Close()

	s.metrics.admissions.WithLabelValues(sessionKindReplay, "admitted").Inc()
	s.metrics.activeSessions.WithLabelValues(sessionKindReplay).Inc()
	defer s.metrics.activeSessions.WithLabelValues(sessionKindReplay).Dec()

	if s.replaySettle > 0 {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.replaySettle):
		}
	}
	if err := player.Restart(ctx); err != nil {
		logger.Warn("restart replay", zap.Error(err))
	}

	for {
		data, err := peer.readFrame(s.maxFrameBytes)
		if errors.Is(err, errFrameTooLarge) {
			s.metrics.frame(sessionKindReplay, "", frameOversized)
			logger.Debug("discard oversized frame")
			continue
		}
		if err != nil {
			if player.State() == replay.StatePlaying {
				logger.Debug("observer left before replay finished")
			}
			return
		}
		s.controlReplay(ctx, logger, player, data)
	}
}

func (s *service) controlReplay(ctx context.Context, logger *zap.Logger, player *replay.Player, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.metrics.frame(sessionKindReplay, "", frameMalformed)
		logger.Debug("discard malformed frame", zap.Error(err))
		return
	}

	var err error
	switch frame.EventType {
	case canvas.EventStartReplay:
		err = player.Start(ctx)
	case canvas.EventPauseReplay:
		err = player.Pause(ctx)
	case canvas.EventRestartReplay:
		err = player.Restart(ctx)
	default:
		s.metrics.frame(sessionKindReplay, "other", frameDiscarded)
		logger.Debug("discard unsupported frame", zap.String("eventtype", frame.EventType))
		return
	}
	s.metrics.frame(sessionKindReplay, frame.EventType, frameAccepted)
	if err != nil {
		logger.Warn("control replay", zap.String("eventtype", frame.EventType), zap.Error(err))
	}
}
