package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/louisbranch/drawroom/internal/platform/id"
	"github.com/louisbranch/drawroom/internal/platform/timeouts"
	"github.com/louisbranch/drawroom/internal/services/collab/broadcast"
	"github.com/louisbranch/drawroom/internal/services/collab/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// closeUnauthorized ends a connection rejected before admission.
const closeUnauthorized = 3000

const (
	defaultMaxFrameBytes = 4 << 20
	wsBufferBytes        = 16 * 1024
)

// service holds the dependencies shared by every websocket session.
type service struct {
	store          storage.Store
	broadcaster    broadcast.Broadcaster
	identity       IdentityProvider
	metrics        *metrics
	logger         *zap.Logger
	tracer         trace.Tracer
	clock          clockwork.Clock
	allowAnonymous bool
	replayDelay    time.Duration
	replaySettle   time.Duration
	maxFrameBytes  int64
	upgrader       websocket.Upgrader

	mu    sync.Mutex
	peers map[*wsPeer]struct{}
}

func newHandler(svc *service) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	router.Handle("/metrics", promhttp.HandlerFor(svc.metrics.registry, promhttp.HandlerOpts{}))
	router.HandleFunc("/ws/collab/{room}", getOnly(svc.serveCollab))
	router.HandleFunc("/ws/replay/{room}", getOnly(svc.serveReplay))
	return router
}

func getOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// accept resolves the room and identity of a websocket request and upgrades
// it. A false return means the response has already been written.
func (s *service) accept(w http.ResponseWriter, r *http.Request) (*wsPeer, string, Identity, bool) {
	room, err := storage.NormalizeRoomName(mux.Vars(r)["room"])
	if err != nil {
		http.Error(w, "room name is required", http.StatusBadRequest)
		return nil, "", Identity{}, false
	}

	identity, err := s.identity.Identify(r.Context(), r)
	if err != nil {
		s.logger.Debug("launch token ignored", zap.String("room", room), zap.Error(err))
		identity = Identity{}
	}

	connectionID, err := id.NewID()
	if err != nil {
		s.logger.Error("generate connection id", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, "", Identity{}, false
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.String("room", room), zap.Error(err))
		return nil, "", Identity{}, false
	}
	peer := newWSPeer(conn, connectionID)
	s.track(peer)
	return peer, room, identity, true
}

func (s *service) release(peer *wsPeer) {
	s.mu.Lock()
	delete(s.peers, peer)
	s.mu.Unlock()
	_ = peer.conn.Close()
}

func (s *service) track(peer *wsPeer) {
	s.mu.Lock()
	if s.peers == nil {
		s.peers = make(map[*wsPeer]struct{})
	}
	s.peers[peer] = struct{}{}
	s.mu.Unlock()
}

// closePeers asks every open connection to go away. Each read loop then
// unwinds through its normal disconnect path.
func (s *service) closePeers() {
	s.mu.Lock()
	peers := make([]*wsPeer, 0, len(s.peers))
	for peer := range s.peers {
		peers = append(peers, peer)
	}
	s.mu.Unlock()
	for _, peer := range peers {
		_ = peer.closeWith(websocket.CloseGoingAway, "server shutting down")
		_ = peer.conn.Close()
	}
}

// wsPeer serializes writes to one websocket connection. Broadcast deliveries
// and the session's own replies arrive from different goroutines.
type wsPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
	id   string
}

func newWSPeer(conn *websocket.Conn, id string) *wsPeer {
	return &wsPeer{conn: conn, id: id}
}

func (p *wsPeer) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return p.writeRaw(data)
}

func (p *wsPeer) writeRaw(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(timeouts.WebsocketWrite)); err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *wsPeer) closeWith(code int, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	message := websocket.FormatCloseMessage(code, text)
	return p.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(timeouts.WebsocketWrite))
}

var errFrameTooLarge = errors.New("frame exceeds size limit")

// readFrame returns the next data frame. Frames larger than limit are
// drained and reported as errFrameTooLarge so the connection can keep going.
func (p *wsPeer) readFrame(limit int64) ([]byte, error) {
	_, reader, err := p.conn.NextReader()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultMaxFrameBytes
	}
	data, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		if _, err := io.Copy(io.Discard, reader); err != nil {
			return nil, err
		}
		return nil, errFrameTooLarge
	}
	return data, nil
}

// closeCode extracts the peer's close code from a read error. Any other
// failure counts as an abnormal closure.
func closeCode(err error) int {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code
	}
	return websocket.CloseAbnormalClosure
}

// sessionContext detaches a session from the upgrade request while keeping
// its values.
func sessionContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithCancel(context.WithoutCancel(r.Context()))
}

type inboundFrame struct {
	EventType string          `json:"eventtype"`
	Elements  json.RawMessage `json:"elements"`
	Changes   json.RawMessage `json:"changes"`
}
