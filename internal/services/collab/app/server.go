package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	platformgrpc "github.com/louisbranch/drawroom/internal/platform/grpc"
	"github.com/louisbranch/drawroom/internal/platform/logging"
	"github.com/louisbranch/drawroom/internal/platform/otel"
	"github.com/louisbranch/drawroom/internal/platform/timeouts"
	"github.com/louisbranch/drawroom/internal/services/collab/broadcast"
	"github.com/louisbranch/drawroom/internal/services/collab/broadcast/redisbus"
	"github.com/louisbranch/drawroom/internal/services/collab/replay"
	"github.com/louisbranch/drawroom/internal/services/collab/storage"
	"github.com/louisbranch/drawroom/internal/services/collab/storage/backend"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config defines the inputs for the collab transport boundary.
type Config struct {
	HTTPAddr string
	// GRPCAddr enables the gRPC health endpoint when set.
	GRPCAddr string

	// Store names the storage backend, sqlite when empty.
	Store       string
	DBPath      string
	PostgresURL string
	// RedisAddr switches broadcasting from the in-process hub to Redis
	// pub/sub so several processes can serve one room.
	RedisAddr string

	AllowAnonymous    bool
	ReplayDelay       time.Duration
	ReplaySettle      time.Duration
	LaunchTokenSecret string
	MaxFrameBytes     int64

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Logger            *zap.Logger
}

// Server hosts the collab HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	grpcAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	health          *platformgrpc.HealthServer
	svc             *service
	store           storage.Store
	bus             *redisbus.Bus
	redisClient     *redis.Client
	logger          *zap.Logger
}

// NewServer creates a configured collab server.
func NewServer(config Config) (*Server, error) {
	return NewServerWithContext(context.Background(), config)
}

// NewServerWithContext opens the stores and broadcaster named by config.
func NewServerWithContext(ctx context.Context, config Config) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}
	if config.ReplaySettle == 0 {
		config.ReplaySettle = timeouts.ReplaySettle
	}
	logger := logging.OrNop(config.Logger)

	store, err := backend.Open(ctx, backend.Config{
		Kind:        config.Store,
		DBPath:      config.DBPath,
		PostgresURL: config.PostgresURL,
	})
	if err != nil {
		return nil, err
	}

	var (
		broadcaster broadcast.Broadcaster = broadcast.NewHub()
		bus         *redisbus.Bus
		redisClient *redis.Client
	)
	if addr := strings.TrimSpace(config.RedisAddr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			_ = store.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		bus, err = redisbus.New(redisClient, logger.Named("redisbus"))
		if err != nil {
			_ = redisClient.Close()
			_ = store.Close()
			return nil, fmt.Errorf("init redis bus: %w", err)
		}
		broadcaster = bus
	}

	identity := newLaunchTokenProvider(config.LaunchTokenSecret, nil)
	svc := newService(store, broadcaster, identity, config, logger)

	var health *platformgrpc.HealthServer
	if strings.TrimSpace(config.GRPCAddr) != "" {
		health = platformgrpc.NewHealthServer()
	}

	return &Server{
		httpAddr:        httpAddr,
		grpcAddr:        strings.TrimSpace(config.GRPCAddr),
		shutdownTimeout: config.ShutdownTimeout,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           newHandler(svc),
			ReadHeaderTimeout: config.ReadHeaderTimeout,
		},
		health:      health,
		svc:         svc,
		store:       store,
		bus:         bus,
		redisClient: redisClient,
		logger:      logger,
	}, nil
}

func newService(store storage.Store, broadcaster broadcast.Broadcaster, identity IdentityProvider, config Config, logger *zap.Logger) *service {
	replayDelay := config.ReplayDelay
	if replayDelay <= 0 {
		replayDelay = replay.DefaultDelay
	}
	replaySettle := config.ReplaySettle
	if replaySettle < 0 {
		replaySettle = 0
	}
	maxFrameBytes := config.MaxFrameBytes
	if maxFrameBytes <= 0 {
		maxFrameBytes = defaultMaxFrameBytes
	}
	return &service{
		store:          store,
		broadcaster:    broadcaster,
		identity:       identity,
		metrics:        newMetrics(),
		logger:         logging.OrNop(logger),
		tracer:         otel.Tracer("drawroom/collab"),
		clock:          clockwork.NewRealClock(),
		allowAnonymous: config.AllowAnonymous,
		replayDelay:    replayDelay,
		replaySettle:   replaySettle,
		maxFrameBytes:  maxFrameBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsBufferBytes,
			WriteBufferSize: wsBufferBytes,
		},
		peers: make(map[*wsPeer]struct{}),
	}
}

// Run creates and serves a collab server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServerWithContext(ctx, config)
	if err != nil {
		return fmt.Errorf("init collab server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve collab: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server, and the gRPC health endpoint when
// configured, until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("collab server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 2)
	if s.health != nil {
		listener, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			return fmt.Errorf("listen grpc health: %w", err)
		}
		s.logger.Info("collab health listening", zap.String("addr", listener.Addr().String()))
		go func() {
			if err := s.health.Serve(listener); err != nil {
				serveErr <- fmt.Errorf("serve grpc health: %w", err)
			}
		}()
		s.health.SetServing(true)
	}

	s.logger.Info("collab server listening", zap.String("addr", s.httpAddr))
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("serve http: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		if s.health != nil {
			s.health.SetServing(false)
		}
		s.svc.closePeers()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		return err
	}
}

// Close releases the broadcaster and stores.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Stop()
	}
	s.svc.closePeers()
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.logger.Warn("close redis bus", zap.Error(err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Warn("close redis client", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("close store", zap.Error(err))
		}
	}
}
