package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/musicsync/server/internal/controller"
	"github.com/musicsync/server/internal/metrics"
	connInmemory "github.com/musicsync/server/internal/repository/connection/inmemory"
	roomInmemory "github.com/musicsync/server/internal/repository/room/inmemory"
	trackRedis "github.com/musicsync/server/internal/repository/track/redis"
	"github.com/musicsync/server/internal/service/room"
	"github.com/musicsync/server/pkg/ctxlogger"
	"github.com/musicsync/server/pkg/protocol"
	"github.com/musicsync/server/pkg/redisclient"
)

const shutdownTimeout = 30 * time.Second

type AppConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	LogLevel          string        `json:"log_level"`
	LogFormat         string        `json:"log_format"`
	DriftThreshold    float64       `json:"drift_threshold"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	RoomTTL           time.Duration `json:"room_ttl"`
	ReapInterval      time.Duration `json:"reap_interval"`
	TrackTTL          time.Duration `json:"track_ttl"`
	RedisPort         int           `json:"redis_port"`
	RedisHost         string        `json:"redis_host"`
	RedisPassword     string        `json:"-"`
}

func (cfg *AppConfig) Validate() error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", cfg.Port)
	}
	switch cfg.LogFormat {
	case "json", "text", "zap":
	default:
		return fmt.Errorf("log format must be one of json, text, zap, got %q", cfg.LogFormat)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if cfg.DriftThreshold <= 0 {
		return errors.New("drift threshold must be greater than 0")
	}
	if cfg.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be greater than 0")
	}
	if cfg.RoomTTL < 0 {
		return errors.New("room ttl must not be negative")
	}
	if cfg.RoomTTL > 0 && cfg.ReapInterval <= 0 {
		return errors.New("reap interval must be greater than 0 when room ttl is set")
	}
	if cfg.TrackTTL <= 0 {
		return errors.New("track ttl must be greater than 0")
	}

	return nil
}

// NewLogger builds the process logger; every format is wrapped in
// ctxlogger so attributes stored in the context are emitted.
func NewLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var h slog.Handler
	switch format {
	case "text":
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	case "zap":
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(w),
			zapcore.DebugLevel,
		)
		h = slogzap.Option{Level: logLevel, Logger: zap.New(core)}.NewZapHandler()
	default:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		})
	}

	return slog.New(&ctxlogger.ContextHandler{Handler: h}), nil
}

func Run(ctx context.Context, cfg *AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := NewLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	rc, err := redisclient.NewRedisClient(ctx, &redisclient.Config{
		Port:     cfg.RedisPort,
		Host:     cfg.RedisHost,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}
	defer rc.Close()

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	return serve(ctx, ln, cfg, rc, logger)
}

// serve wires the in-memory state, the service and the HTTP surface on ln and
// blocks until ctx is cancelled and the server has shut down.
func serve(ctx context.Context, ln net.Listener, cfg *AppConfig, rc *redis.Client, logger *slog.Logger) error {
	roomRepo := roomInmemory.NewRepo(logger)
	connRepo := connInmemory.NewRepo(logger)
	trackRepo := trackRedis.NewRepo(rc, cfg.TrackTTL)
	roomService := room.NewService(roomRepo, connRepo, trackRepo, &room.Config{
		RoomTTL: cfg.RoomTTL,
	}, logger)

	m := metrics.New()
	m.RegisterGauges(roomRepo.Len, connRepo.Len)

	ctrl := controller.NewController(roomService, connRepo, protocol.SyncPolicyPayload{
		DriftThreshold:      cfg.DriftThreshold,
		HeartbeatIntervalMs: cfg.HeartbeatInterval.Milliseconds(),
	}, m, logger)
	server := &http.Server{
		Handler:           ctrl.GetMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go roomService.RunReaper(reaperCtx, cfg.ReapInterval)

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "starting server", "address", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return <-errCh
}
