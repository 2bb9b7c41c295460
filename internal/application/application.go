package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/psds-microservice/homecam-relay/internal/camera"
	"github.com/psds-microservice/homecam-relay/internal/clock"
	"github.com/psds-microservice/homecam-relay/internal/codestore"
	"github.com/psds-microservice/homecam-relay/internal/config"
	"github.com/psds-microservice/homecam-relay/internal/database"
	"github.com/psds-microservice/homecam-relay/internal/events"
	"github.com/psds-microservice/homecam-relay/internal/handler"
	"github.com/psds-microservice/homecam-relay/internal/ratelimit"
	"github.com/psds-microservice/homecam-relay/internal/router"
	"github.com/psds-microservice/homecam-relay/internal/service"
	"github.com/psds-microservice/homecam-relay/internal/token"
)

const (
	serviceName     = "homecam-relay"
	shutdownTimeout = 10 * time.Second
	eventQueueSize  = 256
)

// API is the HTTP + signaling WebSocket application: codes, sessions, media URLs.
type API struct {
	cfg      *config.Config
	srv      *http.Server
	logger   *zap.Logger
	store    codestore.Store
	db       *gorm.DB
	events   events.Publisher
	sessions *service.SessionStore
	hub      *service.SignalingHub
	limiter  *ratelimit.Limiter
}

// NewAPI creates the API application: validates config, connects the code store,
// runs migrations and opens the camera directory when a database is configured, builds router.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger := newLogger(cfg)
	clk := clock.RealClock{}

	tokens, err := newTokenService(cfg, logger)
	if err != nil {
		return nil, err
	}
	store, err := newCodeStore(cfg, clk, logger)
	if err != nil {
		return nil, err
	}

	var (
		db  *gorm.DB
		dir camera.Directory
	)
	if cfg.HasDatabase() {
		if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		db, err = database.Open(cfg.DSN())
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("database: %w", err)
		}
		dir = camera.NewGormDirectory(db)
	} else {
		logger.Warn("DB_HOST not set, camera directory is in-memory")
		dir = camera.NewMemoryDirectory()
	}

	pub := newEventPublisher(cfg, "api", logger)
	sessions := service.NewSessionStore(clk, logger)
	codes := service.NewCodeService(store, service.CodeServiceConfig{
		PINTTL:      cfg.CodePINTTL,
		QRTTL:       cfg.CodeQRTTL,
		MaxAttempts: cfg.CodeMaxAttempts,
	}, clk, logger)
	hub := service.NewSignalingHub(service.SignalingHubOptions{
		Directory:  dir,
		Sessions:   sessions,
		Events:     pub,
		SendBuffer: cfg.WSSendBuffer,
	}, logger)
	limiter := ratelimit.New(cfg.RateLimitCodeMax, cfg.RateLimitCodeWindow, clk)
	media := &service.WSConfig{BaseURL: cfg.RelayPublicURL, Tokens: tokens}

	r := router.NewAPI(router.APIHandlers{
		Health:      handler.NewHealthHandler(serviceName, map[string]handler.Pinger{"code_store": store}),
		Codes:       handler.NewCodeHandler(codes, dir, media, logger),
		Sessions:    handler.NewSessionHandler(sessions, dir),
		Signaling:   handler.NewSignalingHandler(hub, cfg.WSReadBufferSize, cfg.WSWriteBufferSize, logger),
		CodeLimiter: limiter,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &API{
		cfg:      cfg,
		srv:      srv,
		logger:   logger,
		store:    store,
		db:       db,
		events:   pub,
		sessions: sessions,
		hub:      hub,
		limiter:  limiter,
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled; then shuts down gracefully.
func (a *API) Run(ctx context.Context) error {
	defer a.logger.Sync() //nolint:errcheck

	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	a.logger.Info("HTTP server listening",
		zap.String("addr", a.srv.Addr),
		zap.String("health", base+"/health"),
		zap.String("codes", base+"/codes"),
		zap.String("sessions", base+"/sessions"),
		zap.String("signaling", "ws://"+host+":"+a.cfg.HTTPPort+"/ws/signaling/:user_id"),
		zap.String("relay", a.cfg.RelayPublicURL))

	go a.sessions.Start(ctx, a.cfg.SessionSweepInterval, a.cfg.SessionTimeout)
	go a.housekeeping(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			a.release()
			return fmt.Errorf("http: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := a.srv.Shutdown(shutdownCtx)
	a.hub.CloseAll()
	a.release()
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	a.logger.Info("api stopped")
	return nil
}

// housekeeping prunes rate-limit buckets and, for the in-memory store, expired keys.
func (a *API) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.limiter.Prune()
			if mem, ok := a.store.(*codestore.MemoryStore); ok {
				if n := mem.Purge(now); n > 0 {
					a.logger.Debug("expired codes purged", zap.Int("keys", n))
				}
			}
		}
	}
}

func (a *API) release() {
	a.events.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("code store close", zap.Error(err))
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func newTokenService(cfg *config.Config, logger *zap.Logger) (*token.HMACService, error) {
	secret, generated, err := token.LoadSecret(cfg.MediaTokenSecret)
	if err != nil {
		return nil, fmt.Errorf("media token secret: %w", err)
	}
	if generated {
		logger.Warn("MEDIA_TOKEN_SECRET not set, using a random secret; API and relay will not accept each other's tokens")
	}
	return token.NewHMACService(secret, cfg.MediaTokenMaxAge), nil
}

func newCodeStore(cfg *config.Config, clk clock.Clock, logger *zap.Logger) (codestore.Store, error) {
	if cfg.Redis.Addr == "" {
		logger.Warn("REDIS_ADDR not set, connection codes are kept in memory of this process")
		return codestore.NewMemoryStore(clk), nil
	}
	store := codestore.NewRedisStore(codestore.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
	}
	logger.Info("code store connected", zap.String("redis", cfg.Redis.Addr))
	return store, nil
}

// newEventPublisher returns an async MQTT publisher, or Nop when no broker is configured
// or the broker is unreachable at startup.
func newEventPublisher(cfg *config.Config, instance string, logger *zap.Logger) events.Publisher {
	if cfg.MQTTBrokerURL == "" {
		return events.Nop{}
	}
	mq, err := events.NewMQTTPublisher(cfg.MQTTBrokerURL, cfg.MQTTTopicPrefix, instance, logger)
	if err != nil {
		logger.Warn("mqtt events disabled", zap.Error(err))
		return events.Nop{}
	}
	return events.NewAsync(mq, eventQueueSize, logger)
}
