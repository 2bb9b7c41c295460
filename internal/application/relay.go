package application

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/psds-microservice/homecam-relay/internal/config"
	"github.com/psds-microservice/homecam-relay/internal/discovery"
	"github.com/psds-microservice/homecam-relay/internal/handler"
	"github.com/psds-microservice/homecam-relay/internal/metrics"
	"github.com/psds-microservice/homecam-relay/internal/router"
	"github.com/psds-microservice/homecam-relay/internal/service"
)

// Relay is the media relay process: token-admitted WebSockets, one publisher per camera fanned out to viewers.
type Relay struct {
	cfg    *config.Config
	srv    *http.Server
	logger *zap.Logger
	hub    *service.MediaHub

	grpcSrv    *grpc.Server
	grpcHealth *health.Server
	advertiser *discovery.Advertiser
}

// NewRelay builds the relay. The gRPC health service and mDNS advertisement are optional.
func NewRelay(cfg *config.Config) (*Relay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger := newLogger(cfg).With(zap.String("process", "relay"))

	tokens, err := newTokenService(cfg, logger)
	if err != nil {
		return nil, err
	}
	hub := service.NewMediaHub(service.MediaHubOptions{
		ReadBufferSize:  cfg.WSReadBufferSize,
		WriteBufferSize: cfg.WSWriteBufferSize,
		MaxMessageSize:  cfg.WSMaxMessageSize,
		SendBuffer:      cfg.WSSendBuffer,
		Metrics:         &metrics.Relay{},
	}, logger)

	r := router.NewRelay(
		handler.NewHealthHandler(serviceName+"-relay", nil),
		handler.NewStreamWSHandler(hub, tokens, logger),
		logger,
	)
	rl := &Relay{
		cfg:    cfg,
		logger: logger,
		hub:    hub,
		srv: &http.Server{
			Addr:              cfg.RelayAddr(),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}

	if cfg.GRPCEnabled() {
		rl.grpcSrv = grpc.NewServer()
		rl.grpcHealth = health.NewServer()
		healthpb.RegisterHealthServer(rl.grpcSrv, rl.grpcHealth)
	}
	if cfg.MDNSEnabled {
		port, err := strconv.Atoi(cfg.RelayPort)
		if err != nil {
			return nil, fmt.Errorf("config: RELAY_PORT %q: %w", cfg.RelayPort, err)
		}
		rl.advertiser = discovery.NewAdvertiser(discovery.Config{
			Instance:  cfg.MDNSInstance,
			Port:      port,
			PublicURL: cfg.RelayPublicURL,
		}, logger)
	}
	return rl, nil
}

// Run serves until ctx is cancelled, then closes every media socket with 1001 and shuts down.
// Listeners are bound before anything is served, so a busy port fails Run without side effects.
func (rl *Relay) Run(ctx context.Context) error {
	defer rl.logger.Sync() //nolint:errcheck

	var grpcLis net.Listener
	if rl.grpcSrv != nil {
		addr := net.JoinHostPort(rl.cfg.RelayHost, rl.cfg.RelayGRPCPort)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("grpc listen %s: %w", addr, err)
		}
		grpcLis = lis
	}
	httpLis, err := net.Listen("tcp", rl.srv.Addr)
	if err != nil {
		if grpcLis != nil {
			_ = grpcLis.Close()
		}
		return fmt.Errorf("http listen %s: %w", rl.srv.Addr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		if err := rl.srv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	rl.logger.Info("media relay listening", zap.String("addr", rl.srv.Addr), zap.String("public_url", rl.cfg.RelayPublicURL))

	if grpcLis != nil {
		rl.grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		go func() {
			if err := rl.grpcSrv.Serve(grpcLis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
		rl.logger.Info("grpc health listening", zap.String("addr", grpcLis.Addr().String()))
	}

	if rl.advertiser != nil {
		if err := rl.advertiser.Start(); err != nil {
			// не фатально: LAN-обнаружение опционально
			rl.logger.Warn("mdns advertise failed", zap.Error(err))
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	if rl.advertiser != nil {
		rl.advertiser.Stop()
	}
	if rl.grpcSrv != nil {
		rl.grpcHealth.Shutdown()
		rl.grpcSrv.GracefulStop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = rl.srv.Shutdown(shutdownCtx)
	rl.hub.CloseAll()
	if runErr != nil {
		return runErr
	}
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	snap := rl.hub.Metrics().Snapshot()
	rl.logger.Info("media relay stopped", zap.Int64("frames_relayed", snap.FramesRelayed), zap.Int64("bytes_relayed", snap.BytesRelayed))
	return nil
}
