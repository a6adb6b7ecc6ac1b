package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwrk-planet/chat-service/config"
	"github.com/cwrk-planet/chat-service/internal/hub"
	"github.com/cwrk-planet/chat-service/internal/metrics"
	"github.com/cwrk-planet/chat-service/internal/pg"
	"github.com/cwrk-planet/chat-service/internal/postgres"
	"github.com/cwrk-planet/chat-service/internal/security"
	"github.com/cwrk-planet/chat-service/internal/service"
	"github.com/cwrk-planet/chat-service/internal/storage"
	grpcx "github.com/cwrk-planet/chat-service/internal/transport/grpc"
	httpx "github.com/cwrk-planet/chat-service/internal/transport/http"
	"github.com/cwrk-planet/chat-service/internal/transport/ws"
	"github.com/cwrk-planet/chat-service/pkg/logger"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	lg := logger.Init(logger.Config{
		Env:       logger.Env(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     logger.ParseLevel(cfg.Logging.Level),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	lg.Info("starting chat-service", "env", cfg.Logging.Env, "version", cfg.Logging.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Error("chat-service stopped with error", "err", err)
		os.Exit(1)
	}
	lg.Info("stopped")
}

func run(ctx context.Context, cfg *config.Config, lg *slog.Logger) error {
	// --- postgres ---
	pool, err := pg.NewPool(ctx, pg.Config{
		DSN:               cfg.Postgres.DSN,
		MaxConns:          cfg.Postgres.MaxConns,
		MinConns:          cfg.Postgres.MinConns,
		MaxConnLifetime:   cfg.Postgres.MaxConnLifetime,
		MaxConnIdleTime:   cfg.Postgres.MaxConnIdleTime,
		HealthCheckPeriod: cfg.Postgres.HealthCheckPeriod,
		ApplicationName:   cfg.Postgres.ApplicationName,
		SlowQuery:         cfg.Postgres.SlowQuery,
		Logger:            lg,
	})
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// --- repos & storage ---
	messages := postgres.NewMessageRepo(pool)
	reactions := postgres.NewReactionRepo(pool)
	attachments := postgres.NewAttachmentRepo(pool)
	users := postgres.NewUserRepo(pool)

	blobs, err := newBlobStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	// --- metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// --- hub & services ---
	userSvc := service.NewUserService(users, lg)
	h := hub.New(hub.Options{Logger: lg, Observer: m, Presence: userSvc})

	msgSvc := service.NewMessageService(service.MessageDeps{
		Messages:    messages,
		Reactions:   reactions,
		Attachments: attachments,
		Users:       users,
		Bus:         h,
		Recorder:    m,
		Logger:      lg,
	}, cfg.Chat.MaxMessageLength, cfg.Chat.HistoryLimit)
	reactSvc := service.NewReactionService(service.ReactionDeps{
		Messages:  messages,
		Reactions: reactions,
		Users:     users,
		Bus:       h,
		Recorder:  m,
		Logger:    lg,
	})
	fileSvc := service.NewAttachmentService(messages, attachments, blobs, m, lg, service.UploadLimits{
		MaxSize:           cfg.Upload.MaxSize,
		AllowedExtensions: cfg.Upload.AllowedExtensions,
	})

	// --- auth ---
	pub, err := security.LoadRSAPublicKey(cfg.Auth.PublicKeyPath)
	if err != nil {
		return fmt.Errorf("load public key: %w", err)
	}
	resolver := security.NewResolver(security.NewVerifier(pub, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.ClockSkew), userSvc)

	// --- WS ---
	wsServer := ws.NewServer(ws.Deps{
		Hub:       h,
		Auth:      resolver,
		Messages:  msgSvc,
		Reactions: reactSvc,
		Rejects:   m,
		Logger:    lg,
	}, ws.Config{
		SendBuffer:   cfg.Hub.SendBuffer,
		PingInterval: cfg.Hub.PingInterval,
		WriteTimeout: cfg.Hub.WriteTimeout,
		MaxFrameSize: cfg.Hub.MaxFrameSize,
		RateBurst:    cfg.Hub.RateBurst,
		RatePerSec:   cfg.Hub.RatePerSec,
		Reconnect: &hub.ReconnectHint{
			BaseMs:      cfg.Reconnect.Base.Milliseconds(),
			CapMs:       cfg.Reconnect.Cap.Milliseconds(),
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			Jitter:      cfg.Reconnect.Jitter,
		},
	})

	// --- HTTP ---
	health := func(ctx context.Context) error { return pg.Ping(ctx, pool) }
	router := httpx.NewRouter(httpx.Deps{
		Handler:      httpx.NewHandler(msgSvc, reactSvc, fileSvc, userSvc, h),
		Auth:         resolver,
		WS:           wsServer.HandleWS,
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Health:       health,
		AllowOrigins: cfg.HTTP.AllowOrigins,
	})
	httpSrv := httpx.NewServer(httpx.ServerConfig{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}, router)
	httpSrv.OnShutdown = wsServer.Shutdown

	// --- gRPC (health) ---
	grpcSrv := grpcx.NewServer(grpcx.Config{Addr: cfg.GRPC.Addr}, health, lg)

	// --- run both servers ---
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)
	go func() {
		lg.Info("http listen", "addr", cfg.HTTP.Addr)
		errCh <- httpSrv.Run(runCtx)
	}()
	go func() { errCh <- grpcSrv.Run(runCtx) }()

	// первый вернувшийся (ошибка или сигнал) гасит второй
	var errs []error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	return errors.Join(errs...)
}

func newBlobStore(ctx context.Context, cfg config.Storage) (service.BlobStore, error) {
	switch cfg.Backend {
	case "", "local":
		st, err := storage.NewLocalStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "s3":
		st, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Prefix:          cfg.S3.Prefix,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
