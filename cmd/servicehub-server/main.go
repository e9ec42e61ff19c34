package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/auth"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/config"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/notify"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/observability/metrics"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/service/booking"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/service/calendar"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/store"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/store/memory"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/store/postgres"
	grpcTransport "github.com/marwanabdalla1/ServiceHub-sub001/internal/transport/grpc"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/transport/httpapi"
)

type storage struct {
	timeslots store.TimeslotRepository
	slots     booking.Slots
	requests  store.RequestRepository
	ready     func(ctx context.Context) error
	close     func() error
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "servicehub-server"),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", "servicehub-server"),
	)
	slog.SetDefault(log)

	log.Info("starting",
		slog.String("grpc_addr", cfg.GRPCAddr()),
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("storage", cfg.StorageDriver),
		slog.String("notify", cfg.NotifyDriver),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStorage(ctx, log, cfg)
	if err != nil {
		os.Exit(1)
	}
	defer func() {
		if err := st.close(); err != nil {
			log.Warn("storage close failed", slog.Any("err", err))
		}
	}()

	notifier, closeNotifier, err := newNotifier(ctx, log, cfg)
	if err != nil {
		log.Error("notifier setup failed", slog.Any("err", err), slog.String("driver", cfg.NotifyDriver))
		os.Exit(1)
	}
	defer closeNotifier()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cal := calendar.NewService(st.timeslots, calendar.Options{
		MinDuration:    cfg.MinSlotDuration,
		PromoteHorizon: cfg.PromoteHorizon,
		MaxWindow:      cfg.MaxWindow,
		OpTimeout:      cfg.StorageOpTimeout,
		Location:       cfg.Location,
		Logger:         log,
		Metrics:        metrics.NewCalendarMetrics(reg),
	})
	coord := booking.NewCoordinator(st.slots, st.requests, notifier, booking.Options{
		OpTimeout: cfg.StorageOpTimeout,
		Location:  cfg.Location,
		Logger:    log,
		Metrics:   metrics.NewBookingMetrics(reg),
	})

	if cfg.JWTSecret == "" {
		log.Warn("auth.jwt_secret is empty; every authenticated call will be rejected")
	}
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			defaultRequestTimeoutInterceptor(cfg.GRPCRequestTimeout),
			grpcTransport.AuthInterceptor(verifier),
		),
	)
	grpcTransport.RegisterCalendarServer(grpcServer, grpcTransport.NewCalendarServer(cal, log))
	grpcTransport.RegisterBookingServer(grpcServer, grpcTransport.NewBookingServer(coord, log))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Config{
			Calendar: cal,
			Booking:  coord,
			Verifier: verifier,
			Logger:   log,
			Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			Ready:    st.ready,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr()))
		os.Exit(1)
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("servers started", slog.String("grpc_addr", cfg.GRPCAddr()), slog.String("http_addr", cfg.HTTPAddr))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		healthServer.Shutdown()
		shutdown(log, grpcServer, httpServer, cfg.ShutdownTimeout)
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("server stopped with error", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func openStorage(ctx context.Context, log *slog.Logger, cfg config.Config) (storage, error) {
	if cfg.StorageDriver == "memory" {
		log.Warn("using in-memory storage; data is lost on restart")
		st := memory.New()
		return storage{
			timeslots: st,
			slots:     st,
			requests:  st,
			ready:     func(context.Context) error { return nil },
			close:     func() error { return nil },
		}, nil
	}

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		return storage{}, err
	}
	timeslots := postgres.NewTimeslotRepo(db)
	return storage{
		timeslots: timeslots,
		slots:     timeslots,
		requests:  postgres.NewRequestRepo(db),
		ready:     func(ctx context.Context) error { return postgres.Ping(ctx, db) },
		close:     func() error { return postgres.Close(db) },
	}, nil
}

func newNotifier(ctx context.Context, log *slog.Logger, cfg config.Config) (notify.Notifier, func(), error) {
	switch cfg.NotifyDriver {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		log.Info("notifications go to redis stream", slog.String("stream", cfg.RedisStream))
		return notify.NewRedisStreamNotifier(client, cfg.RedisStream), func() { _ = client.Close() }, nil
	case "sqs":
		client, err := notify.NewSQSClient(ctx, notify.AWSOptions{
			Region:          cfg.AWSRegion,
			Endpoint:        cfg.AWSEndpoint,
			AccessKeyID:     cfg.AWSAccessKey,
			SecretAccessKey: cfg.AWSSecretKey,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("notifications go to sqs", slog.String("queue_url", cfg.SQSQueueURL))
		return notify.NewSQSNotifier(client, cfg.SQSQueueURL), func() {}, nil
	default:
		return notify.NewLogNotifier(log), func() {}, nil
	}
}

func defaultRequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

func shutdown(log *slog.Logger, g *grpc.Server, h *http.Server, timeout time.Duration) {
	log.Info("shutting down servers", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := h.Shutdown(ctx); err != nil {
		log.Warn("http graceful shutdown failed", slog.Any("err", err))
	}

	done := make(chan struct{})
	go func() {
		g.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-ctx.Done():
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		g.Stop()
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// databaseLogArgs describes the target database without leaking credentials.
func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
