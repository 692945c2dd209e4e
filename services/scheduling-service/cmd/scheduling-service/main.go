package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicslots/libs/config"
	"github.com/md-rashed-zaman/clinicslots/libs/db"
	"github.com/md-rashed-zaman/clinicslots/libs/grpcx"
	"github.com/md-rashed-zaman/clinicslots/libs/httpx"
	"github.com/md-rashed-zaman/clinicslots/libs/kafkax"
	otelx "github.com/md-rashed-zaman/clinicslots/libs/otel"
	"github.com/md-rashed-zaman/clinicslots/libs/runtime"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/cache"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/consumer"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/handlers"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/inbox"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/jobs"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/scheduling"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/settings"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/internal/storage"
	"github.com/md-rashed-zaman/clinicslots/services/scheduling-service/migrations"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9095")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{
		MaxConns:        int32(config.Int("DB_MAX_CONNS", 0)),
		MinConns:        int32(config.Int("DB_MIN_CONNS", 0)),
		MaxConnLifetime: config.Duration("DB_MAX_CONN_LIFETIME", 0),
		MaxConnIdleTime: config.Duration("DB_MAX_CONN_IDLE_TIME", 0),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if config.Bool("AUTO_MIGRATE", false) {
		n, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
		if err != nil {
			logger.Error("migrations failed", "err", err)
			panic(err)
		}
		logger.Info("migrations applied", "count", n)
	}

	brokers := config.String("KAFKA_BROKERS", "")
	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}

	var (
		store   cache.Store = cache.NewMemoryStore()
		limiter httpx.Limiter
	)
	rateLimit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
		store = cache.NewRedisStore(rdb, config.String("CACHE_KEY_PREFIX", "slots"))
		limiter = httpx.NewRedisRateLimiter(rdb, rateLimit, time.Minute, service+":rl")
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: cache.ReadyCheck(rdb)})
	} else {
		logger.Warn("REDIS_ADDR not set; availability cache and rate limits are per instance")
		limiter = httpx.NewRateLimiter(rateLimit, time.Minute)
	}

	scheduleRepo := storage.NewScheduleRepository(pool)
	bookingRepo := storage.NewBookingRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	provider := scheduling.NewProvider(scheduleRepo, bookingRepo, config.String("DEFAULT_TIMEZONE", "UTC"))
	availabilityCache := cache.New(store, provider, logger, cache.Config{
		TTL:         config.Duration("AVAILABILITY_CACHE_TTL", cache.DefaultTTL),
		LoadTimeout: config.Duration("AVAILABILITY_LOAD_TIMEOUT", 5*time.Second),
	})
	recorder := booking.NewRecorder(bookingRepo, scheduleRepo, outboxRepo, provider, availabilityCache, logger)
	viewSettings := settings.NewManager(settings.NewRepository(pool), nil, logger)
	inboxRepo := inbox.NewRepository(pool)

	housekeeper := jobs.NewHousekeeper(map[string]jobs.Purger{
		"outbox": jobs.PurgeFunc(outboxRepo.PurgePublished),
		"inbox":  inboxRepo,
	}, scheduleRepo, provider, availabilityCache, logger, jobs.HousekeeperConfig{
		Interval:  config.Duration("HOUSEKEEPING_INTERVAL", time.Minute),
		Retention: config.Duration("EVENT_RETENTION", 7*24*time.Hour),
		WarmLimit: config.Int("CACHE_WARM_LIMIT", 200),
	})
	go housekeeper.Run(ctx)

	if brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})

		publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   brokers,
			PollEvery: config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
			BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
		})
		go publisher.Run(ctx)

		// Every instance keeps its own group so each one sees every change.
		invalidations := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: service + "-" + instanceID(),
			Topic:   config.String("KAFKA_AVAILABILITY_TOPIC", outbox.TopicAvailabilityChanged),
		}, consumer.InvalidateAvailability(availabilityCache))
		go invalidations.Run(ctx)
	} else {
		logger.Warn("KAFKA_BROKERS not set; availability changes are not shared between instances")
	}

	grpcServer, health := grpcx.NewServer(logger)
	grpcAddr := ":" + grpcPort
	readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "grpc", Check: grpcx.ReadyCheck("127.0.0.1"+grpcAddr, "")})

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	handlers.Routes{
		Availability: handlers.NewAvailabilityHandler(availabilityCache, availability.NewValidator(availabilityCache, provider), logger),
		Bookings:     handlers.NewBookingHandler(availabilityCache, recorder, recorder, logger),
		Resources:    handlers.NewResourceHandler(scheduleRepo, recorder, logger),
		Settings:     handlers.NewSettingsHandler(viewSettings, logger),
	}.Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicyFor(config.String("CORS_ALLOWED_ORIGINS", ""))),
		httpx.WithRateLimit(limiter, logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true)),
		httpx.WithBodyLimit(int64(config.Int("MAX_BODY_BYTES", 1<<20))),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			logger.Error("grpc listen failed", "err", err)
			return
		}
		logger.Info("grpc server starting", "addr", grpcAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	runtime.Shutdown(logger, 10*time.Second,
		runtime.ShutdownStep{Name: "http", Stop: srv.Shutdown},
		runtime.ShutdownStep{Name: "grpc", Stop: func(ctx context.Context) error {
			done := make(chan struct{})
			go func() {
				grpcServer.GracefulStop()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				grpcServer.Stop()
				return ctx.Err()
			}
		}},
	)
}

func instanceID() string {
	if id := strings.TrimSpace(config.String("INSTANCE_ID", "")); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		slog.Default().Warn("hostname unavailable; using shared consumer group", "err", err)
		return "default"
	}
	return host
}
