package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/internal/api"
	"github.com/hallcall/hallcall-api/internal/api/handlers"
	"github.com/hallcall/hallcall-api/internal/dialer"
	"github.com/hallcall/hallcall-api/internal/store"
	"github.com/hallcall/hallcall-api/pkg/auth"
	"github.com/hallcall/hallcall-api/pkg/calendar"
	"github.com/hallcall/hallcall-api/pkg/env"
	"github.com/hallcall/hallcall-api/pkg/logger"
	"github.com/hallcall/hallcall-api/pkg/mailer"
	"github.com/hallcall/hallcall-api/pkg/mongo"
	"github.com/hallcall/hallcall-api/pkg/oauth"
	"github.com/hallcall/hallcall-api/pkg/otel"
	"github.com/hallcall/hallcall-api/pkg/queue"
	"github.com/hallcall/hallcall-api/pkg/storage"
	"github.com/hallcall/hallcall-api/pkg/telephony"
	"github.com/hallcall/hallcall-api/pkg/validation"
	"github.com/hallcall/hallcall-api/pkg/voice"
)

const version = "1.0.0"

// server runs the HTTP API, the campaign dialer and the dial task worker in
// one process.
type server struct {
	cfg     *env.Config
	http    *http.Server
	dialer  *dialer.Dialer
	worker  *queue.Server
	queue   *queue.Client
	redis   *redis.Client
	mongo   *mongo.Client
	cleanup []func(context.Context) error
}

func main() {
	cfg, err := env.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	if err := logger.Init(cfg.LogLevel, cfg.AppEnv); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Log.Info("Starting HallCall API",
		zap.String("env", cfg.AppEnv),
		zap.String("port", cfg.AppPort),
		zap.String("version", version),
	)

	srv, err := newServer(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to start", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv.run(ctx)
}

func newServer(cfg *env.Config) (*server, error) {
	s := &server{cfg: cfg}

	if cfg.OTELEnabled {
		shutdown, err := otel.InitTracing("hallcall-api", version, cfg.AppEnv, cfg.OTELEndpoint)
		if err != nil {
			logger.Log.Warn("Failed to initialize OpenTelemetry", zap.Error(err))
		} else {
			s.cleanup = append(s.cleanup, shutdown)
			logger.Log.Info("OpenTelemetry tracing enabled", zap.String("endpoint", cfg.OTELEndpoint))
		}
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	s.redis = redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	s.mongo, err = mongo.NewClient(cfg.MongoURI, cfg.DBName)
	if err != nil {
		return nil, err
	}
	st := store.New(s.mongo)
	if err := st.EnsureIndexes(ctx); err != nil {
		logger.Log.Warn("Failed to ensure indexes", zap.Error(err))
	}

	if err := validation.RegisterBindings(); err != nil {
		return nil, err
	}

	voiceClient := voice.NewClient(voice.Config{
		APIKey:       cfg.ElevenLabsAPIKey,
		BaseURL:      cfg.ElevenLabsBaseURL,
		VoiceID:      cfg.ElevenLabsVoiceID,
		ModelID:      cfg.ElevenLabsModel,
		OutputFormat: cfg.ElevenLabsOutputFormat,
		Timeout:      cfg.VendorTimeout(),
	}, logger.Named("voice"))
	if !voiceClient.IsAvailable() {
		logger.Log.Warn("ELEVENLABS_API_KEY not set, agent features will fail")
	}

	twilio := telephony.NewClient(cfg.TwilioBaseURL, cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.VendorTimeout(), logger.Named("twilio"))
	mail := mailer.New(cfg.ResendBaseURL, cfg.ResendAPIKey, cfg.MailFrom, cfg.VendorTimeout(), logger.Named("mailer"))

	audio, err := storage.NewDriver(cfg.StorageDriver, voiceClient, cfg.LocalStoragePath)
	if err != nil {
		return nil, err
	}

	oauthManager := oauth.NewManager(oauth.Config{
		RedirectBaseURL:       cfg.OAuthRedirectBaseURL,
		GoogleClientID:        cfg.GoogleClientID,
		GoogleClientSecret:    cfg.GoogleClientSecret,
		MicrosoftClientID:     cfg.MicrosoftClientID,
		MicrosoftClientSecret: cfg.MicrosoftClientSecret,
		MicrosoftTenant:       cfg.MicrosoftTenant,
	}, oauth.NewRedisNonces(s.redis))
	calendars := calendar.NewService(calendar.Config{
		GoogleBaseURL: cfg.GoogleCalendarBaseURL,
		GraphBaseURL:  cfg.MicrosoftGraphBaseURL,
		Timeout:       cfg.VendorTimeout(),
	})

	issuer := auth.Issuer{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Duration(cfg.AccessTTLMin) * time.Minute,
	}
	refresh := auth.NewRefreshStore(s.mongo, cfg.RefreshTTLDays)
	otp := auth.NewOTPManager(st.OTP(), time.Duration(cfg.OTPTTLMin)*time.Minute, cfg.OTPMaxAttempts, store.NewID)

	s.queue, err = queue.NewClient(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	s.worker, err = queue.NewServer(cfg.RedisURL, cfg.WorkerConcurrency, queue.ParseQueueWeights(cfg.WorkerQueues), logger.Named("worker"))
	if err != nil {
		return nil, err
	}
	s.dialer = dialer.New(st, s.redis, s.queue, voiceClient, dialer.Config{
		Interval:    time.Duration(cfg.DialerIntervalSec) * time.Second,
		CallsPerSec: cfg.DialerCallsPerSec,
		BatchSize:   cfg.DialerBatchSize,
	})
	s.worker.Register(dialer.TaskDial, s.dialer.HandleDial)

	h := handlers.NewHandler(handlers.Deps{
		Config:    cfg,
		Store:     st,
		Redis:     s.redis,
		Voice:     voiceClient,
		Twilio:    twilio,
		Mailer:    mail,
		Audio:     audio,
		OAuth:     oauthManager,
		Calendars: calendars,
		Dialer:    s.dialer,
		Issuer:    issuer,
		Refresh:   refresh,
		OTP:       otp,
	})

	router := api.NewRouter(api.Options{
		Config:  cfg,
		Redis:   s.redis,
		Issuer:  issuer,
		Handler: h,
	})

	s.http = &http.Server{
		Addr:         ":" + cfg.AppPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *server) run(ctx context.Context) {
	go s.dialer.Run(ctx)

	go func() {
		if err := s.worker.Run(ctx); err != nil {
			logger.Log.Error("Worker stopped", zap.Error(err))
		}
	}()

	go func() {
		logger.Log.Info("HTTP server listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := s.queue.Close(); err != nil {
		logger.Log.Warn("Failed to close queue client", zap.Error(err))
	}
	if err := s.redis.Close(); err != nil {
		logger.Log.Warn("Failed to close Redis", zap.Error(err))
	}
	if err := s.mongo.Disconnect(shutdownCtx); err != nil {
		logger.Log.Warn("Failed to disconnect MongoDB", zap.Error(err))
	}
	for _, fn := range s.cleanup {
		if err := fn(shutdownCtx); err != nil {
			logger.Log.Warn("Cleanup failed", zap.Error(err))
		}
	}

	logger.Log.Info("Server exited")
}
