package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/troikatech/pbx-voice-bridge/internal/api"
	"github.com/troikatech/pbx-voice-bridge/internal/api/handlers"
	"github.com/troikatech/pbx-voice-bridge/internal/bridge"
	"github.com/troikatech/pbx-voice-bridge/pkg/ari"
	"github.com/troikatech/pbx-voice-bridge/pkg/audit"
	"github.com/troikatech/pbx-voice-bridge/pkg/calllog"
	"github.com/troikatech/pbx-voice-bridge/pkg/env"
	"github.com/troikatech/pbx-voice-bridge/pkg/logger"
	"github.com/troikatech/pbx-voice-bridge/pkg/media"
	"github.com/troikatech/pbx-voice-bridge/pkg/mongo"
	"github.com/troikatech/pbx-voice-bridge/pkg/otel"
	"github.com/troikatech/pbx-voice-bridge/pkg/ownership"
	"github.com/troikatech/pbx-voice-bridge/pkg/tts"
)

const version = "1.0.0"

// BridgeServer runs the event listener, the channel handlers and the HTTP
// API in one process.
type BridgeServer struct {
	cfg         *env.Config
	redisClient *redis.Client
	mongoClient *mongo.Client
	bridge      *bridge.Bridge
	listener    *bridge.Listener
	httpServer  *http.Server
}

func main() {
	cfg, err := env.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.LogLevel, cfg.AppEnv); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if cfg.OTELEnabled {
		shutdown, err := otel.InitTracing(otel.TracingConfig{
			Version:     version,
			Environment: cfg.AppEnv,
			ARIApp:      cfg.ARIApp,
			Endpoint:    cfg.OTELEndpoint,
		})
		if err != nil {
			logger.Log.Warn("Failed to initialize OpenTelemetry", zap.Error(err))
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(ctx)
			}()
			logger.Log.Info("OpenTelemetry tracing enabled",
				zap.String("endpoint", cfg.OTELEndpoint),
				zap.String("ari_app", cfg.ARIApp),
			)
		}
	}

	logger.Log.Info("Starting voice bridge",
		zap.String("env", cfg.AppEnv),
		zap.String("port", cfg.AppPort),
		zap.String("ari_app", cfg.ARIApp),
	)

	server, err := newBridgeServer(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize server", zap.Error(err))
	}
	server.run()
}

func newBridgeServer(cfg *env.Config) (*BridgeServer, error) {
	s := &BridgeServer{cfg: cfg}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		s.redisClient = redis.NewClient(opt)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.redisClient.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		logger.Log.Info("Redis connected")
	} else {
		logger.Log.Info("Redis not configured, rate limiting and idempotency keys disabled")
	}

	if cfg.MongoURI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient, err := mongo.NewClient(ctx, mongo.Config{
			URI:      cfg.MongoURI,
			Database: cfg.DBName,
			ARIApp:   cfg.ARIApp,
		}, logger.Named("mongo"))
		if err != nil {
			return nil, err
		}
		s.mongoClient = mongoClient
	}

	store, err := media.NewStore(cfg.MediaRoot, cfg.PublicBaseURL)
	if err != nil {
		return nil, err
	}

	ariClient := ari.NewClient(ari.Config{
		BaseURL:      cfg.ARIBaseURL,
		Username:     cfg.ARIUsername,
		Password:     cfg.ARIPassword,
		ReadTimeout:  cfg.ARIReadTimeout,
		WriteTimeout: cfg.ARIWriteTimeout,
	})

	provider, err := tts.NewProvider(cfg.TTSProvider,
		tts.OpenAIConfig{
			APIKey:  cfg.OpenAIApiKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAITTSModel,
			Voice:   cfg.OpenAITTSVoice,
			Format:  cfg.OpenAITTSFormat,
			Timeout: cfg.TTSTimeout,
		},
		tts.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabsApiKey,
			VoiceID:      cfg.ElevenLabsVoiceID,
			ModelID:      cfg.ElevenLabsModel,
			OutputFormat: cfg.ElevenLabsOutputFormat,
			Timeout:      cfg.TTSTimeout,
		},
		logger.Named("tts"),
	)
	if err != nil {
		return nil, err
	}
	synth := tts.NewSynthesizer(provider, store, logger.Named("tts")).WithBudget(cfg.TTSTimeout)
	if !synth.IsAvailable() {
		logger.Log.Warn("TTS provider has no API key, greetings will use the fallback sound",
			zap.String("provider", provider.Name()),
			zap.String("fallback", cfg.FallbackSound),
		)
	}

	var calls calllog.Store
	if s.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		calls = calllog.NewMongoSink(ctx, s.mongoClient, logger.Named("calllog"))
		cancel()
	} else {
		calls = calllog.NewMemorySink(1000)
		logger.Log.Info("MongoDB not configured, call records kept in memory")
	}

	var owners ownership.Registry
	if cfg.ChannelDedup {
		if s.redisClient != nil {
			owners = ownership.NewRedisRegistry(s.redisClient, 0)
		} else {
			owners = ownership.NewMemoryRegistry()
		}
	}

	bridgeCfg := bridge.DefaultConfig()
	bridgeCfg.App = cfg.ARIApp
	bridgeCfg.GreetingText = cfg.GreetingText
	bridgeCfg.FallbackSound = cfg.FallbackSound
	bridgeCfg.PlaybackWait = cfg.PlaybackWait
	bridgeCfg.DialEndpointTemplate = cfg.DialEndpointTemplate
	bridgeCfg.DialCallerID = cfg.DialCallerID

	s.bridge = bridge.New(bridgeCfg, bridge.Deps{
		Control:   ariClient,
		Synth:     synth,
		Publisher: store,
		Sink:      calls,
		Owners:    owners,
		Logger:    logger.Named("bridge"),
	})

	s.listener = bridge.NewListener(
		bridge.ListenerConfig{
			ReconnectDelay:    cfg.EventsReconnectDelay,
			ReconnectMaxDelay: cfg.EventsReconnectMaxDelay,
		},
		ari.NewWebsocketDialer(ari.StreamConfig{
			EventsURL:    cfg.ARIEventsURL,
			App:          cfg.ARIApp,
			Username:     cfg.ARIUsername,
			Password:     cfg.ARIPassword,
			PingInterval: cfg.EventsPingInterval,
		}),
		s.bridge,
		logger.Named("listener"),
	)

	h := handlers.NewHandler(handlers.Deps{
		Ops:      s.bridge,
		Media:    store,
		Calls:    calls,
		Audit:    audit.New(s.mongoClient, logger.Log),
		Exchange: ariClient,
		Speech:   synth,
		Redis:    s.redisClient,
		Mongo:    s.mongoClient,
		Logger:   logger.Named("api"),
	})

	s.httpServer = &http.Server{
		Addr:        ":" + cfg.AppPort,
		Handler:     api.NewRouter(cfg, h, s.redisClient),
		ReadTimeout: 15 * time.Second,
		// /play waits for synthesis, capped at TTS_TIMEOUT across retries,
		// and then one exchange write.
		WriteTimeout: cfg.TTSTimeout + cfg.ARIWriteTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

func (s *BridgeServer) run() {
	listenCtx, stopListener := context.WithCancel(context.Background())
	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		s.listener.Run(listenCtx)
	}()

	go func() {
		logger.Log.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	stopListener()
	<-listenerDone

	// In-flight calls finish their greeting and hang up on their own.
	drained := make(chan struct{})
	go func() {
		s.bridge.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.cfg.PlaybackWait + s.cfg.TTSTimeout + 2*s.cfg.ARIWriteTimeout):
		logger.Log.Warn("Timed out waiting for channel handlers")
	}

	s.close()
	logger.Log.Info("Server exited")
}

func (s *BridgeServer) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.mongoClient != nil {
		if err := s.mongoClient.Disconnect(ctx); err != nil {
			logger.Log.Warn("Failed to disconnect MongoDB", zap.Error(err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			logger.Log.Warn("Failed to close Redis", zap.Error(err))
		}
	}
}
