package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinicmsg/config"
	"clinicmsg/database"
	"clinicmsg/handlers"
	"clinicmsg/logger"
	"clinicmsg/media"
	"clinicmsg/messaging"
	"clinicmsg/metrics"
	"clinicmsg/middleware"
	"clinicmsg/notify"
	"clinicmsg/presence"
	"clinicmsg/realtime"
	"clinicmsg/routes"
	"clinicmsg/sockio"
	"clinicmsg/store"
	"clinicmsg/websocket"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

type stores struct {
	conversations store.ConversationStore
	users         store.UserStore
	subs          store.SubscriptionStore
	ping          func(ctx context.Context) error
	close         func()
}

func main() {
	// Configure from the process environment first so configuration errors
	// use the same format as the rest of startup.
	logger.Init(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("❌ Failed to load configuration")
	}
	logger.Init(cfg.Env, cfg.LogLevel)
	logger.Info().Str("env", cfg.Env).Str("store", cfg.StoreDriver).Msg("🚀 Starting clinic messaging server...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("❌ Failed to open stores")
	}
	defer st.close()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatal().Err(err).Msg("❌ Failed to connect to Redis")
		}
		defer redisClient.Close()
		logger.Info().Str("addr", cfg.RedisAddr).Msg("✅ Redis connected")
	}

	// ===== PRESENCE =====
	registry := presence.NewRegistry(activityRecorder(st.users))
	if err := metrics.RegisterPresence(
		func() float64 { return float64(registry.OnlineUsers()) },
		func() float64 { return float64(registry.Connections()) },
	); err != nil {
		logger.Fatal().Err(err).Msg("❌ Failed to register presence metrics")
	}

	var broadcaster presence.Broadcaster = registry
	var relay *presence.RedisRelay
	if redisClient != nil {
		relay = presence.NewRedisRelay(registry, redisClient, cfg.RedisChannel)
		broadcaster = relay
	}

	// ===== NOTIFICATIONS =====
	var cooldown notify.Cooldown = notify.NewMemoryCooldown()
	if redisClient != nil {
		cooldown = notify.NewRedisCooldown(redisClient, "clinicmsg:notified:")
	}
	if cfg.VAPIDPublicKey == "" {
		logger.Warn().Msg("⚠️ VAPID keys not set, web push is disabled (generate them with cmd/vapidgen)")
	}
	checker := &notify.InactivityChecker{
		Users:    st.users,
		Presence: registry,
		Sender: &notify.WebPushSender{
			Subs:            st.subs,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			Subscriber:      cfg.VAPIDSubscriber,
		},
		Cooldown:  cooldown,
		Threshold: cfg.InactivityThreshold,
		Period:    cfg.NotifyCooldown,
	}
	// Workers outlive the signal context so shutdown can drain the queue.
	queueCtx, cancelQueue := context.WithCancel(context.Background())
	defer cancelQueue()
	queue := notify.NewQueue(checker, cfg.NotifyWorkers, cfg.NotifyQueueSize)
	queue.Start(queueCtx)

	// ===== DISPATCHER =====
	opts := []messaging.Option{}
	if cfg.VAPIDPrivateKey != "" {
		opts = append(opts, messaging.WithPostSendHook(messaging.NotifyHook(queue)))
	}
	uploader, err := newUploader(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("provider", cfg.MediaProvider).Msg("❌ Failed to configure media uploads")
	}
	if uploader != nil {
		opts = append(opts, messaging.WithUploader(uploader))
	}
	dispatcher := messaging.NewDispatcher(st.conversations, st.users, broadcaster, opts...)

	// ===== REAL-TIME =====
	rt := realtime.NewHandler(registry, dispatcher)
	wsManager := websocket.NewManager(rt, cfg.JWTSecret, cfg.AllowedOrigins)
	socketServer := sockio.NewServer(rt, cfg.JWTSecret)

	// ===== ROUTER =====
	if cfg.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	router := routes.SetupRouter(routes.Deps{
		Handler:        handlers.New(dispatcher, st.subs, cfg.VAPIDPublicKey, cfg.MessagePageSize),
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		Limiter:        limiter,
		WebSocket:      wsManager,
		SocketIO:       socketServer,
		Ping:           st.ping,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("port", cfg.Port).Msg("🌐 Server running")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := socketServer.Serve(); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		limiter.Cleanup(gctx)
		return nil
	})
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}

	// ===== GRACEFUL SHUTDOWN =====
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("🛑 Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		wsManager.Close()
		if err := socketServer.Close(); err != nil {
			logger.Warn().Err(err).Msg("socket.io close")
		}
		err := server.Shutdown(shutdownCtx)
		drained := make(chan struct{})
		go func() {
			queue.Close()
			close(drained)
		}()
		select {
		case <-drained:
		case <-shutdownCtx.Done():
			logger.Warn().Msg("notify queue did not drain before the shutdown timeout")
			cancelQueue()
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("❌ Server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("👋 Server stopped gracefully")
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreDriver == "memory" {
		mem := store.NewMemory(cfg.MessagePageSize)
		logger.Warn().Msg("⚠️ Using the in-memory store, data is lost on restart")
		return &stores{conversations: mem, users: mem, subs: mem, close: func() {}}, nil
	}

	logger.Info().Msg("🔌 Connecting to MongoDB...")
	m, err := database.ConnectMongo(cfg.MongoURI, cfg.MongoDatabase, 3)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("database", cfg.MongoDatabase).Msg("✅ MongoDB connected")

	indexCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := m.EnsureIndexes(indexCtx); err != nil {
		m.Disconnect()
		return nil, err
	}

	return &stores{
		conversations: store.NewMongoConversations(m.Conversations, database.UsersCollection, cfg.MessagePageSize),
		users:         store.NewMongoUsers(m.Users),
		subs:          store.NewMongoSubscriptions(m.Subscriptions),
		ping:          func(ctx context.Context) error { return m.Client.Ping(ctx, nil) },
		close: func() {
			if err := m.Disconnect(); err != nil {
				logger.Warn().Err(err).Msg("mongo disconnect")
			}
		},
	}, nil
}

// activityRecorder persists online transitions and last-seen times.
func activityRecorder(users store.UserStore) presence.ActivityFunc {
	return func(userID string, online bool) {
		id, err := primitive.ObjectIDFromHex(userID)
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := users.SetActivity(ctx, id, online, time.Now().UnixMilli()); err != nil {
			logger.Warn().Err(err).Str("userId", userID).Bool("online", online).Msg("failed to record activity")
		}
	}
}

func newUploader(ctx context.Context, cfg *config.Config) (media.Uploader, error) {
	switch cfg.MediaProvider {
	case "cloudinary":
		return media.NewCloudinary(cfg.CloudinaryURL, "clinicmsg")
	case "s3":
		return media.NewS3(ctx, media.S3Options{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PublicURL:       cfg.S3PublicURL,
			Folder:          "clinicmsg",
		})
	default:
		return nil, nil
	}
}
