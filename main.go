package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ohboy/herosync/handlers"
	"github.com/ohboy/herosync/internal/config"
	"github.com/ohboy/herosync/internal/notify"
	"github.com/ohboy/herosync/internal/store"
	"github.com/ohboy/herosync/pkg/logger"
	"github.com/ohboy/herosync/pkg/metrics"
	"github.com/ohboy/herosync/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// logging is controlled with LOG_LEVEL env: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))
	logger.Debugf("startup: LOG_LEVEL=%s", logger.LevelString())

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: mongo=%v redis=%v auth=%v", cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.Auth.TokenSecret != "")

	r := gin.New()

	// Lightweight CORS middleware for dev/test: set common headers and respond to OPTIONS.
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	})

	r.Use(gin.Logger(), gin.Recovery())

	ctx := context.Background()

	// Connect to Redis early so the rate-limiter can use it when configured
	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Host + ":" + cfg.Redis.Port, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
			redisClient = nil
		} else {
			logger.Infof("connected to Redis %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
	}

	// Optional global rate limiter (per-client when authenticated, otherwise per-IP)
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && redisClient != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(redisClient, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	// Pick the document repository. Mongo is preferred when configured;
	// the in-memory repository keeps single-node deployments and tests
	// working without external services.
	var repo store.Repository
	var mongoClient *mongo.Client
	if cfg.MongoDB.URI != "" {
		// Retry/backoff when connecting to MongoDB to tolerate startup races
		const maxAttempts = 5
		backoff := time.Second
		var errConn error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			mongoClient, errConn = store.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
			if errConn == nil {
				break
			}
			logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, maxAttempts, errConn)
			if attempt < maxAttempts {
				time.Sleep(backoff)
				backoff *= 2
			}
		}
		if errConn != nil {
			logger.Warnf("could not connect to MongoDB after %d attempts: %v", maxAttempts, errConn)
		} else {
			defer func() { _ = mongoClient.Disconnect(ctx) }()
			col := mongoClient.Database(cfg.MongoDB.Database).Collection("heroes")
			repo = store.NewMongoRepo(col)
			logger.Infof("using MongoDB document store (db=%s)", cfg.MongoDB.Database)
		}
	}
	if repo == nil {
		logger.Warnf("no MongoDB available, falling back to in-memory document store")
		repo = store.NewMemoryRepo()
	}

	hub := notify.NewHub()
	defer hub.Close()
	st := store.New(repo, hub)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// readiness: 200 only when the critical dependencies are available
	r.GET("/ready", func(c *gin.Context) {
		ready := true
		deps := map[string]bool{}

		deps["store"] = repo != nil
		if !deps["store"] {
			ready = false
		}

		if cfg.Redis.Host != "" && cfg.RateLimit.UseRedis {
			deps["redis"] = redisClient != nil
			if !deps["redis"] {
				ready = false
			}
		} else {
			deps["redis"] = true
		}

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "deps": deps, "uptime": time.Since(startTime).String()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "deps": deps, "uptime": time.Since(startTime).String(), "subscribers": hub.Subscribers()})
	})

	handlers.RegisterSyncRoutes(r, st, hub, middleware.RequireToken(cfg.Auth.TokenSecret))

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Infof("starting sync service on %s", addr)
	// run server in goroutine and keep process alive, prevents the
	// container from exiting silently if r.Run ever returns
	go func() {
		if err := r.Run(addr); err != nil {
			logger.Fatalf("server failed: %v", err)
		}
	}()
	select {}
}
