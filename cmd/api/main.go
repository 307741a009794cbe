package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"presensi/internal/api"
	"presensi/internal/attendance"
	"presensi/internal/auth"
	"presensi/internal/biometric"
	"presensi/internal/config"
	"presensi/internal/feed"
	"presensi/internal/httpmiddleware"
	"presensi/internal/media"
	"presensi/internal/queue"
	"presensi/internal/schedule"
	"presensi/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseDriver, cfg.DatabaseURL)
	if db == nil {
		return err
	}
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrateCtx); err != nil {
		log.Printf("warning: migrations not applied: %v", err)
	}
	cancelMigrate()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	var guard attendance.Guard
	feedCtx, stopFeed := context.WithCancel(context.Background())
	defer stopFeed()
	if cfg.QueueBackend == "memory" {
		mem := queue.NewInMemory(64)
		q = mem
		guard = attendance.NewLocalGuard()
		// no worker can reach this queue; drain it here
		go func() {
			if err := feed.NewProcessor(&feed.LocalCounter{}).Run(feedCtx, mem); err != nil {
				log.Printf("in-process feed stopped: %v", err)
			}
		}()
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
		guard = store.NewRedisGuard(redisClient.Client, "attendance:inflight:")
	}

	photos, err := newMediaStore(cfg)
	if err != nil {
		return err
	}

	extractor, closeExtractor, err := newExtractor(cfg)
	if err != nil {
		return err
	}
	defer closeExtractor()
	matcher := biometric.NewMatcher(extractor, biometric.Options{
		Threshold:      cfg.FaceMatchThreshold,
		MaxConcurrency: int64(cfg.FaceMaxConcurrency),
		Timeout:        cfg.BiometricTimeout,
	})

	loc := schedule.LoadLocation(cfg.Timezone)
	log.Printf("school timezone %s, match threshold %.2f, geofence tolerance %.0f m",
		loc, matcher.Threshold(), cfg.GeofenceTolerance)

	repo := attendance.NewRepository(db.Client)
	svc := attendance.NewService(attendance.Deps{
		Store:    repo,
		Resolver: schedule.NewResolver(repo),
		Matcher:  matcher,
		Media:    photos,
		Clock:    schedule.SystemClock{Location: loc},
		Guard:    guard,
		Queue:    q,
	}, attendance.Options{
		GeofenceTolerance: cfg.GeofenceTolerance,
		InflightTTL:       cfg.InflightTTL,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(func(c *gin.Context) {
		cfg.Debugf("REQUEST: %s %s", c.Request.Method, c.Request.URL.Path)
		c.Next()
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.MediaBackend != "cloudinary" {
		r.Static("/uploads", cfg.UploadDir)
	}

	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	api.NewHandler(svc, map[string]api.HealthCheck{
		"db":    db.Healthy,
		"redis": redisClient.Healthy,
	}).Register(r,
		auth.StudentAuth(cfg.JWTSigningKey, cfg.JWTIssuer),
		limiter.GinMiddleware(httpmiddleware.BySubject("student_id")),
	)

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.BiometricTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func newMediaStore(cfg config.App) (media.Store, error) {
	if cfg.MediaBackend == "cloudinary" {
		if cfg.CloudinaryCloudName == "" || cfg.CloudinaryAPIKey == "" || cfg.CloudinaryAPISecret == "" {
			log.Println("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set), using local disk")
		} else {
			log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
			return media.NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder), nil
		}
	}
	local, err := media.NewLocal(cfg.UploadDir, "/uploads")
	if err != nil {
		return nil, err
	}
	return local, nil
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
