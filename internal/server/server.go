package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/config"
	"github.com/aman-churiwal/admission-gateway/internal/handler"
	"github.com/aman-churiwal/admission-gateway/internal/middleware"
	"github.com/aman-churiwal/admission-gateway/internal/proxy"
	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"github.com/aman-churiwal/admission-gateway/internal/repository"
	"github.com/aman-churiwal/admission-gateway/internal/security"
	"github.com/aman-churiwal/admission-gateway/internal/service"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var startTime = time.Now()

type Server struct {
	router           *gin.Engine
	config           *config.Config
	redis            *storage.RedisClient
	postgres         *storage.Postgres
	backends         map[string]*proxy.Backend
	authService      *service.AuthService
	authHandler      *handler.AuthHandler
	analyticsHandler *handler.AnalyticsHandler
	httpServer       *http.Server
}

func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres) (*Server, error) {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	windowStore := ratelimit.NewWindowStore(redis, cfg.Admission.StoreTimeout())

	policy, err := ratelimit.NewDualTierAdmissionPolicy(windowStore, cfg.Admission)
	if err != nil {
		return nil, err
	}

	detector, err := security.NewDetector(windowStore, cfg.Suspicious)
	if err != nil {
		return nil, err
	}

	authRepo := repository.NewAuthRepository(postgres)
	authService := service.NewAuthService(authRepo, os.Getenv("JWT_SECRET"), 24)

	requestLogRepo := repository.NewRequestLogRepository(postgres)
	analyticsService := service.NewAnalyticsService(requestLogRepo)

	middleware.InitRequestLogger(requestLogRepo, 1000)

	s := &Server{
		router:           router,
		config:           cfg,
		redis:            redis,
		postgres:         postgres,
		backends:         make(map[string]*proxy.Backend),
		authService:      authService,
		authHandler:      handler.NewAuthHandler(authService),
		analyticsHandler: handler.NewAnalyticsHandler(analyticsService),
	}

	s.initializeBackends()
	s.setupMiddleware(policy, detector)
	s.setupRoutes()

	return s, nil
}

func (s *Server) initializeBackends() {
	for _, svc := range s.config.Services {
		if len(svc.Targets) == 0 {
			log.Printf("Warning: Service %s has no targets configured", svc.Path)
			continue
		}

		b, err := proxy.New(proxy.Config{
			Targets:              svc.Targets,
			LoadBalancerStrategy: svc.LoadBalancerStrategy,
		})
		if err != nil {
			log.Printf("Failed to create backend for %s: %v", svc.Path, err)
			continue
		}

		s.backends[svc.Path] = b
		log.Printf("Initialized backend for %s -> %v", svc.Path, svc.Targets)
	}
}

// Admission runs before the proxied handler; the request logger wraps
// everything so rejected requests are recorded too
func (s *Server) setupMiddleware(policy *ratelimit.DualTierAdmissionPolicy, detector *security.Detector) {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.RequestLogger())
	s.router.Use(middleware.Admission(policy, detector, s.authService))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := s.router.Group("/auth")
	{
		auth.POST("/register", s.authHandler.Register)
		auth.POST("/login", s.authHandler.Login)
	}

	admin := s.router.Group("/admin")
	admin.Use(middleware.RequireAuth(s.authService), middleware.RequireRole("admin"))
	{
		admin.GET("/status", s.adminStatus)
		admin.GET("/analytics", s.analyticsHandler.GetSummary)
		admin.GET("/analytics/timeseries", s.analyticsHandler.GetTimeSeries)
	}

	s.setupProxyRoutes()
}

func (s *Server) setupProxyRoutes() {
	for path, backend := range s.backends {
		proxyPath := path
		b := backend

		s.router.Any(proxyPath+"/*proxyPath", func(c *gin.Context) {
			b.Handle(c)
		})

		s.router.Any(proxyPath, func(c *gin.Context) {
			b.Handle(c)
		})

		log.Printf("Registered proxy route: %s", proxyPath)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	redisHealthy := true
	if err := s.redis.Ping(c.Request.Context()); err != nil {
		redisHealthy = false
		log.Printf("Redis health check failed: %v", err)
	}

	dbHealthy := true
	if err := s.postgres.Ping(c.Request.Context()); err != nil {
		dbHealthy = false
		log.Printf("Database health check failed: %v", err)
	}

	status := "healthy"
	statusCode := http.StatusOK

	// Redis down means the limiter is failing open; surface that as degraded
	if !redisHealthy || !dbHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "admission-gateway",
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"redis":    redisHealthy,
			"database": dbHealthy,
		},
	})
}

func (s *Server) adminStatus(c *gin.Context) {
	backends := make(map[string]gin.H, len(s.backends))
	for path, b := range s.backends {
		backends[path] = gin.H{
			"circuit_breaker": b.CircuitBreakerState().String(),
			"targets":         b.HealthStatus(),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"gateway":   "running",
		"services":  len(s.config.Services),
		"backends":  backends,
		"uptime":    time.Since(startTime).Seconds(),
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	log.Printf("Starting admission gateway on %s", addr)
	log.Printf("Environment: %s", s.config.Server.Environment)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	for _, b := range s.backends {
		b.Stop()
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
