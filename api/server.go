package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ivansuy/finalsecurityandaudit/api/handlers"
	"github.com/ivansuy/finalsecurityandaudit/api/middleware"
	"github.com/ivansuy/finalsecurityandaudit/api/websocket"
	"github.com/ivansuy/finalsecurityandaudit/internal/auth"
	"github.com/ivansuy/finalsecurityandaudit/internal/backoff"
	"github.com/ivansuy/finalsecurityandaudit/internal/detector"
	"github.com/ivansuy/finalsecurityandaudit/internal/events"
	"github.com/ivansuy/finalsecurityandaudit/pkg/config"
	"github.com/ivansuy/finalsecurityandaudit/pkg/database"
	"github.com/ivansuy/finalsecurityandaudit/pkg/database/queries"
)

type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      *config.Config
	db          *database.DB
	authService *auth.Service
	backoffSvc  *backoff.Service
	engine      *detector.Engine
	bus         *events.EventBus
	publisher   *events.Publisher
	wsHub       *websocket.Hub
	wsBridge    *websocket.EventBridge
}

func NewServer(cfg *config.Config, db *database.DB, engine *detector.Engine, bus *events.EventBus) *Server {
	if cfg.API.JWTSecret == "" || cfg.API.JWTSecret == "change-me-in-production" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	jwtDuration := cfg.API.JWTDuration
	if jwtDuration <= 0 {
		jwtDuration = 24 * time.Hour
	}
	authService := auth.NewService(cfg.API.JWTSecret, jwtDuration)
	wsHub := websocket.NewHub(&cfg.WebSocket)

	attemptRepo := queries.NewAuthAttemptRepository(db.DB)
	backoffSvc := backoff.NewService(cfg.Backoff, attemptRepo)

	s := &Server{
		router:      router,
		config:      cfg,
		db:          db,
		authService: authService,
		backoffSvc:  backoffSvc,
		engine:      engine,
		bus:         bus,
		wsHub:       wsHub,
	}

	if bus != nil {
		s.publisher = events.NewPublisher(bus)
	}

	s.setupMiddleware()
	s.setupRoutes()

	// Start WebSocket hub
	go wsHub.Run()

	// Start event bridge to forward engine events to WebSocket clients
	if bus != nil {
		s.wsBridge = websocket.NewEventBridge(wsHub, bus.SubscribeAll())
		s.wsBridge.Start()
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	s.router.Use(middleware.SecurityHeaders())
	s.router.Use(middleware.RequestSizeLimit(1 << 20))
	s.router.Use(middleware.RequestLogger())
	s.router.Use(middleware.TraceID())

	rateLimiter := middleware.NewRateLimiter(s.config.API.RateLimit, time.Minute)
	s.router.Use(middleware.RateLimit(rateLimiter))

	// Persist every request; the login rows feed the anomaly engine
	requestLogRepo := queries.NewRequestLogRepository(s.db.DB)
	s.router.Use(middleware.RequestDBLog(requestLogRepo))
}

func (s *Server) setupRoutes() {
	// Repositories
	userRepo := queries.NewUserRepository(s.db.DB)
	requestLogRepo := queries.NewRequestLogRepository(s.db.DB)
	attemptRepo := queries.NewAuthAttemptRepository(s.db.DB)
	detectionRepo := queries.NewDetectionRepository(s.db.DB)

	// Handlers
	healthHandler := handlers.NewHealthHandler(s.db, s.engine)
	authHandler := handlers.NewAuthHandler(userRepo, s.authService, s.backoffSvc, s.publisher)
	dashboardHandler := handlers.NewDashboardHandler(requestLogRepo, attemptRepo, detectionRepo, s.config.Anomaly)
	engineHandler := handlers.NewEngineHandler(s.engine, s.db)

	// Public routes
	s.router.GET("/health", healthHandler.Health)
	s.router.GET("/health/ready", healthHandler.Ready)
	s.router.GET("/health/live", healthHandler.Live)

	// Auth routes
	s.router.POST("/api/auth/login", authHandler.Login)

	// WebSocket route
	s.router.GET("/ws", websocket.ServeWebSocket(s.wsHub))

	// Protected routes
	protected := s.router.Group("/api")
	protected.Use(middleware.JWTAuth(s.authService))
	{
		protected.GET("/dashboard/summary", dashboardHandler.Summary)
		protected.GET("/dashboard/login-metrics", dashboardHandler.LoginMetrics)
		protected.GET("/dashboard/anomalies", dashboardHandler.Anomalies)
		protected.GET("/dashboard/auth-attempts", dashboardHandler.AuthAttempts)
		protected.GET("/engine/status", engineHandler.Status)
	}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.API.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.API.ReadTimeout,
		WriteTimeout: s.config.API.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop the event bridge first
	if s.wsBridge != nil {
		s.wsBridge.Stop()
	}

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) WebSocketHub() *websocket.Hub {
	return s.wsHub
}

// Backoff exposes the login attempt throttle for periodic pruning.
func (s *Server) Backoff() *backoff.Service {
	return s.backoffSvc
}
