package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/BaSui01/humanloop/api/handlers"
	"github.com/BaSui01/humanloop/approval"
	"github.com/BaSui01/humanloop/config"
	"github.com/BaSui01/humanloop/hitl"
	"github.com/BaSui01/humanloop/internal/metrics"
	"github.com/BaSui01/humanloop/internal/server"
	"github.com/BaSui01/humanloop/internal/telemetry"
	"github.com/BaSui01/humanloop/persistence"
	"github.com/BaSui01/humanloop/transport"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 humanloop 服务的组装层：配置、存储、规则引擎、
// 交互引擎、WebSocket 推送与 HTTP 端点在这里接线。
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager *server.Manager

	metricsCollector *metrics.Collector
	otelProviders    *telemetry.Providers

	store  persistence.Store
	hub    *transport.WebSocketHub
	engine *hitl.Engine

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 组装并启动所有组件
func (s *Server) Start() error {
	// 1. 指标收集器（默认 Prometheus registry，经 /metrics 暴露）
	s.metricsCollector = metrics.NewCollector("humanloop", nil, s.logger)

	// 2. 持久化存储。Type 为空时返回 (nil, nil)，历史与导出端点返回 501
	store, err := persistence.NewStore(s.cfg.Persistence.ToStoreConfig())
	if err != nil {
		return fmt.Errorf("failed to init persistence store: %w", err)
	}
	s.store = store

	// 3. 自动审批规则引擎
	var rules *approval.Engine
	if s.cfg.AutoApproval.Enabled {
		rules, err = approval.NewEngine(s.cfg.AutoApproval.Rules, s.logger)
		if err != nil {
			return fmt.Errorf("failed to init auto-approval engine: %w", err)
		}
		s.logger.Info("auto-approval enabled", zap.Int("rules", len(s.cfg.AutoApproval.Rules)))
	}

	// 4. WebSocket 推送中心
	s.hub = transport.NewWebSocketHub(s.logger)

	// 5. 交互引擎
	opts := []hitl.Option{
		hitl.WithTransport(s.hub),
		hitl.WithLogger(s.logger),
		hitl.WithMetrics(s.metricsCollector),
	}
	if s.store != nil {
		opts = append(opts, hitl.WithStore(s.store))
	}
	if rules != nil {
		opts = append(opts, hitl.WithApproval(rules))
	}
	s.engine, err = hitl.NewEngine(s.cfg.Engine.ToEngine(), opts...)
	if err != nil {
		return fmt.Errorf("failed to init interaction engine: %w", err)
	}

	// 6. HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("All components started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.String("persistence", s.cfg.Persistence.Type),
		zap.Bool("auto_approval", s.cfg.AutoApproval.Enabled),
	)
	return nil
}

// =============================================================================
// 🌐 HTTP 路由与中间件
// =============================================================================

func (s *Server) startHTTPServer() error {
	interactionHandler := handlers.NewInteractionHandler(s.engine, s.logger)
	streamHandler := handlers.NewStreamHandler(s.hub, s.logger)
	healthHandler := handlers.NewHealthHandler(s.logger)

	if s.store != nil {
		// 就绪探针覆盖存储后端连通性
		s.registerStoreCheck(healthHandler)
	}

	mux := http.NewServeMux()

	// 健康检查与版本
	mux.HandleFunc("GET /health", healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", healthHandler.HandleReady)
	mux.HandleFunc("GET /version", healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// Prometheus 指标
	mux.Handle("GET /metrics", promhttp.Handler())

	// 交互生命周期 API
	mux.HandleFunc("POST /api/v1/sessions/{session}/interactions", interactionHandler.HandleCreate)
	mux.HandleFunc("GET /api/v1/sessions/{session}/interactions", interactionHandler.HandleSessionInteractions)
	mux.HandleFunc("GET /api/v1/sessions/{session}/history", interactionHandler.HandleHistory)
	mux.HandleFunc("GET /api/v1/sessions/{session}/events", streamHandler.HandleSubscribe)
	mux.HandleFunc("GET /api/v1/interactions/stats", interactionHandler.HandleStats)
	mux.HandleFunc("POST /api/v1/interactions/export", interactionHandler.HandleExport)
	mux.HandleFunc("GET /api/v1/interactions/{id}", interactionHandler.HandleGet)
	mux.HandleFunc("POST /api/v1/interactions/{id}/response", interactionHandler.HandleRespond)
	mux.HandleFunc("POST /api/v1/interactions/{id}/cancel", interactionHandler.HandleCancel)
	mux.HandleFunc("GET /api/v1/interactions/{id}/wait", interactionHandler.HandleWait)
	mux.HandleFunc("POST /api/v1/auto-approval/check", interactionHandler.HandleAutoApprovalCheck)

	// 中间件链
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing())
	}
	if s.cfg.Server.RateLimitPerSecond > 0 {
		middlewares = append(middlewares,
			RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitPerSecond, s.cfg.Server.RateLimitBurst, s.logger))
	}
	switch {
	case s.cfg.Auth.JWT.Enabled:
		middlewares = append(middlewares, JWTAuth(s.cfg.Auth.JWT, skipAuthPaths, s.logger))
	case s.cfg.Auth.APIKey != "":
		middlewares = append(middlewares, APIKeyAuth(s.cfg.Auth.APIKey, skipAuthPaths, s.logger))
	default:
		s.logger.Warn("authentication disabled, all endpoints are public")
	}

	handler := Chain(mux, middlewares...)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	return s.httpManager.Start()
}

func (s *Server) registerStoreCheck(h *handlers.HealthHandler) {
	store := s.store
	h.RegisterCheck(handlers.HealthCheckFunc{
		CheckName: "store",
		Fn: func(ctx context.Context) error {
			return store.Ping(ctx)
		},
	})
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 按依赖反序关闭所有组件
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 0. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 1. 停止接收新请求
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭交互引擎（唤醒所有等待者）
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			s.logger.Error("engine shutdown error", zap.Error(err))
		}
	}

	// 3. 断开 WebSocket 订阅者
	if s.hub != nil {
		if err := s.hub.Close(); err != nil {
			s.logger.Error("websocket hub shutdown error", zap.Error(err))
		}
	}

	// 4. 关闭存储
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("store shutdown error", zap.Error(err))
		}
	}

	// 5. 关闭遥测
	if s.otelProviders != nil {
		if err := s.otelProviders.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
