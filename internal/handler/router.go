package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/prdatur/soopfw-openid/internal/metrics"
	"github.com/prdatur/soopfw-openid/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	// TrustProxyHeaders がtrueの場合、X-Forwarded-For等からクライアントIPを復元する。
	TrustProxyHeaders bool

	// 認証
	Controller LoginController
	Sessions   SessionService
	AuthConfig AuthHandlerConfig

	// 運用
	Logger         *slog.Logger
	HealthChecker  HealthChecker
	Gatherer       prometheus.Gatherer
	StatusRecorder middleware.StatusRecorder
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → StatusMetrics → SecurityHeaders → CORS
//
// OpenIDコールバックはプロバイダーからクロスサイトでPOSTされるためCSRF検証の外に置く。
// アサーションの署名とnonceで保護される。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	if deps.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.NewRecoveryMiddleware())
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewStatusMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.Controller, deps.Sessions, deps.AuthConfig)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

	// プロバイダーからの戻り（GETのリダイレクトとPOSTのフォーム送信の両方）
	r.With(deps.RateLimiter.LoginMiddleware()).HandleFunc("/openid/callback", authHandler.Callback)

	// --- CSRF検証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.With(deps.RateLimiter.LoginMiddleware()).Post("/openid/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/auth/me", authHandler.Me)
	})

	return r
}
