package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/gradebook/internal/metrics"
	"github.com/hitoshi/gradebook/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// 監視
	HealthChecker HealthChecker
	Metrics       metrics.MetricsCollector
	Gatherer      prometheus.Gatherer // nilの場合は/metricsを公開しない

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 成績
	GradeService GradeServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS → Metrics
//	  認証ルート: LoginRateLimit
//	  認証済みルート: Session → RateLimit(General) → BodyLimit → CSRF
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(metrics.Middleware(metrics.OrNop(deps.Metrics)))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	homeHandler := NewHomeHandler(deps.GradeService)
	bodyLimit := middleware.NewBodyLimitMiddleware(middleware.MaxRequestBodySize)
	csrf := middleware.NewCSRFMiddleware(deps.CSRFConfig)

	// --- 認証不要のルート ---

	r.Get("/", authHandler.Index)
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Get("/sign-out", authHandler.SignOut)

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.LoginMiddleware())
			r.Get("/github/login", authHandler.Login)
			r.Get("/github/callback", authHandler.Callback)
			// OAuthアプリに旧コールバックURLを登録している場合の互換
			r.Get("/github", authHandler.Callback)
		})

		r.With(bodyLimit, csrf).Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.AuthService))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(bodyLimit)
		r.Use(csrf)

		r.Get("/home", homeHandler.Home)
		r.Post("/home", homeHandler.UpdateOwnGrade)

		r.Route("/api", func(r chi.Router) {
			r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)
			r.Post("/users/{id}/grade", homeHandler.UpdateStudentGrade)
		})
	})

	return r
}
