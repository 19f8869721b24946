package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/sessionauth/internal/metrics"
	"github.com/hitoshi/sessionauth/internal/middleware"
)

// HealthCheckFunc は依存先への疎通を確認する。
type HealthCheckFunc func(ctx context.Context) error

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Workflow        AuthWorkflow
	SessionResolver middleware.SessionResolver

	// ミドルウェア依存
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector

	// TrustProxyHeaders がtrueの場合、X-Forwarded-For等からクライアントIPを復元する。
	// リバースプロキシ配下でのみ有効にすること。
	TrustProxyHeaders bool

	// /health で確認する依存先（名前→チェック関数）
	HealthChecks map[string]HealthCheckFunc

	// nilの場合 /metrics は公開しない
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → CSRF
//
// /api/account 以下は Session → RateLimit(General) を追加で通過する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

	authHandler := NewAuthHandler(deps.Workflow)

	r.Get("/health", healthHandler(deps.HealthChecks))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/sign-up", authHandler.SignUp)
		// サインインはクライアントIP単位でレート制限する
		r.With(deps.RateLimiter.SignInMiddleware()).Post("/sign-in", authHandler.SignIn)
		r.Post("/sign-out", authHandler.SignOut)
		r.Get("/me", authHandler.Me)
		r.Get("/status", authHandler.Status)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionResolver))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/account", authHandler.Account)
	})

	return r
}

// healthHandler は全依存先に疎通できれば200、いずれかが失敗すれば503を返す。
func healthHandler(checks map[string]HealthCheckFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				slog.Error("health check failed",
					slog.String("dependency", name),
					slog.String("error", err.Error()),
				)
				results[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		writeJSON(w, status, map[string]any{
			"status": http.StatusText(status),
			"checks": results,
		})
	}
}
