package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/sessionauth/internal/config"
	"github.com/hitoshi/sessionauth/internal/database"
	"github.com/hitoshi/sessionauth/internal/handler"
	"github.com/hitoshi/sessionauth/internal/identity"
	"github.com/hitoshi/sessionauth/internal/logger"
	"github.com/hitoshi/sessionauth/internal/metrics"
	"github.com/hitoshi/sessionauth/internal/middleware"
	"github.com/hitoshi/sessionauth/internal/repository"
	"github.com/hitoshi/sessionauth/internal/security"
	"github.com/hitoshi/sessionauth/internal/session"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映
	logger.SetupDefaultWithLevel(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCreateAccount:
		return runCreateAccount(cfg, commandOperand(args))
	case CommandRevoke:
		return runRevoke(cfg, commandOperand(args))
	default:
		return runServe(cfg)
	}
}

// serveWaitConfig はserve起動時のDB・Redis待ち合わせ設定。
var serveWaitConfig = database.DefaultWaitConfig()

// backends はserveと管理サブコマンドで共有する外部接続。
type backends struct {
	db       *sql.DB
	redis    *redis.Client
	provider *identity.Provider
}

func (b *backends) Close() {
	if b.provider != nil {
		b.provider.Close()
	}
	if b.redis != nil {
		b.redis.Close()
	}
	if b.db != nil {
		b.db.Close()
	}
}

// openBackends はDB・Redisに接続し、Identity Providerを構築する。
// DB・Redisの準備ができるまでwaitに従って再試行する。
// 途中で失敗した場合は開いた接続を閉じてからエラーを返す。
func openBackends(ctx context.Context, cfg *config.Config, wait database.WaitConfig) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	// 1. DB接続
	b.db, err = database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.WaitFor(ctx, "postgres", wait, b.db.PingContext); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	// 2. Redis接続（セッション失効リスト）
	b.redis, err = database.OpenRedis(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	pingRedis := func(ctx context.Context) error { return database.PingRedis(ctx, b.redis) }
	if err := database.WaitFor(ctx, "redis", wait, pingRedis); err != nil {
		return nil, err
	}
	slog.Info("redis connection established")

	// 3. IDトークン検証鍵
	keys, err := newKeySet(cfg)
	if err != nil {
		return nil, err
	}

	// 4. Identity Provider
	b.provider, err = identity.NewProvider(identity.Config{
		Issuer:        cfg.IDTokenIssuer,
		Audience:      cfg.IDTokenAudience,
		SessionSecret: []byte(cfg.SessionSecret),
		MaxAuthAge:    cfg.IDTokenMaxAuthAge,
		Timeout:       cfg.ProviderTimeout,
	},
		keys,
		repository.NewPostgresAccountRepo(b.db),
		identity.NewRedisRevocationStore(b.redis, identity.MaxSessionTTL),
	)
	if err != nil {
		keys.Close()
		return nil, fmt.Errorf("failed to create identity provider: %w", err)
	}

	return b, nil
}

// newKeySet はJWKS URLが設定されていればJWKS、なければHMACシークレットの鍵セットを返す。
// JWKSの取得にはSSRF防止機能付きのHTTPクライアントを使う。
func newKeySet(cfg *config.Config) (*identity.KeySet, error) {
	if cfg.IDTokenJWKSURL == "" {
		slog.Warn("using IDTOKEN_HMAC_SECRET for id token verification; configure IDTOKEN_JWKS_URL in production")
		return identity.NewHMACKeySet([]byte(cfg.IDTokenHMACSecret)), nil
	}

	guard := security.NewOutboundGuard()
	if err := guard.ValidateURL(cfg.IDTokenJWKSURL); err != nil {
		return nil, fmt.Errorf("invalid IDTOKEN_JWKS_URL: %w", err)
	}

	keys, err := identity.NewJWKSKeySet(cfg.IDTokenJWKSURL, guard.NewSafeClient(cfg.ProviderTimeout), cfg.JWKSRefreshInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to load JWKS: %w", err)
	}
	slog.Info("JWKS loaded", slog.String("jwks_url", cfg.IDTokenJWKSURL))
	return keys, nil
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	b, err := openBackends(startCtx, cfg, serveWaitConfig)
	cancel()
	if err != nil {
		return err
	}
	defer b.Close()

	// メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// セッションワークフロー
	if !cfg.EnforceTokenOwner {
		slog.Warn("SIGNIN_ENFORCE_TOKEN_OWNER is disabled; sign-in will not verify that the id token belongs to the requested email")
	}
	workflow := session.NewWorkflow(b.provider, repository.NewPostgresProfileRepo(b.db), session.Options{
		Cookie:            session.NewCookieAttributes(cfg.CookieSecure, cfg.CookieDomain),
		EnforceTokenOwner: cfg.EnforceTokenOwner,
		Metrics:           collector,
	})

	rateLimiterCfg := middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSignIn)
	rateLimiterCfg.Metrics = collector
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Workflow:          workflow,
		SessionResolver:   workflow,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		Metrics:           collector,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		HealthChecks: map[string]handler.HealthCheckFunc{
			"postgres": b.db.PingContext,
			"redis": func(ctx context.Context) error {
				return database.PingRedis(ctx, b.redis)
			},
		},
		Gatherer: registry,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runCreateAccount はアカウント台帳にアカウントを作成し、払い出したIDを出力する。
// プロフィールは作成しない（サインアップで登録する）。
func runCreateAccount(cfg *config.Config, email string) error {
	if email == "" {
		return errors.New("usage: create-account <email>")
	}
	normalized, err := security.NormalizeEmail(email)
	if err != nil {
		return fmt.Errorf("invalid email: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b, err := openBackends(ctx, cfg, database.WaitConfig{Attempts: 1})
	if err != nil {
		return err
	}
	defer b.Close()

	id, err := b.provider.CreateAccount(ctx, normalized)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	fmt.Fprintln(os.Stdout, id)
	return nil
}

// runRevoke はアカウントの既存セッションをすべて失効させる。
func runRevoke(cfg *config.Config, accountID string) error {
	if accountID == "" {
		return errors.New("usage: revoke <account-id>")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b, err := openBackends(ctx, cfg, database.WaitConfig{Attempts: 1})
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.provider.RevokeSessions(ctx, accountID); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	slog.Info("sessions revoked", slog.String("account_id", accountID))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
