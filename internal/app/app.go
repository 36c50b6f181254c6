package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/gradebook/internal/auth"
	"github.com/hitoshi/gradebook/internal/cache"
	"github.com/hitoshi/gradebook/internal/config"
	"github.com/hitoshi/gradebook/internal/database"
	"github.com/hitoshi/gradebook/internal/grade"
	"github.com/hitoshi/gradebook/internal/handler"
	"github.com/hitoshi/gradebook/internal/logger"
	"github.com/hitoshi/gradebook/internal/metrics"
	"github.com/hitoshi/gradebook/internal/middleware"
	"github.com/hitoshi/gradebook/internal/model"
	"github.com/hitoshi/gradebook/internal/repository"
	"github.com/hitoshi/gradebook/internal/security"
	"github.com/hitoshi/gradebook/internal/worker/cleanup"
)

// oauthTimeout はIdPへのHTTPリクエストのタイムアウト。
const oauthTimeout = 10 * time.Second

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

	// 3. ログレベルの反映
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		slog.Warn("invalid LOG_LEVEL, falling back to info", slog.String("error", err.Error()))
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// SIGINTまたはSIGTERMを受信するとキャンセルされるコンテキストでRunContextを呼ぶ。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunContext(ctx, w, args)
}

// RunContext はコマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// ctxがキャンセルされるとserve・workerはグレースフルに終了する。
func RunContext(ctx context.Context, w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8081"
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
		slog.String("database_url", database.MaskURL(cfg.DatabaseURL)),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openStore はストアを開き、疎通を確認する。
func openStore(ctx context.Context, cfg *config.Config) (*database.Store, error) {
	store, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := store.PingContext(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("driver", store.DriverName()),
	)
	return store, nil
}

// newMetrics はプロセス用のレジストリとCollectorを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// newSessionRepository はセッションリポジトリをキャッシュで装飾して返す。
// REDIS_URLが設定されていればRedis、なければプロセス内キャッシュを使う。
// SESSION_CACHE_TTLが0以下の場合はキャッシュしない。
// 戻り値のcloseは後片付けに使う。
func newSessionRepository(ctx context.Context, cfg *config.Config, store *database.Store) (repository.SessionRepository, func(), error) {
	base := repository.NewSQLSessionRepo(store)
	if cfg.SessionCacheTTL <= 0 {
		return base, func() {}, nil
	}

	if cfg.RedisURL == "" {
		slog.Info("session cache: in-process", slog.Duration("ttl", cfg.SessionCacheTTL))
		memCache := cache.NewMemorySessionCache(cfg.SessionCacheTTL, 0)
		return cache.NewCachedSessionRepo(base, memCache), func() {}, nil
	}

	client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("session cache: redis", slog.Duration("ttl", cfg.SessionCacheTTL))
	redisCache := cache.NewRedisSessionCache(client, cfg.SessionCacheTTL)
	return cache.NewCachedSessionRepo(base, redisCache), func() { client.Close() }, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.AutoMigrate {
		if err := database.RunMigrations(store); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations applied")
	}

	// 2. メトリクス
	reg, collector := newMetrics()

	// 3. リポジトリの初期化
	roster := model.NewRoster(cfg.RosterStudents, cfg.RosterTeachers)
	userRepo := repository.NewSQLUserRepo(store, roster)
	sessionRepo, closeCache, err := newSessionRepository(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer closeCache()

	// 4. ドメインサービスの初期化
	oauthProvider := auth.NewGitHubOAuthProvider(auth.GitHubOAuthConfig{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		RedirectURL:  cfg.GitHubRedirectURL,
		HTTPClient:   security.NewSafeClient(oauthTimeout),
	})
	authService := auth.NewService(
		oauthProvider, userRepo, sessionRepo,
		security.NewProfileSanitizer(), collector,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	gradeService := grade.NewService(userRepo, collector)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		HealthChecker: store,
		Metrics:       collector,
		Gatherer:      reg,
		AuthService:   authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			ClientID:      cfg.GitHubClientID,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},
		GradeService: gradeService,
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", ln.Addr().String()),
		)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションのクリーンアップを定期実行する。
// ctxがキャンセルされるとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	cleanupJob := cleanup.NewCleanupJob(repository.NewSQLSessionRepo(store), slog.Default(), nil)

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	cleanupJob.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", database.MaskURL(cfg.DatabaseURL)),
	)

	store, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	if err := database.RunMigrations(store); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
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
