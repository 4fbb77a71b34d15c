package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/prdatur/soopfw-openid/internal/config"
	"github.com/prdatur/soopfw-openid/internal/database"
	"github.com/prdatur/soopfw-openid/internal/handler"
	"github.com/prdatur/soopfw-openid/internal/logger"
	"github.com/prdatur/soopfw-openid/internal/metrics"
	"github.com/prdatur/soopfw-openid/internal/middleware"
	"github.com/prdatur/soopfw-openid/internal/repository"
	"github.com/prdatur/soopfw-openid/internal/worker/cleanup"
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
		slog.String("description", cmd.Description()),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("store_driver", cfg.StoreDriver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(ctx, cfg)
	default:
		return runServe(ctx, cfg, w)
	}
}

// runServe はAPIサーバーモードで起動する。
// ストレージに接続し、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, auditWriter io.Writer) error {
	// 1. ストレージ
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. OpenIDクライアント
	nonces, closeNonces := newNonceStore(cfg)
	defer closeNonces()

	client, closeClient, err := newOpenIDClient(cfg, nonces)
	if err != nil {
		return err
	}
	defer closeClient()

	// 4. ログインフロー
	login := newLoginStack(cfg, st, client, collector, auditWriter)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		SessionFinder:     st.sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		TrustProxyHeaders: cfg.TrustProxyHeaders,

		Controller: login.controller,
		Sessions:   login.sessions,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		Logger:         slog.Default(),
		HealthChecker:  st.health,
		Gatherer:       registry,
		StatusRecorder: collector,
	})

	// 6. HTTPサーバーの起動
	return serveHTTP(ctx, &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, "API server")
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションを定期的に削除し、/healthと/metricsを公開する。
// ctxがキャンセルされるとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	cleanupJob := cleanup.NewCleanupJob(st.sessions, collector, slog.Default())
	cleanupJob.Interval = cfg.SessionCleanupInterval

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cleanupJob.Interval),
	)

	go cleanupJob.Start(ctx)

	mux := metrics.SetupMetricsRoute(registry)
	mux.Handle("/health", handler.NewHealthHandler(st.health))

	return serveHTTP(ctx, &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}, "worker")
}

// serveHTTP はctxがキャンセルされるまでサーバーを起動し、その後グレースフルシャットダウンする。
func serveHTTP(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runMigrate はスキーマを最新にする。
// PostgreSQLではすべての未適用マイグレーションを順番に適用し、
// MongoDBではコレクションのインデックスを作成する。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	if cfg.StoreDriver == config.StoreDriverMongo {
		client, db, err := database.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return err
		}
		defer client.Disconnect(context.Background())

		if _, err := repository.NewMongoAccountRepo(ctx, db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		if _, err := repository.NewMongoSessionRepo(ctx, db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		slog.Info("mongodb indexes created", slog.String("database", cfg.MongoDatabase))
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
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
