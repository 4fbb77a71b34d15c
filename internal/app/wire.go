package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"
	gopenid "github.com/yohcop/openid-go"
	"golang.org/x/time/rate"

	"github.com/prdatur/soopfw-openid/internal/account"
	"github.com/prdatur/soopfw-openid/internal/attribute"
	"github.com/prdatur/soopfw-openid/internal/audit"
	"github.com/prdatur/soopfw-openid/internal/auth"
	"github.com/prdatur/soopfw-openid/internal/config"
	"github.com/prdatur/soopfw-openid/internal/database"
	"github.com/prdatur/soopfw-openid/internal/handler"
	"github.com/prdatur/soopfw-openid/internal/metrics"
	"github.com/prdatur/soopfw-openid/internal/middleware"
	"github.com/prdatur/soopfw-openid/internal/openid"
	"github.com/prdatur/soopfw-openid/internal/repository"
	"github.com/prdatur/soopfw-openid/internal/security"
)

// callbackPath はプロバイダーから戻るパス。ルーターの登録と一致させる。
const callbackPath = "/openid/callback"

// stores はストレージドライバーごとに生成したリポジトリ群。
type stores struct {
	accounts repository.AccountRepository
	sessions repository.SessionRepository
	health   handler.HealthChecker
	close    func()
}

// openStores は設定されたドライバーでストレージに接続し、リポジトリを生成する。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMongo:
		client, db, err := database.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		closeClient := func() { _ = client.Disconnect(context.Background()) }

		accounts, err := repository.NewMongoAccountRepo(ctx, db)
		if err != nil {
			closeClient()
			return nil, err
		}
		sessions, err := repository.NewMongoSessionRepo(ctx, db)
		if err != nil {
			closeClient()
			return nil, err
		}

		slog.Info("mongodb connection established", slog.String("database", cfg.MongoDatabase))
		return &stores{
			accounts: accounts,
			sessions: sessions,
			health:   database.MongoPinger{Client: client},
			close:    closeClient,
		}, nil

	default:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		slog.Info("database connection established")
		return &stores{
			accounts: repository.NewPostgresAccountRepo(db),
			sessions: repository.NewPostgresSessionRepo(db),
			health:   db,
			close:    func() { db.Close() },
		}, nil
	}
}

// newNonceStore はREDIS_ADDRが設定されていればRedis、なければメモリ上のNonceStoreを返す。
func newNonceStore(cfg *config.Config) (gopenid.NonceStore, func()) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		slog.Info("using redis nonce store", slog.String("addr", cfg.RedisAddr))
		return openid.NewRedisNonceStore(client, cfg.OpenIDNonceMaxAge), func() { client.Close() }
	}

	store := openid.NewMemoryNonceStore(cfg.OpenIDNonceMaxAge)
	go store.Start()
	slog.Warn("using in-memory nonce store; replay detection is per instance")
	return store, store.Stop
}

// newOpenIDClient はCA設定とSSRF対策を適用したRPClientを生成する。
func newOpenIDClient(cfg *config.Config, nonces gopenid.NonceStore) (*openid.RPClient, func(), error) {
	tlsConfig, err := openid.BuildTLSConfig(openid.CAConfig{
		VerifyPeer: cfg.OpenIDVerifyClient,
		CAInfo:     cfg.OpenIDCAInfo,
		CAPath:     cfg.OpenIDCAPath,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build openid TLS config: %w", err)
	}

	cache := openid.NewTTLDiscoveryCache(cfg.OpenIDDiscoveryCacheTTL)
	go cache.Start()

	client, err := openid.NewRPClient(openid.Config{
		BaseURL:      cfg.BaseURL,
		CallbackPath: callbackPath,
		Timeout:      cfg.OpenIDHTTPTimeout,
		TLSConfig:    tlsConfig,
	}, security.NewSSRFGuard(cfg.OpenIDAllowPrivateProviders), cache, nonces)
	if err != nil {
		cache.Stop()
		return nil, nil, err
	}
	return client, cache.Stop, nil
}

// loginStack はログインフローを構成するサービス群。
type loginStack struct {
	controller *auth.Controller
	sessions   *auth.Service
}

// newLoginStack は属性写像からセッション発行までを組み立てる。
// 監査イベントはauditWriterへのJSON出力とメトリクスの両方に記録する。
func newLoginStack(cfg *config.Config, st *stores, client auth.OpenIDClient, collector *metrics.Collector, auditWriter io.Writer) *loginStack {
	sink := audit.Multi(audit.NewZerologSink(auditWriter), collector)

	synchronizer := account.NewSynchronizer(
		st.accounts,
		attribute.NewMapper(attribute.DefaultDictionary()),
		security.NewProfileSanitizer(),
		sink,
		account.SyncConfig{
			AlwaysSync:      cfg.OpenIDSyncData,
			DefaultLanguage: cfg.DefaultLanguage,
		},
	)
	resolver := account.NewResolver(st.accounts, synchronizer)
	sessions := auth.NewService(st.accounts, st.sessions, auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge})

	return &loginStack{
		controller: auth.NewController(client, resolver, sessions, collector),
		sessions:   sessions,
	}
}

// rateLimiterConfig はreq/min単位の設定をレートリミッターの設定に変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitLogin > 0 {
		rl.LoginRate = rate.Limit(float64(cfg.RateLimitLogin) / 60)
		rl.LoginBurst = cfg.RateLimitLogin
	}
	return rl
}
