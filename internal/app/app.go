package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/cardshelf/internal/card"
	"github.com/hitoshi/cardshelf/internal/collection"
	"github.com/hitoshi/cardshelf/internal/config"
	"github.com/hitoshi/cardshelf/internal/database"
	"github.com/hitoshi/cardshelf/internal/handler"
	"github.com/hitoshi/cardshelf/internal/identity"
	"github.com/hitoshi/cardshelf/internal/logger"
	"github.com/hitoshi/cardshelf/internal/metadata"
	"github.com/hitoshi/cardshelf/internal/metrics"
	"github.com/hitoshi/cardshelf/internal/middleware"
	"github.com/hitoshi/cardshelf/internal/provenance"
	"github.com/hitoshi/cardshelf/internal/repository"
	"github.com/hitoshi/cardshelf/internal/security"
	"github.com/hitoshi/cardshelf/internal/worker/cleanup"
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

	// 3. 設定されたログレベルを反映する
	logger.SetLevel(cfg.LogLevel)

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
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandCleanup:
		return runCleanup(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、接続プールを設定して疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	return database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolConfig(cfg.DBMaxOpenConns))
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. DB接続
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. 依存関係のワイヤリング
	router, closeFn := newRouter(ctx, cfg, db, prometheus.NewRegistry())
	defer closeFn()

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
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

// newRouter はリポジトリからHTTPルーターまでを組み立てる。
// 返り値の関数はRedisクライアントやレートリミッターなど、終了時に閉じるべき資源を解放する。
func newRouter(ctx context.Context, cfg *config.Config, db *sql.DB, reg *prometheus.Registry) (http.Handler, func()) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// 1. リポジトリの初期化
	uow := database.NewTxManager(db)
	cardRepo := repository.NewPostgresCardRepo(db)
	collectionRepo := repository.NewPostgresCollectionRepo(db)
	recordRepo := repository.NewPostgresPublishedRecordRepo(db)
	cardQueries := repository.NewPostgresCardQueryRepo(db)
	collectionQueries := repository.NewPostgresCollectionQueryRepo(db)

	// 2. メトリクス
	collector := metrics.NewCollector(reg)

	// 3. 識別子解決とプロフィール（キャッシュはRedis、なければプロセス内）
	handleCache, profileCache := newIdentityCaches(ctx, cfg.RedisURL, &closers)
	xrpc := identity.NewClient(&http.Client{Timeout: cfg.XRPCTimeout}, cfg.XRPCBaseURL, slog.Default())
	resolver := identity.NewResolver(xrpc, handleCache, cfg.IdentityCacheTTL, slog.Default())
	profiles := identity.NewProfileProvider(xrpc, profileCache, cfg.ProfileCacheTTL, slog.Default())

	// 4. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 5. 公開記録
	prov := provenance.NewService(recordRepo, collectionQueries,
		provenance.WithPublisher(provenance.NewLocalPublisher()),
		provenance.WithMetrics(collector),
	)

	// 6. ドメインサービスの初期化
	cardOpts := []card.Option{
		card.WithPublisher(prov),
		card.WithSanitizer(sanitizer),
		card.WithMetrics(collector),
	}
	if cfg.MetadataFetchEnabled {
		fetcher := metadata.NewFetcher(ssrfGuard.NewSafeClient(cfg.MetadataFetchTimeout),
			metadata.WithValidator(ssrfGuard),
			metadata.WithSanitizer(sanitizer),
			metadata.WithMaxBodySize(cfg.MetadataFetchMaxSize),
		)
		cardOpts = append(cardOpts, card.WithMetadataFetcher(fetcher))
	}
	cardService := card.NewService(uow, cardRepo, collectionRepo, cardOpts...)
	cardQueryService := card.NewQueryService(cardQueries, cardRepo, resolver, profiles,
		card.WithQueryMetrics(collector))

	collectionService := collection.NewService(uow, collectionRepo, cardRepo,
		collection.WithPublisher(prov),
		collection.WithMetrics(collector),
	)
	collectionQueryService := collection.NewQueryService(collectionQueries, cardQueries, collectionRepo, resolver, profiles,
		collection.WithQueryMetrics(collector))

	importer := metadata.NewFeedImporter(ssrfGuard.NewSafeClient(cfg.MetadataFetchTimeout), cardService,
		metadata.WithValidator(ssrfGuard),
		metadata.WithSanitizer(sanitizer),
		metadata.WithMaxBodySize(cfg.MetadataFetchMaxSize),
	)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitWrite))
	closers = append(closers, rateLimiter.Stop)

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		Metrics:           collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CuratorHeader:     cfg.CuratorHeader,
		RateLimiter:       rateLimiter,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),

		CardService:      cardService,
		CardQueryService: cardQueryService,

		CollectionService:      collectionService,
		CollectionQueryService: collectionQueryService,

		Resolver:     prov,
		FeedImporter: importer,
	}

	return handler.NewRouter(deps), closeAll
}

// newIdentityCaches はハンドル解決用とプロフィール用のキャッシュを返す。
// Redisに接続できない場合は警告を出してプロセス内キャッシュで続行する。
func newIdentityCaches(ctx context.Context, redisURL string, closers *[]func()) (identity.Cache, identity.Cache) {
	if redisURL == "" {
		return identity.NewMemoryCache(), identity.NewMemoryCache()
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	client, err := identity.NewRedisClient(pingCtx, redisURL)
	if err != nil {
		slog.Warn("Redisに接続できないため、プロセス内キャッシュを使います",
			slog.String("error", err.Error()),
		)
		return identity.NewMemoryCache(), identity.NewMemoryCache()
	}
	*closers = append(*closers, func() { client.Close() })
	return identity.NewRedisCache(client, "cardshelf:handle:"), identity.NewRedisCache(client, "cardshelf:profile:")
}

// runCleanup は参照されなくなった公開記録を1回だけ削除して終了する。
// cronなど外部のスケジューラから定期的に起動する。
func runCleanup(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewCleanupJob(repository.NewPostgresPublishedRecordRepo(db), nil, slog.Default())
	job.RetentionDays = cfg.ProvenanceRetentionDays

	if _, err := job.Run(ctx); err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
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

	version, dirty, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
