package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/hyeon-dev/ragserver/internal/ai"
	"github.com/hyeon-dev/ragserver/internal/config"
	"github.com/hyeon-dev/ragserver/internal/db"
	"github.com/hyeon-dev/ragserver/internal/embedcache"
	"github.com/hyeon-dev/ragserver/internal/filestore"
	"github.com/hyeon-dev/ragserver/internal/handler"
	"github.com/hyeon-dev/ragserver/internal/job"
	"github.com/hyeon-dev/ragserver/internal/middleware"
	"github.com/hyeon-dev/ragserver/internal/pkg/jwt"
	"github.com/hyeon-dev/ragserver/internal/repo"
	"github.com/hyeon-dev/ragserver/internal/schedule"
	"github.com/hyeon-dev/ragserver/internal/service"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "ragserver",
		Short: "retrieval-augmented generation server",
	}
	rootCmd.AddCommand(newRunCmd(), newTokenCmd(), newIngestCmd())
	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
	return cfg, nil
}

func newRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the rag server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			database, err := db.Open(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer database.Close()
			if err := db.ApplyMigrations(database); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, database)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	return cmd
}

// buildEmbedder resolves the embedding provider chain (primary plus any
// configured fallbacks) and layers the LRU and DB caches over it. The caches
// wrap the whole chain so a fallback hit is cached like a primary hit.
func buildEmbedder(cfg *config.Config, cacheRepo *repo.EmbeddingCacheRepo) (ai.IEmbedder, error) {
	embedder, err := buildEmbedderChain(cfg)
	if err != nil {
		return nil, err
	}
	if cacheRepo != nil {
		embedder = embedcache.WrapDBCacheToEmbedder(embedder, cacheRepo)
	}
	embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.AI.CacheSize, time.Duration(cfg.AI.CacheTTLMin)*time.Minute)
	return embedder, nil
}

func buildEmbedderChain(cfg *config.Config) (ai.IEmbedder, error) {
	provider, err := ai.NewEmbedProvider(cfg.AI.EmbedProvider, cfg.AI.EmbedData)
	if err != nil {
		return nil, fmt.Errorf("init embed provider %s: %w", cfg.AI.EmbedProvider, err)
	}
	primary := ai.NewEmbedder(provider, cfg.AI.EmbedModel)
	if len(cfg.AI.EmbedFallbacks) == 0 {
		return primary, nil
	}
	entries := []ai.EmbedderEntry{{Name: cfg.AI.EmbedProvider, Embedder: primary}}
	for _, ref := range cfg.AI.EmbedFallbacks {
		p, err := ai.NewEmbedProvider(ref.Provider, ref.Data)
		if err != nil {
			return nil, fmt.Errorf("init embed fallback %s: %w", ref.Provider, err)
		}
		entries = append(entries, ai.EmbedderEntry{Name: ref.Provider, Embedder: ai.NewEmbedder(p, ref.Model)})
	}
	return ai.NewGroupEmbedder(entries), nil
}

func buildGenerator(cfg *config.Config) (ai.IGenerator, error) {
	provider, err := ai.NewProvider(cfg.AI.Provider, cfg.AI.Data)
	if err != nil {
		return nil, fmt.Errorf("init ai provider %s: %w", cfg.AI.Provider, err)
	}
	primary := ai.NewGenerator(provider, cfg.AI.Model)
	if len(cfg.AI.Fallbacks) == 0 {
		return primary, nil
	}
	entries := []ai.GeneratorEntry{{Name: cfg.AI.Provider, Generator: primary}}
	for _, ref := range cfg.AI.Fallbacks {
		p, err := ai.NewProvider(ref.Provider, ref.Data)
		if err != nil {
			return nil, fmt.Errorf("init fallback provider %s: %w", ref.Provider, err)
		}
		entries = append(entries, ai.GeneratorEntry{Name: ref.Provider, Generator: ai.NewGenerator(p, ref.Model)})
	}
	return ai.NewGroupGenerator(entries), nil
}

func runServer(cfg *config.Config, database *sqlx.DB) error {
	logutil.GetLogger(context.Background()).Info("starting server",
		zap.Int("port", cfg.Port),
		zap.String("provider", cfg.AI.Provider),
		zap.String("embed_provider", cfg.AI.EmbedProvider),
		zap.String("collection", cfg.AI.Collection),
	)

	vectorRepo := repo.NewVectorRepo(database)
	cacheRepo := repo.NewEmbeddingCacheRepo(database)

	embedder, err := buildEmbedder(cfg, cacheRepo)
	if err != nil {
		return err
	}
	generator, err := buildGenerator(cfg)
	if err != nil {
		return err
	}
	store, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}

	documentService := service.NewDocumentService(embedder, vectorRepo)
	ragService := service.NewRAGService(embedder, generator, vectorRepo, cfg.AI.Collection, cfg.AI.MaxTokens)
	chatService := service.NewChatService(generator, store, cfg.Chat)
	tuneService := service.NewTuneService(store, cfg.Tune)

	deps := handler.RouterDeps{
		Health: handler.NewHealthHandler(database, handler.ProviderInfo{
			Provider:      cfg.AI.Provider,
			Model:         cfg.AI.Model,
			EmbedProvider: cfg.AI.EmbedProvider,
			EmbedModel:    cfg.AI.EmbedModel,
		}, version),
		RAG:        handler.NewRAGHandler(ragService),
		Documents:  handler.NewDocumentHandler(documentService, cfg.AI.Collection),
		Chat:       handler.NewChatHandler(chatService),
		Tune:       handler.NewTuneHandler(tuneService),
		JWTSecret:  []byte(cfg.JWTSecret),
		RateWindow: time.Duration(cfg.RateLimitMS) * time.Millisecond,
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewEmbeddingCacheCleanupJob(cacheRepo, cfg.AI.CacheMaxAgeDays), "0 3 * * *"); err != nil {
		return err
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}

func newTokenCmd() *cobra.Command {
	var configPath string
	var subject string
	var ttlHours int
	cmd := &cobra.Command{
		Use:   "token",
		Short: "mint a service token for the mutation routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("jwt_secret is not configured")
			}
			if ttlHours <= 0 {
				ttlHours = cfg.JWTTTLHours
			}
			token, err := jwt.GenerateToken(subject, []byte(cfg.JWTSecret), time.Duration(ttlHours)*time.Hour)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	cmd.Flags().StringVar(&subject, "subject", "service", "token subject")
	cmd.Flags().IntVar(&ttlHours, "ttl", 0, "token ttl in hours")
	return cmd
}

func newIngestCmd() *cobra.Command {
	var configPath string
	var dir string
	var collection string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "bulk ingest markdown files into a collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if dir == "" {
				return fmt.Errorf("--dir is required")
			}
			if collection == "" {
				collection = cfg.AI.Collection
			}
			ctx := context.Background()
			database, err := db.Open(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer database.Close()
			if err := db.ApplyMigrations(database); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}

			vectorRepo := repo.NewVectorRepo(database)
			embedder, err := buildEmbedder(cfg, repo.NewEmbeddingCacheRepo(database))
			if err != nil {
				return err
			}
			documentService := service.NewDocumentService(embedder, vectorRepo)

			total := 0
			files := 0
			err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() || !strings.HasSuffix(strings.ToLower(path), ".md") {
					return nil
				}
				content, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				name, _ := filepath.Rel(dir, path)
				count, err := documentService.IngestMarkdown(ctx, collection, name, string(content))
				if err != nil {
					return fmt.Errorf("ingest %s: %w", name, err)
				}
				logutil.GetLogger(ctx).Info("file ingested", zap.String("file", name), zap.Int("chunks", count))
				total += count
				files++
				return nil
			})
			if err != nil {
				return err
			}
			logutil.GetLogger(ctx).Info("ingest finished",
				zap.String("collection", collection),
				zap.Int("files", files),
				zap.Int("chunks", total),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	cmd.Flags().StringVar(&dir, "dir", "", "directory of markdown files")
	cmd.Flags().StringVar(&collection, "collection", "", "target collection (defaults to ai.collection)")
	return cmd
}
