// Package main implements the Cartwheel search API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/CartwheelHQ/cartwheel-search/engine/catalog"
	"github.com/CartwheelHQ/cartwheel-search/engine/embed"
	"github.com/CartwheelHQ/cartwheel-search/engine/queue"
	"github.com/CartwheelHQ/cartwheel-search/engine/reindex"
	"github.com/CartwheelHQ/cartwheel-search/engine/search"
	"github.com/CartwheelHQ/cartwheel-search/engine/semantic"
	"github.com/CartwheelHQ/cartwheel-search/engine/workflow"
	"github.com/CartwheelHQ/cartwheel-search/pkg/metrics"
	"github.com/CartwheelHQ/cartwheel-search/pkg/mid"
	"github.com/CartwheelHQ/cartwheel-search/pkg/resilience"
)

// Config holds all environment-based configuration.
type Config struct {
	Port        string
	MetricsPort int
	EmbedURL    string
	NATSURL     string
	QdrantURL   string
	Collection  string
	DatabaseURL string
	CORSOrigin  string
}

func loadConfig() Config {
	metricsPort, err := strconv.Atoi(envOr("METRICS_PORT", "9090"))
	if err != nil {
		metricsPort = 9090
	}
	return Config{
		Port:        envOr("PORT", "8080"),
		MetricsPort: metricsPort,
		EmbedURL:    envOr("EMBED_URL", "http://localhost:5000"),
		NATSURL:     envOr("NATS_URL", nats.DefaultURL),
		QdrantURL:   envOr("QDRANT_URL", "localhost:6334"),
		Collection:  envOr("QDRANT_COLLECTION", "products"),
		DatabaseURL: envOr("DATABASE_URL", "postgres://localhost:5432/store"),
		CORSOrigin:  envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Embedding service client, breaker-guarded ---
	guarded := &guardedEmbedder{
		client:  embed.NewClient(cfg.EmbedURL),
		breaker: resilience.New(resilience.WithThreshold(5), resilience.WithCooldown(30*time.Second)),
	}

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("cartwheel-api"))
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Drain()

	jobs := queue.New(nc, queue.WithLogger(logger))

	// --- Connect to Qdrant ---
	vectorStore, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	// --- Connect to Postgres ---
	products, err := catalog.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	defer products.Close()

	// --- Build services ---
	met := metrics.New()
	met.ServeAsync(cfg.MetricsPort)

	adminSearch := search.New(guarded, vectorStore, products, search.DefaultOptions, met, logger)
	publicSearch := search.New(guarded, vectorStore, products, search.PublicOptions, met, logger)

	embedWF := &workflow.EmbedProduct{
		Catalog: products,
		Embed:   guarded,
		Queue:   jobs,
		Store:   vectorStore,
		Log:     logger,
	}
	bulk := reindex.New(products, embedWF, logger)

	// --- Build HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /admin/embeddings/search", handleAdminSearch(adminSearch, logger))
	mux.HandleFunc("POST /store/embeddings/search", handlePublicSearch(publicSearch, logger))
	mux.HandleFunc("POST /admin/embeddings/bulk", handleBulk(bulk, logger))
	mux.HandleFunc("GET /admin/embeddings", handleListEmbeddings(vectorStore, logger))
	mux.HandleFunc("GET /admin/embeddings/{product_id}", handleGetEmbedding(vectorStore, logger))
	mux.HandleFunc("POST /admin/embeddings/{product_id}", handleEmbedOne(embedWF, logger))
	mux.HandleFunc("DELETE /admin/embeddings/{product_id}", handleDeleteOne(vectorStore, logger))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.OTel("cartwheel-api"),
		mid.CORS(cfg.CORSOrigin),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// guardedEmbedder runs embedding calls through a circuit breaker so a dead
// embedding service fails fast instead of tying up request handlers.
type guardedEmbedder struct {
	client  *embed.Client
	breaker *resilience.Breaker
}

func (g *guardedEmbedder) Embed(ctx context.Context, text string) (embed.Embedding, error) {
	return resilience.Do(g.breaker, func() (embed.Embedding, error) {
		return g.client.Embed(ctx, text)
	})
}
