// Command indexer consumes embedding jobs from NATS and writes them into
// Qdrant, and reacts to catalog change events by running the embedding
// workflow.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/CartwheelHQ/cartwheel-search/engine/catalog"
	"github.com/CartwheelHQ/cartwheel-search/engine/embed"
	"github.com/CartwheelHQ/cartwheel-search/engine/indexer"
	"github.com/CartwheelHQ/cartwheel-search/engine/queue"
	"github.com/CartwheelHQ/cartwheel-search/engine/semantic"
	"github.com/CartwheelHQ/cartwheel-search/engine/workflow"
	"github.com/CartwheelHQ/cartwheel-search/pkg/metrics"
)

var met = metrics.New()

func main() {
	var (
		natsURL     = flag.String("nats", nats.DefaultURL, "NATS server URL")
		embedURL    = flag.String("embed", "http://localhost:5000", "embedding service base URL")
		qdrantAddr  = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection  = flag.String("collection", "products", "Qdrant collection name")
		databaseURL = flag.String("db", "postgres://localhost:5432/store", "Postgres DSN")
		concurrency = flag.Int("concurrency", queue.DefaultConcurrency, "concurrent job handlers")
		metricsPort = flag.Int("metrics-port", 9091, "Prometheus metrics port")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	met.ServeAsync(*metricsPort)

	if err := run(config{
		natsURL:     *natsURL,
		embedURL:    *embedURL,
		qdrantAddr:  *qdrantAddr,
		collection:  *collection,
		databaseURL: *databaseURL,
		concurrency: *concurrency,
	}, logger); err != nil {
		logger.Error("indexer exited with error", "err", err)
		os.Exit(1)
	}
}

type config struct {
	natsURL     string
	embedURL    string
	qdrantAddr  string
	collection  string
	databaseURL string
	concurrency int
}

func run(cfg config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.natsURL,
		nats.Name("cartwheel-indexer"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Drain()

	// --- Connect to Qdrant ---
	vectorStore, err := semantic.New(cfg.qdrantAddr, cfg.collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	if err := vectorStore.EnsureCollection(ctx, semantic.DefaultVectorDims); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	// --- Connect to Postgres ---
	products, err := catalog.Connect(ctx, cfg.databaseURL)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	defer products.Close()

	// --- Queue consumer ---
	jobs := queue.New(nc, queue.WithLogger(logger))
	worker := indexer.New(vectorStore, logger, met)

	sub, err := worker.Start(ctx, jobs, cfg.concurrency)
	if err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer sub.Drain()

	// --- Catalog event dispatcher ---
	embedWF := &workflow.EmbedProduct{
		Catalog: products,
		Embed:   embed.NewClient(cfg.embedURL),
		Queue:   jobs,
		Store:   vectorStore,
		Log:     logger,
	}

	dispatcher := workflow.NewDispatcher(logger)
	workflow.Wire(dispatcher, embedWF, vectorStore)

	subs, err := dispatcher.Subscribe(nc)
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	defer func() {
		for _, s := range subs {
			s.Drain()
		}
	}()

	logger.Info("indexer running",
		"concurrency", cfg.concurrency,
		"collection", cfg.collection,
		"subject", queue.Subject,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}
