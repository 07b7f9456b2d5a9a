// Package search serves similarity queries over the embedding index.
package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/CartwheelHQ/cartwheel-search/engine/domain"
	"github.com/CartwheelHQ/cartwheel-search/engine/embed"
	"github.com/CartwheelHQ/cartwheel-search/engine/semantic"
	"github.com/CartwheelHQ/cartwheel-search/pkg/metrics"
)

// maxLoggedQueryLen caps how much of a user query reaches the logs.
const maxLoggedQueryLen = 120

// Embedder turns the query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (embed.Embedding, error)
}

// VectorSearcher runs the similarity query.
type VectorSearcher interface {
	Query(ctx context.Context, vector []float32, opts semantic.QueryOpts) (semantic.QueryResult, error)
}

// Catalog hydrates hits with product data.
type Catalog interface {
	ListByIDs(ctx context.Context, ids []string, publishedOnly bool) ([]domain.Product, error)
}

// Options bound a service instance. The admin and public APIs run separate
// instances with different limits.
type Options struct {
	// Surface names the instance in logs and metric labels.
	Surface string
	// MaxLimit caps the per-request limit. Requests above it are clamped,
	// not rejected.
	MaxLimit int
	// DefaultLimit applies when the request carries no limit.
	DefaultLimit int
	// SearchTimeout bounds one whole search call.
	SearchTimeout time.Duration
}

// DefaultOptions are the admin-side bounds.
var DefaultOptions = Options{
	Surface:       "admin",
	MaxLimit:      50,
	DefaultLimit:  10,
	SearchTimeout: 15 * time.Second,
}

// PublicOptions are the storefront bounds.
var PublicOptions = Options{
	Surface:       "public",
	MaxLimit:      25,
	DefaultLimit:  10,
	SearchTimeout: 15 * time.Second,
}

// Request is one search call.
type Request struct {
	Query string
	// Limit is clamped into [1, Options.MaxLimit]; zero means the default.
	Limit int
	// ProductIDs restricts hits to the given products.
	ProductIDs []string
	// IncludeProduct joins each hit with its catalog product.
	IncludeProduct bool
	// IncludeEmbedding returns each hit's stored vector.
	IncludeEmbedding bool
	// PublishedOnly drops hits whose product is not published.
	PublishedOnly bool
}

// Hit is one scored result, optionally hydrated with its product.
type Hit struct {
	ID         string          `json:"id"`
	EntityID   string          `json:"product_id"`
	Score      float32         `json:"score"`
	SourceText string          `json:"embedded_text,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	Product    *domain.Product `json:"product,omitempty"`
	Vector     []float32       `json:"embedding,omitempty"`
}

// Response is a completed search.
type Response struct {
	Query      string
	Limit      int
	Took       time.Duration
	Total      uint64
	Hits       []Hit
	Dimensions int
}

// Service embeds a query, runs the vector search, and joins the results
// against the catalog.
type Service struct {
	embed   Embedder
	store   VectorSearcher
	catalog Catalog
	opts    Options
	log     *slog.Logger

	searches *metrics.Counter
	failures *metrics.Counter
	inflight *metrics.Gauge
	duration *metrics.Histogram
}

// New constructs a Service.
func New(embedder Embedder, store VectorSearcher, catalog Catalog, opts Options, reg *metrics.Registry, log *slog.Logger) *Service {
	if opts.Surface == "" {
		opts.Surface = DefaultOptions.Surface
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = DefaultOptions.MaxLimit
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultOptions.DefaultLimit
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultOptions.SearchTimeout
	}
	surface := []string{"surface", opts.Surface}
	return &Service{
		embed:   embedder,
		store:   store,
		catalog: catalog,
		opts:    opts,
		log:     log,
		searches: reg.Counter(metrics.WithLabels("search_requests_total", surface...),
			"Completed search requests."),
		failures: reg.Counter(metrics.WithLabels("search_failures_total", surface...),
			"Search requests that returned an error."),
		inflight: reg.Gauge(metrics.WithLabels("search_inflight", surface...),
			"Searches currently executing."),
		duration: reg.Histogram(metrics.WithLabels("search_duration_seconds", surface...),
			"End-to-end search latency."),
	}
}

// Search validates and runs one query. Hits keep the store's score order.
func (s *Service) Search(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	s.inflight.Inc()
	defer s.inflight.Dec()
	defer s.duration.Since(start)

	resp, err := s.search(ctx, req, start)
	if err != nil {
		s.failures.Inc()
		return Response{}, err
	}
	s.searches.Inc()
	s.log.Info("search completed",
		"surface", s.opts.Surface,
		"query", TruncateQuery(resp.Query),
		"hits", len(resp.Hits),
		"total", resp.Total,
		"took_ms", resp.Took.Milliseconds(),
	)
	return resp, nil
}

func (s *Service) search(ctx context.Context, req Request, start time.Time) (Response, error) {
	query, err := domain.ValidateQuery(req.Query)
	if err != nil {
		return Response{}, err
	}
	limit := clampLimit(req.Limit, s.opts.DefaultLimit, s.opts.MaxLimit)

	ctx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	emb, err := s.embed.Embed(ctx, query)
	if err != nil {
		return Response{}, domain.NewDependencyError("embedding service", err)
	}

	result, err := s.store.Query(ctx, emb.Vectors, semantic.QueryOpts{
		K:          limit,
		EntityIDs:  req.ProductIDs,
		WithVector: req.IncludeEmbedding,
	})
	if err != nil {
		return Response{}, domain.NewDependencyError("vector store", err)
	}

	hits, err := s.hydrate(ctx, result.Hits, req)
	if err != nil {
		return Response{}, err
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}

	return Response{
		Query:      query,
		Limit:      limit,
		Took:       time.Since(start),
		Total:      result.Total,
		Hits:       hits,
		Dimensions: emb.Dimensions,
	}, nil
}

// TruncateQuery bounds a query string for logging. Long queries are cut at
// 120 characters with an ellipsis.
func TruncateQuery(q string) string {
	if len(q) <= maxLoggedQueryLen {
		return q
	}
	return q[:maxLoggedQueryLen] + "..."
}

// hydrate joins hits with catalog products, preserving hit order. When
// products are required (join requested or published filter on), hits whose
// product no longer resolves are dropped as stale index entries.
func (s *Service) hydrate(ctx context.Context, raw []semantic.Hit, req Request) ([]Hit, error) {
	hits := make([]Hit, 0, len(raw))

	needProducts := req.IncludeProduct || req.PublishedOnly
	var byID map[string]*domain.Product
	if needProducts && len(raw) > 0 {
		ids := make([]string, 0, len(raw))
		seen := make(map[string]struct{}, len(raw))
		for _, h := range raw {
			if _, ok := seen[h.EntityID]; ok {
				continue
			}
			seen[h.EntityID] = struct{}{}
			ids = append(ids, h.EntityID)
		}

		products, err := s.catalog.ListByIDs(ctx, ids, req.PublishedOnly)
		if err != nil {
			return nil, domain.NewDependencyError("catalog", err)
		}
		byID = make(map[string]*domain.Product, len(products))
		for i := range products {
			byID[products[i].ID] = &products[i]
		}
	}

	for _, h := range raw {
		hit := Hit{
			ID:         h.ID,
			EntityID:   h.EntityID,
			Score:      h.Score,
			SourceText: h.SourceText,
			Metadata:   h.Metadata,
		}
		if req.IncludeEmbedding {
			hit.Vector = h.Vector
		}
		if needProducts {
			prod, ok := byID[h.EntityID]
			if !ok {
				s.log.Debug("dropping stale hit", "entity_id", h.EntityID)
				continue
			}
			if req.IncludeProduct {
				hit.Product = prod
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		limit = def
	}
	if limit < 1 {
		limit = 1
	}
	if limit > max {
		limit = max
	}
	return limit
}
