package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CartwheelHQ/cartwheel-search/engine/domain"
	"github.com/CartwheelHQ/cartwheel-search/engine/embed"
	"github.com/CartwheelHQ/cartwheel-search/engine/queue"
)

// ErrEmbeddingUnavailable signals that the embedding service could not
// produce a vector.
var ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

// CatalogReader loads the product being embedded.
type CatalogReader interface {
	Get(ctx context.Context, id string) (domain.Product, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (embed.Embedding, error)
}

// Enqueuer hands finished embeddings to the indexing queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) (string, error)
}

// RecordDeleter removes an entity's record from the vector store. Used as
// compensation when enqueue fails after an embedding was produced.
type RecordDeleter interface {
	Delete(ctx context.Context, entityID string) error
}

// EmbedProduct embeds one product and enqueues it for indexing.
type EmbedProduct struct {
	Catalog CatalogReader
	Embed   Embedder
	Queue   Enqueuer
	Store   RecordDeleter
	Log     *slog.Logger
}

// Run executes the fetch, build, embed, and enqueue steps for productID.
// If enqueue fails after embedding succeeded, any existing record for the
// product is deleted so a failed update cannot leave a stale entry behind.
func (w *EmbedProduct) Run(ctx context.Context, productID string) error {
	var (
		product domain.Product
		text    string
		vectors []float32
	)

	steps := []Step{
		{
			Name: "fetch",
			Run: func(ctx context.Context) error {
				var err error
				product, err = w.Catalog.Get(ctx, productID)
				return err
			},
		},
		{
			Name: "build_text",
			Run: func(ctx context.Context) error {
				text = BuildSourceText(product)
				if text == "" {
					return domain.NewValidationError("source_text", productID, domain.ErrEmptyQuery)
				}
				return nil
			},
		},
		{
			Name: "embed",
			Run: func(ctx context.Context) error {
				emb, err := w.Embed.Embed(ctx, text)
				if err != nil {
					return domain.NewDependencyError("embedding service",
						fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err))
				}
				vectors = emb.Vectors
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return w.Store.Delete(ctx, productID)
			},
		},
		{
			Name: "enqueue",
			Run: func(ctx context.Context) error {
				job := queue.Job{
					EntityID:   productID,
					SourceText: text,
					Vector:     vectors,
					Metadata:   BuildMetadata(product),
					EnqueuedAt: time.Now().UTC(),
				}
				jobID, err := w.Queue.Enqueue(ctx, job)
				if err != nil {
					return err
				}
				w.Log.Info("embedding enqueued", "entity_id", productID, "job_id", jobID)
				return nil
			},
		},
	}

	return RunSaga(ctx, w.Log, "embed_product", steps)
}

// BuildSourceText concatenates a product's title, description, and category
// names into the text that gets embedded. Empty fields are omitted.
func BuildSourceText(p domain.Product) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.Title))

	if desc := strings.TrimSpace(p.Description); desc != "" {
		if b.Len() > 0 {
			b.WriteString(". ")
		}
		b.WriteString(desc)
	}

	if len(p.Categories) > 0 {
		names := make([]string, 0, len(p.Categories))
		for _, c := range p.Categories {
			if name := strings.TrimSpace(c.Name); name != "" {
				names = append(names, name)
			}
		}
		if len(names) > 0 {
			if b.Len() > 0 {
				b.WriteString(". ")
			}
			b.WriteString("Categories: ")
			b.WriteString(strings.Join(names, ", "))
		}
	}

	return b.String()
}

// BuildMetadata returns the payload stored next to the vector. The
// categories and tags keys appear only when non-empty.
func BuildMetadata(p domain.Product) map[string]any {
	md := map[string]any{
		"title":  p.Title,
		"handle": p.Handle,
	}
	if len(p.Categories) > 0 {
		names := make([]string, 0, len(p.Categories))
		for _, c := range p.Categories {
			names = append(names, c.Name)
		}
		md["categories"] = names
	}
	if len(p.Tags) > 0 {
		values := make([]string, 0, len(p.Tags))
		for _, t := range p.Tags {
			values = append(values, t.Value)
		}
		md["tags"] = values
	}
	return md
}
