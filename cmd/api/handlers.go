package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/CartwheelHQ/cartwheel-search/engine/catalog"
	"github.com/CartwheelHQ/cartwheel-search/engine/domain"
	"github.com/CartwheelHQ/cartwheel-search/engine/reindex"
	"github.com/CartwheelHQ/cartwheel-search/engine/search"
	"github.com/CartwheelHQ/cartwheel-search/engine/semantic"
	"github.com/CartwheelHQ/cartwheel-search/engine/workflow"
)

// maxFilterProductIDs caps the product_ids filter on the admin search API.
const maxFilterProductIDs = 100

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// searchRequest is the JSON body for the search endpoints. The filters and
// include flags are honored only on the admin path.
type searchRequest struct {
	Query   string `json:"query"`
	Limit   int    `json:"limit,omitempty"`
	Filters *struct {
		ProductIDs []string `json:"product_ids,omitempty"`
	} `json:"filters,omitempty"`
	IncludeProduct   bool `json:"include_product,omitempty"`
	IncludeEmbedding bool `json:"include_embedding,omitempty"`
}

// adminSearchResponse is the JSON response for POST /admin/embeddings/search.
type adminSearchResponse struct {
	Query      string       `json:"query"`
	Limit      int          `json:"limit"`
	Took       int64        `json:"took"`
	Count      int          `json:"count"`
	Dimensions int          `json:"embedding_dimensions"`
	Hits       []search.Hit `json:"hits"`
}

func handleAdminSearch(svc *search.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body searchRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		req := search.Request{
			Query:            body.Query,
			Limit:            body.Limit,
			IncludeProduct:   body.IncludeProduct,
			IncludeEmbedding: body.IncludeEmbedding,
		}
		if body.Filters != nil && len(body.Filters.ProductIDs) > 0 {
			ids := catalog.DedupeIDs(body.Filters.ProductIDs)
			if len(ids) == 0 || len(ids) > maxFilterProductIDs {
				writeError(w, http.StatusBadRequest, "filters.product_ids must contain 1-100 non-empty ids")
				return
			}
			req.ProductIDs = ids
		}

		resp, err := svc.Search(r.Context(), req)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, adminSearchResponse{
			Query:      resp.Query,
			Limit:      resp.Limit,
			Took:       resp.Took.Milliseconds(),
			Count:      len(resp.Hits),
			Dimensions: resp.Dimensions,
			Hits:       resp.Hits,
		})
	}
}

// publicHit is the storefront projection of a search hit. Only
// non-sensitive product fields are exposed.
type publicHit struct {
	ID       string                 `json:"id"`
	Score    float32                `json:"score"`
	Product  *domain.ProductSummary `json:"product,omitempty"`
	Metadata map[string]any         `json:"metadata,omitempty"`
}

// publicSearchResponse is the JSON response for POST /store/embeddings/search.
type publicSearchResponse struct {
	Query string      `json:"query"`
	Limit int         `json:"limit"`
	Took  int64       `json:"took"`
	Total uint64      `json:"total"`
	Count int         `json:"count"`
	Hits  []publicHit `json:"hits"`
}

func handlePublicSearch(svc *search.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body searchRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		resp, err := svc.Search(r.Context(), search.Request{
			Query:          body.Query,
			Limit:          body.Limit,
			IncludeProduct: true,
			PublishedOnly:  true,
		})
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		hits := make([]publicHit, 0, len(resp.Hits))
		for _, h := range resp.Hits {
			ph := publicHit{ID: h.EntityID, Score: h.Score, Metadata: h.Metadata}
			if h.Product != nil {
				summary := h.Product.Summary()
				ph.Product = &summary
			}
			hits = append(hits, ph)
		}

		writeJSON(w, http.StatusOK, publicSearchResponse{
			Query: resp.Query,
			Limit: resp.Limit,
			Took:  resp.Took.Milliseconds(),
			Total: resp.Total,
			Count: len(hits),
			Hits:  hits,
		})
	}
}

func handleBulk(bulk *reindex.Reindexer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := bulk.Run(r.Context())
		if err != nil {
			logger.Error("bulk reindex aborted", "err", err)
			writeError(w, http.StatusInternalServerError, "bulk reindex aborted")
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleEmbedOne(wf *workflow.EmbedProduct, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID := r.PathValue("product_id")
		if productID == "" {
			writeError(w, http.StatusBadRequest, "product_id is required")
			return
		}
		if err := wf.Run(r.Context(), productID); err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"product_id": productID, "status": "enqueued"})
	}
}

// recordReader is the slice of the vector store the admin read routes need.
type recordReader interface {
	Get(ctx context.Context, entityID string) (semantic.Record, error)
	List(ctx context.Context, offset, limit int) ([]semantic.Record, uint64, error)
}

// embeddingRecord is the admin JSON projection of a stored embedding.
type embeddingRecord struct {
	ProductID    string         `json:"product_id"`
	EmbeddedText string         `json:"embedded_text,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	GeneratedAt  time.Time      `json:"generated_at"`
	Embedding    []float32      `json:"embedding,omitempty"`
}

func toEmbeddingRecord(rec semantic.Record) embeddingRecord {
	return embeddingRecord{
		ProductID:    rec.EntityID,
		EmbeddedText: rec.SourceText,
		Metadata:     rec.Metadata,
		GeneratedAt:  rec.GeneratedAt,
		Embedding:    rec.Vector,
	}
}

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

type listEmbeddingsResponse struct {
	Embeddings []embeddingRecord `json:"embeddings"`
	Count      uint64            `json:"count"`
	Offset     int               `json:"offset"`
	Limit      int               `json:"limit"`
}

func handleListEmbeddings(store recordReader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset := queryInt(r, "offset", 0)
		limit := queryInt(r, "limit", defaultListLimit)
		if offset < 0 || limit <= 0 || limit > maxListLimit {
			writeError(w, http.StatusBadRequest, "offset must be >= 0 and limit in 1-100")
			return
		}

		recs, total, err := store.List(r.Context(), offset, limit)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		out := make([]embeddingRecord, len(recs))
		for i, rec := range recs {
			out[i] = toEmbeddingRecord(rec)
			out[i].Embedding = nil // the listing never carries vectors
		}
		writeJSON(w, http.StatusOK, listEmbeddingsResponse{
			Embeddings: out,
			Count:      total,
			Offset:     offset,
			Limit:      limit,
		})
	}
}

func handleGetEmbedding(store recordReader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID := r.PathValue("product_id")
		if productID == "" {
			writeError(w, http.StatusBadRequest, "product_id is required")
			return
		}
		rec, err := store.Get(r.Context(), productID)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]embeddingRecord{"embedding": toEmbeddingRecord(rec)})
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}

// recordDeleter is the slice of the vector store the delete route needs.
type recordDeleter interface {
	Delete(ctx context.Context, entityID string) error
}

func handleDeleteOne(store recordDeleter, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID := r.PathValue("product_id")
		if productID == "" {
			writeError(w, http.StatusBadRequest, "product_id is required")
			return
		}
		if err := store.Delete(r.Context(), productID); err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"product_id": productID, "status": "deleted"})
	}
}

// writeServiceError maps the error taxonomy to HTTP statuses: validation
// 400, not-found 404, dependency 503, everything else 500.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case domain.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case domain.IsDependency(err):
		logger.Error("dependency unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
