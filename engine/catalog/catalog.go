// Package catalog reads product data from the commerce database.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CartwheelHQ/cartwheel-search/engine/domain"
)

// Reader loads products for embedding and for search result hydration.
type Reader interface {
	// Get returns a single product with its categories and tags. A missing
	// id yields a domain.NotFoundError.
	Get(ctx context.Context, id string) (domain.Product, error)

	// ListByIDs returns the products that exist among ids, in no
	// particular order. Missing ids are skipped. When publishedOnly is
	// set, non-published products are skipped too.
	ListByIDs(ctx context.Context, ids []string, publishedOnly bool) ([]domain.Product, error)

	// ListPage returns a page of products ordered by id.
	ListPage(ctx context.Context, offset, limit int) ([]domain.Product, error)
}

// querier is the slice of *pgxpool.Pool the reader uses.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements Reader against the store's relational schema.
type Postgres struct {
	db   querier
	pool *pgxpool.Pool
}

// NewPostgres wraps a connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{db: pool, pool: pool}
}

// Connect opens a pool against the given DSN and verifies it.
func Connect(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{db: pool, pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

const productColumns = `p.id, p.title, coalesce(p.subtitle, ''), coalesce(p.description, ''),
	coalesce(p.handle, ''), coalesce(p.thumbnail, ''), p.status, p.updated_at`

func (p *Postgres) Get(ctx context.Context, id string) (domain.Product, error) {
	row := p.db.QueryRow(ctx,
		`SELECT `+productColumns+` FROM product p WHERE p.id = $1 AND p.deleted_at IS NULL`, id)

	prod, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Product{}, domain.NewNotFound("product", id)
		}
		return domain.Product{}, fmt.Errorf("get product %s: %w", id, err)
	}

	if err := p.attachRelations(ctx, map[string]*domain.Product{prod.ID: &prod}); err != nil {
		return domain.Product{}, err
	}
	return prod, nil
}

func (p *Postgres) ListByIDs(ctx context.Context, ids []string, publishedOnly bool) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	q := `SELECT ` + productColumns + ` FROM product p WHERE p.id = ANY($1) AND p.deleted_at IS NULL`
	if publishedOnly {
		q += ` AND p.status = 'published'`
	}

	rows, err := p.db.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products, err := collectProducts(rows)
	if err != nil {
		return nil, err
	}
	if err := p.attachRelationsSlice(ctx, products); err != nil {
		return nil, err
	}
	return products, nil
}

func (p *Postgres) ListPage(ctx context.Context, offset, limit int) ([]domain.Product, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+productColumns+` FROM product p WHERE p.deleted_at IS NULL
		 ORDER BY p.id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list page: %w", err)
	}
	defer rows.Close()

	products, err := collectProducts(rows)
	if err != nil {
		return nil, err
	}
	if err := p.attachRelationsSlice(ctx, products); err != nil {
		return nil, err
	}
	return products, nil
}

func scanProduct(row pgx.Row) (domain.Product, error) {
	var prod domain.Product
	err := row.Scan(
		&prod.ID,
		&prod.Title,
		&prod.Subtitle,
		&prod.Description,
		&prod.Handle,
		&prod.Thumbnail,
		&prod.Status,
		&prod.UpdatedAt,
	)
	return prod, err
}

func collectProducts(rows pgx.Rows) ([]domain.Product, error) {
	var products []domain.Product
	for rows.Next() {
		prod, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, prod)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read products: %w", err)
	}
	return products, nil
}

func (p *Postgres) attachRelationsSlice(ctx context.Context, products []domain.Product) error {
	if len(products) == 0 {
		return nil
	}
	byID := make(map[string]*domain.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return p.attachRelations(ctx, byID)
}

// attachRelations loads categories and tags for the given products in two
// batched queries.
func (p *Postgres) attachRelations(ctx context.Context, byID map[string]*domain.Product) error {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	rows, err := p.db.Query(ctx,
		`SELECT pcp.product_id, pc.id, pc.name
		 FROM product_category_product pcp
		 JOIN product_category pc ON pc.id = pcp.product_category_id
		 WHERE pcp.product_id = ANY($1)
		 ORDER BY pc.name`, ids)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	for rows.Next() {
		var productID string
		var cat domain.Category
		if err := rows.Scan(&productID, &cat.ID, &cat.Name); err != nil {
			rows.Close()
			return fmt.Errorf("scan category: %w", err)
		}
		if prod, ok := byID[productID]; ok {
			prod.Categories = append(prod.Categories, cat)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read categories: %w", err)
	}

	rows, err = p.db.Query(ctx,
		`SELECT pt.product_id, t.id, t.value
		 FROM product_tags pt
		 JOIN product_tag t ON t.id = pt.product_tag_id
		 WHERE pt.product_id = ANY($1)
		 ORDER BY t.value`, ids)
	if err != nil {
		return fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var productID string
		var tag domain.Tag
		if err := rows.Scan(&productID, &tag.ID, &tag.Value); err != nil {
			return fmt.Errorf("scan tag: %w", err)
		}
		if prod, ok := byID[productID]; ok {
			prod.Tags = append(prod.Tags, tag)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read tags: %w", err)
	}
	return nil
}

// DedupeIDs trims, drops empties, and removes duplicates while preserving
// first-seen order.
func DedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
