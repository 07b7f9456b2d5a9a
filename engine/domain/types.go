// Package domain defines core catalog and search types, the error taxonomy,
// and validation shared across the indexing pipeline and the search path.
package domain

import "time"

// Product statuses as stored in the catalog.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusRejected  = "rejected"
)

// Category is a product category reference.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Tag is a free-form product tag.
type Tag struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Product is the catalog entity the pipeline derives embeddings from.
type Product struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Subtitle    string     `json:"subtitle,omitempty"`
	Description string     `json:"description,omitempty"`
	Handle      string     `json:"handle,omitempty"`
	Thumbnail   string     `json:"thumbnail,omitempty"`
	Status      string     `json:"status,omitempty"`
	Categories  []Category `json:"categories,omitempty"`
	Tags        []Tag      `json:"tags,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at,omitempty"`
}

// Published reports whether the product passes the public visibility filter.
func (p Product) Published() bool {
	return p.Status == StatusPublished
}

// ProductSummary is the public-safe projection served to untrusted callers.
type ProductSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Subtitle    string `json:"subtitle,omitempty"`
	Description string `json:"description,omitempty"`
	Handle      string `json:"handle,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
}

// Summary projects a Product to its public-safe fields.
func (p Product) Summary() ProductSummary {
	return ProductSummary{
		ID:          p.ID,
		Title:       p.Title,
		Subtitle:    p.Subtitle,
		Description: p.Description,
		Handle:      p.Handle,
		Thumbnail:   p.Thumbnail,
	}
}
