package models

import (
	"time"

	"github.com/google/uuid"
)

// Product status
const (
	ProductStatusAvailable = "available"
)

// Product is the normalized catalog record written by the ingestion pipeline
type Product struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Title         string    `json:"title" db:"title"`
	Description   string    `json:"description" db:"description"`
	Price         float64   `json:"price" db:"price"`
	OriginalPrice float64   `json:"original_price" db:"original_price"`
	Category      string    `json:"category" db:"category"`
	Images        []string  `json:"images" db:"images"`
	Status        string    `json:"status" db:"status"`
	Condition     string    `json:"condition" db:"condition"`
	Brand         string    `json:"brand" db:"brand"`
	SourceURL     string    `json:"source_url" db:"source_url"`
	SourceKey     string    `json:"source_key" db:"source_key"` // normalized source URL
	Views         int       `json:"views" db:"views"`
	Likes         []string  `json:"likes" db:"likes"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// ListingOutcome explains why a listing did not produce a product
type ListingOutcome struct {
	Listing Listing `json:"listing"`
	Reason  string  `json:"reason"`
}

// BatchResult is returned by category and site scrapes
type BatchResult struct {
	Created []Product        `json:"created"`
	Skipped []ListingOutcome `json:"skipped"`
	Failed  []ListingOutcome `json:"failed"`
}

// Merge appends other's outcomes to r
func (r *BatchResult) Merge(other *BatchResult) {
	if other == nil {
		return
	}
	r.Created = append(r.Created, other.Created...)
	r.Skipped = append(r.Skipped, other.Skipped...)
	r.Failed = append(r.Failed, other.Failed...)
}
