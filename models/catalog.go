package models

// Credentials are supplied by the caller and only live for one job.
type Credentials struct {
	BaseURL  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"-"`
}

// Category is a supplier category discovered on the landing page
type Category struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Listing is one supplier product page, the unit of scrape work
type Listing struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	RawPrice string `json:"raw_price"`
}

// ListingDetail is what the extractors find on a single listing page
type ListingDetail struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	RawPrice    string   `json:"raw_price"`
	Brand       string   `json:"brand"`
	Images      []string `json:"images"`
}

// ImageAsset tracks one supplier image through the transfer pipeline.
// StorageURL stays nil until the upload succeeds.
type ImageAsset struct {
	SourceURL   string  `json:"source_url"`
	StorageURL  *string `json:"storage_url"`
	StorageKey  string  `json:"storage_key"`
	ContentType string  `json:"content_type"`
	Size        int64   `json:"size"`
	Index       int     `json:"index"`
}
