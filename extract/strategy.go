// Package extract turns supplier markup into categories, listings and images.
//
// Every extractor walks an ordered list of candidate selectors and uses the
// first one that yields results. Extractors never fail: markup that matches
// nothing produces an empty slice.
package extract

// DefaultMaxImages bounds how many images one listing may carry.
const DefaultMaxImages = 8

// Strategy holds the ordered candidate selectors for every extraction target.
// A supplier profile overrides any subset of it.
type Strategy struct {
	CategoryContainers []string `yaml:"category_containers"`
	ListingContainers  []string `yaml:"listing_containers"`
	ListingTitle       []string `yaml:"listing_title"`
	ListingPrice       []string `yaml:"listing_price"`
	ImageElements      []string `yaml:"image_elements"`
	ImageAttributes    []string `yaml:"image_attributes"`
	DecorativePatterns []string `yaml:"decorative_patterns"`
	DetailTitle        []string `yaml:"detail_title"`
	DetailDescription  []string `yaml:"detail_description"`
	DetailPrice        []string `yaml:"detail_price"`
	DetailBrand        []string `yaml:"detail_brand"`
	MaxImages          int      `yaml:"max_images"`
}

// DefaultStrategy covers the common storefront layouts.
func DefaultStrategy() Strategy {
	return Strategy{
		CategoryContainers: []string{
			"nav.categories a",
			"ul.categories li",
			".category-list .category",
			".category-item",
			"a[href*='/category/']",
			"a[href*='categor']",
		},
		ListingContainers: []string{
			".product-list .product",
			".products .product",
			".product-item",
			".product-card",
			"li.product",
			".listing",
			"[data-product-id]",
			"article",
		},
		ListingTitle: []string{
			".product-title",
			".product-name",
			".title",
			".name",
			"h2",
			"h3",
			"h4",
		},
		ListingPrice: []string{
			".price",
			"[class*='price']",
			".amount",
			"[itemprop='price']",
		},
		ImageElements: []string{
			".product-gallery img",
			".gallery img",
			".product-images img",
			"img",
		},
		ImageAttributes: []string{
			"src",
			"data-src",
			"data-lazy-src",
			"data-original",
			"data-lazy",
		},
		DecorativePatterns: []string{
			"logo",
			"icon",
			"placeholder",
			"sprite",
			"spinner",
		},
		DetailTitle: []string{
			"h1.product-title",
			".product-detail h1",
			"h1",
			"meta[property='og:title']",
			"title",
		},
		DetailDescription: []string{
			".product-description",
			"#description",
			".description",
			"[itemprop='description']",
			"meta[property='og:description']",
			"meta[name='description']",
		},
		DetailPrice: []string{
			".product-price",
			".product-detail .price",
			"[itemprop='price']",
			".price",
			"meta[property='product:price:amount']",
		},
		DetailBrand: []string{
			".brand",
			"[itemprop='brand']",
			".manufacturer",
		},
		MaxImages: DefaultMaxImages,
	}
}

// Merge returns s with every non-empty field of override applied on top.
func (s Strategy) Merge(override Strategy) Strategy {
	out := s
	pick := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = append([]string(nil), src...)
		}
	}
	pick(&out.CategoryContainers, override.CategoryContainers)
	pick(&out.ListingContainers, override.ListingContainers)
	pick(&out.ListingTitle, override.ListingTitle)
	pick(&out.ListingPrice, override.ListingPrice)
	pick(&out.ImageElements, override.ImageElements)
	pick(&out.ImageAttributes, override.ImageAttributes)
	pick(&out.DecorativePatterns, override.DecorativePatterns)
	pick(&out.DetailTitle, override.DetailTitle)
	pick(&out.DetailDescription, override.DetailDescription)
	pick(&out.DetailPrice, override.DetailPrice)
	pick(&out.DetailBrand, override.DetailBrand)
	if override.MaxImages > 0 {
		out.MaxImages = override.MaxImages
	}
	return out
}
