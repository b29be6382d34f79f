package scraper

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"supplier_ingest/fetch"
	"supplier_ingest/models"
	"supplier_ingest/pricing"
	"supplier_ingest/services"
	"supplier_ingest/session"
)

// Job owns the session and fetcher of one batch job. A Job runs one call at
// a time; start a new Job for concurrent work.
type Job struct {
	o       *Orchestrator
	session *session.Session
	fetcher *fetch.Fetcher
	baseURL *url.URL
}

type CategoryRequest struct {
	URL        string
	Name       string
	Multiplier float64
	Limit      int // 0 means no limit
	OnProgress Observer
}

type SiteRequest struct {
	Multiplier       float64
	LimitPerCategory int
	OnProgress       Observer
}

// Session returns the job's session, nil for anonymous jobs.
func (j *Job) Session() *session.Session {
	return j.session
}

// ListCategories fetches the landing page and extracts its categories.
func (j *Job) ListCategories(ctx context.Context) ([]models.Category, error) {
	landing := j.baseURL.ResolveReference(&url.URL{Path: j.o.profile.LandingPath}).String()
	markup, err := j.fetcher.Fetch(ctx, landing)
	if err != nil {
		return nil, fmt.Errorf("discover categories: %w", err)
	}
	return j.o.profile.Selectors.Categories(markup, landing), nil
}

// ScrapeListing ingests a single listing. A skipped listing (no usable
// images, already ingested) returns nil without an error.
func (j *Job) ScrapeListing(ctx context.Context, listingURL, category string, multiplier float64) (*models.Product, error) {
	if err := pricing.ValidateMultiplier(multiplier); err != nil {
		return nil, err
	}

	run := j.o.startRun(models.ScopeListing, listingURL)
	t := newTracker(nil)
	t.grow(1)

	out := j.processListing(ctx, run, models.Listing{URL: listingURL}, category, multiplier, t)

	result := &models.BatchResult{}
	out.record(result)
	j.o.finishRun(run, result, out.err)

	if out.stage == models.StageFailed {
		return nil, out.err
	}
	return out.product, nil
}

// ScrapeCategory ingests the listings of one category page in order.
func (j *Job) ScrapeCategory(ctx context.Context, req CategoryRequest) (*models.BatchResult, error) {
	if err := pricing.ValidateMultiplier(req.Multiplier); err != nil {
		return nil, err
	}

	run := j.o.startRun(models.ScopeCategory, req.URL)
	t := newTracker(req.OnProgress)

	result, err := j.scrapeCategory(ctx, run, t, req)
	j.o.finishRun(run, result, err)
	if err == nil {
		t.emit(models.StageCompleted, "", "category complete")
	}
	return result, err
}

// ScrapeSite ingests every category of the landing page. A category whose
// listings cannot be discovered aborts the whole site and no result is
// returned; failures of single listings never do.
func (j *Job) ScrapeSite(ctx context.Context, req SiteRequest) (*models.BatchResult, error) {
	if err := pricing.ValidateMultiplier(req.Multiplier); err != nil {
		return nil, err
	}

	run := j.o.startRun(models.ScopeSite, j.baseURL.String())
	t := newTracker(req.OnProgress)

	result, err := j.scrapeSite(ctx, run, t, req)
	j.o.finishRun(run, result, err)
	if err == nil {
		t.emit(models.StageCompleted, "", "site complete")
	}
	return result, err
}

func (j *Job) scrapeSite(ctx context.Context, run *models.ScrapeRun, t *tracker, req SiteRequest) (*models.BatchResult, error) {
	t.emit(models.StageDiscovering, "", "discovering categories")
	categories, err := j.ListCategories(ctx)
	if err != nil {
		j.o.log(run, models.LogLevelError, err.Error())
		return nil, err
	}
	j.o.log(run, models.LogLevelInfo, fmt.Sprintf("Found %d categories", len(categories)))

	total := &models.BatchResult{}
	for i, c := range categories {
		if i > 0 {
			if err := sleep(ctx, j.o.cfg.Scraper.CategoryDelay); err != nil {
				return total, err
			}
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}

		res, err := j.scrapeCategory(ctx, run, t, CategoryRequest{
			URL:        c.URL,
			Name:       c.Name,
			Multiplier: req.Multiplier,
			Limit:      req.LimitPerCategory,
		})
		if err != nil {
			if ctx.Err() != nil {
				total.Merge(res)
				return total, ctx.Err()
			}
			return nil, err
		}
		total.Merge(res)
	}
	return total, nil
}

func (j *Job) scrapeCategory(ctx context.Context, run *models.ScrapeRun, t *tracker, req CategoryRequest) (*models.BatchResult, error) {
	name := req.Name
	if name == "" {
		name = req.URL
	}
	t.category = req.Name

	t.emit(models.StageDiscovering, "", "discovering listings in "+name)
	markup, err := j.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		err = fmt.Errorf("discover listings in %s: %w", name, err)
		j.o.log(run, models.LogLevelError, err.Error())
		return nil, err
	}

	listings := j.o.profile.Selectors.Listings(markup, req.URL)
	if req.Limit > 0 && len(listings) > req.Limit {
		listings = listings[:req.Limit]
	}
	t.grow(len(listings))
	j.o.log(run, models.LogLevelInfo, fmt.Sprintf("Category %s: %d listings", name, len(listings)))

	result := &models.BatchResult{}
	for i, l := range listings {
		if i > 0 {
			if err := sleep(ctx, j.o.cfg.Scraper.ListingDelay); err != nil {
				return result, err
			}
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		out := j.processListing(ctx, run, l, req.Name, req.Multiplier, t)
		if out.err != nil && ctx.Err() != nil {
			return result, ctx.Err()
		}
		out.record(result)
	}
	return result, nil
}

// outcome is the terminal state of one listing
type outcome struct {
	listing models.Listing
	stage   models.Stage
	product *models.Product
	reason  string
	err     error
}

func (out outcome) record(result *models.BatchResult) {
	switch out.stage {
	case models.StageDone:
		result.Created = append(result.Created, *out.product)
	case models.StageSkipped:
		result.Skipped = append(result.Skipped, models.ListingOutcome{Listing: out.listing, Reason: out.reason})
	case models.StageFailed:
		result.Failed = append(result.Failed, models.ListingOutcome{Listing: out.listing, Reason: out.reason})
	}
}

// processListing runs one listing through
// fetching -> extracting -> transferring -> persisting.
func (j *Job) processListing(ctx context.Context, run *models.ScrapeRun, listing models.Listing, category string, multiplier float64, t *tracker) outcome {
	title := listing.Title
	if title == "" {
		title = listing.URL
	}

	skip := func(reason string) outcome {
		j.o.log(run, models.LogLevelInfo, fmt.Sprintf("Skipped %s: %s", title, reason))
		j.o.metrics.IncListing(string(models.StageSkipped))
		t.finish(models.StageSkipped, listing.Title, reason)
		return outcome{listing: listing, stage: models.StageSkipped, reason: reason}
	}
	fail := func(err error) outcome {
		if ctx.Err() != nil {
			return outcome{listing: listing, stage: models.StageFailed, reason: err.Error(), err: err}
		}
		j.o.log(run, models.LogLevelError, fmt.Sprintf("Failed %s: %v", title, err))
		j.o.metrics.IncListing(string(models.StageFailed))
		t.finish(models.StageFailed, listing.Title, err.Error())
		return outcome{listing: listing, stage: models.StageFailed, reason: err.Error(), err: err}
	}

	if j.o.products.SkipsDuplicates() {
		dup, err := j.o.products.IsDuplicate(ctx, listing.URL)
		if err != nil {
			return fail(err)
		}
		if dup {
			return skip("already ingested")
		}
	}

	t.emit(models.StageFetching, listing.Title, listing.URL)
	markup, err := j.fetcher.Fetch(ctx, listing.URL)
	if err != nil {
		return fail(err)
	}

	t.emit(models.StageExtracting, listing.Title, "")
	detail := j.o.profile.Selectors.Detail(markup, listing.URL)
	if detail.Title == "" {
		detail.Title = listing.Title
	}
	if detail.Title != "" {
		title = detail.Title
	}
	if detail.RawPrice == "" {
		detail.RawPrice = listing.RawPrice
	}
	listing.Title = detail.Title
	if len(detail.Images) == 0 {
		return skip("no images")
	}

	price, err := pricing.ToPrice(detail.RawPrice, multiplier)
	if err != nil {
		return fail(err)
	}

	productID := uuid.New()
	t.emit(models.StageTransferring, listing.Title, fmt.Sprintf("%d images", len(detail.Images)))
	assets := j.o.media.TransferAll(ctx, j.fetcher, detail.Images, productID)
	if ctx.Err() != nil {
		j.o.media.Discard(context.WithoutCancel(ctx), assets)
		return fail(ctx.Err())
	}
	if len(assets) == 0 {
		return skip("no images transferred")
	}
	if len(assets) < len(detail.Images) {
		j.o.log(run, models.LogLevelWarn, fmt.Sprintf("%s: %d of %d images transferred", title, len(assets), len(detail.Images)))
	}

	t.emit(models.StagePersisting, listing.Title, "")
	product := &models.Product{
		ID:            productID,
		Title:         title,
		Description:   detail.Description,
		Price:         price,
		OriginalPrice: pricing.ParseAmount(detail.RawPrice),
		Category:      category,
		Images:        services.StorageURLs(assets),
		Condition:     j.o.profile.DefaultCondition,
		Brand:         detail.Brand,
		SourceURL:     listing.URL,
	}
	if _, err := j.o.products.Save(ctx, product); err != nil {
		j.o.media.Discard(context.WithoutCancel(ctx), assets)
		return fail(err)
	}

	j.o.log(run, models.LogLevelInfo, fmt.Sprintf("Created %s (%s) at %.2f", title, product.ID, product.Price))
	j.o.metrics.IncListing(string(models.StageDone))
	t.finish(models.StageDone, listing.Title, product.ID.String())
	return outcome{listing: listing, stage: models.StageDone, product: product}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
