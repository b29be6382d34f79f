package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"supplier_ingest/config"
	"supplier_ingest/fetch"
	"supplier_ingest/httputil"
	"supplier_ingest/metrics"
	"supplier_ingest/models"
	"supplier_ingest/retry"
	"supplier_ingest/services"
	"supplier_ingest/session"
)

// RunRecorder stores the history of batch jobs
type RunRecorder interface {
	CreateRun(run *models.ScrapeRun) (int64, error)
	UpdateRun(run *models.ScrapeRun) error
	Log(runID *int64, level models.LogLevel, message, supplier string) error
	UpdateSupplierStats(supplier string) error
}

// Orchestrator holds the collaborators shared by every job of one supplier.
// Per-job state (session, fetcher) lives on Job.
type Orchestrator struct {
	cfg      *config.Config
	profile  *config.SupplierProfile
	runs     RunRecorder
	sessions *session.Manager

	media    *services.MediaService
	products *services.ProductService
	metrics  *metrics.Metrics

	transport http.RoundTripper
	paused    atomic.Bool
}

func NewOrchestrator(cfg *config.Config, profile *config.SupplierProfile, runs RunRecorder) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		profile: profile,
		runs:    runs,
	}
	o.sessions = session.NewManager(profile.Login, o.newClient)
	return o
}

// SetServices injects the persistence side of the pipeline
func (o *Orchestrator) SetServices(products *services.ProductService, media *services.MediaService) {
	o.products = products
	o.media = media
}

func (o *Orchestrator) SetMetrics(m *metrics.Metrics) {
	o.metrics = m
}

// SetTransport replaces the HTTP transport of every client built afterwards.
func (o *Orchestrator) SetTransport(rt http.RoundTripper) {
	o.transport = rt
}

func (o *Orchestrator) newClient() *resty.Client {
	return httputil.NewClient(httputil.Options{
		UserAgent:        o.profile.UserAgent,
		Timeout:          o.cfg.Scraper.Timeout,
		ProxyURL:         o.cfg.Proxy.URL,
		CloudflareBypass: o.profile.CloudflareBypass,
		Transport:        o.transport,
	})
}

// Authenticate logs in and returns a job bound to the new session.
func (o *Orchestrator) Authenticate(ctx context.Context, creds models.Credentials) (*Job, error) {
	if creds.BaseURL == "" {
		creds.BaseURL = o.profile.BaseURL
	}
	sess, err := o.sessions.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}
	log.Printf("[%s] authenticated as %s", o.profile.ID, creds.Username)
	return o.newJob(sess), nil
}

// NewJob returns a job without a session, for suppliers that do not require
// a login.
func (o *Orchestrator) NewJob() *Job {
	return o.newJob(nil)
}

func (o *Orchestrator) newJob(sess *session.Session) *Job {
	base, _ := url.Parse(o.profile.BaseURL)
	if sess != nil {
		base = sess.BaseURL
	}

	fetcher := fetch.New(o.newClient(), sess, fetch.Options{
		RelayURL:    o.cfg.Proxy.RelayURL,
		RequireAuth: o.profile.RequireAuth,
		Metrics:     o.metrics,
		Retry: retry.Policy{
			MaxRetries: o.cfg.Scraper.MaxRetries,
			Backoff:    o.cfg.Scraper.RetryBackoff,
			BackoffMax: o.cfg.Scraper.RetryBackoffMax,
			OnRetry:    retry.Logf("[" + o.profile.ID + "] fetch"),
		},
	})

	return &Job{
		o:       o,
		session: sess,
		fetcher: fetcher,
		baseURL: base,
	}
}

// RunSite performs one unattended site scrape with the configured
// credentials, multiplier and limit. Used by the scheduler.
func (o *Orchestrator) RunSite(ctx context.Context) error {
	if o.paused.Load() {
		log.Println("Scraper is paused, skipping run")
		return nil
	}

	job, err := o.StartJob(ctx)
	if err != nil {
		return err
	}

	result, err := job.ScrapeSite(ctx, SiteRequest{
		Multiplier:       o.cfg.Scraper.Multiplier,
		LimitPerCategory: o.cfg.Scraper.LimitPerCategory,
	})
	if err != nil {
		return err
	}
	log.Printf("[%s] site scrape: %d created, %d skipped, %d failed",
		o.profile.ID, len(result.Created), len(result.Skipped), len(result.Failed))
	return nil
}

// StartJob authenticates with the configured credentials when they are set
// or the supplier requires a login.
func (o *Orchestrator) StartJob(ctx context.Context) (*Job, error) {
	creds := models.Credentials{
		BaseURL:  o.profile.BaseURL,
		Username: o.cfg.Credentials.Username,
		Password: o.cfg.Credentials.Password,
	}
	if creds.Username == "" && !o.profile.RequireAuth {
		return o.NewJob(), nil
	}
	return o.Authenticate(ctx, creds)
}

func (o *Orchestrator) Pause() {
	o.paused.Store(true)
	log.Println("Scraper paused")
}

func (o *Orchestrator) Resume() {
	o.paused.Store(false)
	log.Println("Scraper resumed")
}

func (o *Orchestrator) IsPaused() bool {
	return o.paused.Load()
}

func (o *Orchestrator) Supplier() string {
	return o.profile.ID
}

// =============================================================================
// Run history
// =============================================================================

func (o *Orchestrator) startRun(scope models.RunScope, target string) *models.ScrapeRun {
	run := &models.ScrapeRun{
		Supplier:  o.profile.ID,
		Scope:     scope,
		Target:    target,
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
	}
	if o.runs == nil {
		return run
	}
	id, err := o.runs.CreateRun(run)
	if err != nil {
		log.Printf("Warning: failed to create run record: %v", err)
		return run
	}
	run.ID = id
	return run
}

func (o *Orchestrator) finishRun(run *models.ScrapeRun, result *models.BatchResult, err error) {
	now := time.Now()
	run.FinishedAt = &now
	if result != nil {
		run.Created = len(result.Created)
		run.Skipped = len(result.Skipped)
		run.Failed = len(result.Failed)
		run.Total = run.Created + run.Skipped + run.Failed
	}

	switch {
	case err == nil:
		run.Status = models.RunStatusCompleted
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		run.Status = models.RunStatusCancelled
		run.ErrorMessage = err.Error()
	default:
		run.Status = models.RunStatusFailed
		run.ErrorMessage = err.Error()
	}

	o.log(run, models.LogLevelInfo, fmt.Sprintf("Run %s: %d created, %d skipped, %d failed",
		run.Status, run.Created, run.Skipped, run.Failed))

	if o.runs == nil || run.ID == 0 {
		return
	}
	if err := o.runs.UpdateRun(run); err != nil {
		log.Printf("Warning: failed to update run %d: %v", run.ID, err)
	}
	if err := o.runs.UpdateSupplierStats(run.Supplier); err != nil {
		log.Printf("Warning: failed to update supplier stats: %v", err)
	}
}

func (o *Orchestrator) log(run *models.ScrapeRun, level models.LogLevel, message string) {
	log.Printf("[%s] %s: %s", level, o.profile.ID, message)
	if o.runs == nil {
		return
	}
	var runID *int64
	if run != nil && run.ID != 0 {
		runID = &run.ID
	}
	if err := o.runs.Log(runID, level, message, o.profile.ID); err != nil {
		log.Printf("Warning: failed to write run log: %v", err)
	}
}
