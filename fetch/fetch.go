// Package fetch retrieves supplier pages and assets on behalf of one job.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"supplier_ingest/metrics"
	"supplier_ingest/retry"
	"supplier_ingest/session"
)

// ErrNotAuthenticated is returned when the supplier requires a login and the
// fetcher was built without a session.
var ErrNotAuthenticated = errors.New("fetch: supplier requires an authenticated session")

// FetchError reports a failed request. StatusCode is zero for transport
// failures.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the request could succeed.
func (e *FetchError) Transient() bool {
	if e.StatusCode == 0 {
		return !errors.Is(e.Err, context.Canceled) && !errors.Is(e.Err, context.DeadlineExceeded)
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

const pageAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

type Options struct {
	RelayURL    string
	RequireAuth bool
	Retry       retry.Policy
	Metrics     *metrics.Metrics
}

// Fetcher issues GET requests with the job's session attached. Session cookies
// live in the client's jar so a cookie the supplier rotates replaces the one
// captured at login.
type Fetcher struct {
	client      *resty.Client
	session     *session.Session
	relay       string
	requireAuth bool
	policy      retry.Policy
	metrics     *metrics.Metrics
}

func New(client *resty.Client, sess *session.Session, opts Options) *Fetcher {
	f := &Fetcher{
		client:      client,
		session:     sess,
		relay:       opts.RelayURL,
		requireAuth: opts.RequireAuth,
		policy:      opts.Retry,
		metrics:     opts.Metrics,
	}
	if sess != nil {
		if client.GetClient().Jar == nil {
			jar, _ := cookiejar.New(nil)
			client.SetCookieJar(jar)
		}
		sess.Install(client.GetClient().Jar)
	}
	onRetry := f.policy.OnRetry
	f.policy.OnRetry = func(err error, wait time.Duration) {
		f.metrics.IncRetries()
		if onRetry != nil {
			onRetry(err, wait)
			return
		}
		log.Printf("[fetch] retrying in %s: %v", wait.Round(time.Millisecond), err)
	}
	return f
}

// Fetch returns the markup of a page.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	res, err := f.get(ctx, "page", rawURL, pageAccept, false)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

// FetchBytes returns the raw body of an asset and its declared content type.
// The body is streamed and at most limit+1 bytes are read, so callers can
// tell an oversized asset apart. A limit <= 0 reads everything.
func (f *Fetcher) FetchBytes(ctx context.Context, rawURL string, limit int64) ([]byte, string, error) {
	res, err := f.get(ctx, "asset", rawURL, "image/*,*/*;q=0.8", true)
	if err != nil {
		return nil, "", err
	}
	body := res.RawBody()
	defer body.Close()

	var r io.Reader = body
	if limit > 0 {
		r = io.LimitReader(body, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", &FetchError{URL: rawURL, Err: err}
	}
	return data, res.Header().Get("Content-Type"), nil
}

// RequestURL is the URL actually requested for target, wrapped by the relay
// when one is configured.
func (f *Fetcher) RequestURL(target string) string {
	if f.relay == "" {
		return target
	}
	return f.relay + url.QueryEscape(target)
}

func (f *Fetcher) get(ctx context.Context, kind, rawURL, accept string, stream bool) (*resty.Response, error) {
	if f.requireAuth && f.session == nil {
		return nil, ErrNotAuthenticated
	}

	target, err := url.Parse(rawURL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("invalid url")}
	}

	var res *resty.Response
	err = f.policy.Do(ctx, func() error {
		req := f.client.R().
			SetContext(ctx).
			SetHeader("Accept", accept).
			SetDoNotParseResponse(stream)
		if f.session.AppliesTo(target) {
			f.session.Apply(req)
			if f.relay != "" {
				// the jar only matches requests addressed to the supplier itself
				if jar := f.client.GetClient().Jar; jar != nil {
					req.SetCookies(jar.Cookies(target))
				}
			}
		}

		start := time.Now()
		r, err := req.Get(f.RequestURL(rawURL))
		f.metrics.ObserveDuration(time.Since(start))

		if err != nil {
			f.metrics.IncRequest(kind, "error")
			ferr := &FetchError{URL: rawURL, Err: err}
			if !ferr.Transient() {
				return retry.Permanent(ferr)
			}
			return ferr
		}
		if r.IsError() {
			if stream && r.RawBody() != nil {
				r.RawBody().Close()
			}
			f.metrics.IncRequest(kind, "status_"+statusClass(r.StatusCode()))
			ferr := &FetchError{URL: rawURL, StatusCode: r.StatusCode()}
			if !ferr.Transient() {
				return retry.Permanent(ferr)
			}
			return ferr
		}

		f.metrics.IncRequest(kind, "ok")
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code == http.StatusTooManyRequests:
		return "429"
	default:
		return "4xx"
	}
}
