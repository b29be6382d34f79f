package httputil

import (
	"net/http"
	"net/http/cookiejar"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

// Options configures a supplier-facing HTTP client
type Options struct {
	UserAgent        string
	Timeout          time.Duration
	ProxyURL         string // optional HTTP proxy
	CloudflareBypass bool
	Transport        http.RoundTripper // overrides the default transport (tests)
}

// NewClient builds a resty client with a fresh cookie jar. Every job gets its
// own client so cookies never leak between jobs.
func NewClient(opts Options) *resty.Client {
	client := resty.New()

	jar, _ := cookiejar.New(nil)
	client.SetCookieJar(jar)

	if opts.Transport != nil {
		client.SetTransport(opts.Transport)
	}
	if opts.ProxyURL != "" {
		client.SetProxy(opts.ProxyURL)
	}
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}

	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}
	client.SetHeader("Accept-Language", "en-US,en;q=0.9")

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client.SetTimeout(timeout)

	return client
}
