package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"supplier_ingest/httputil"
	"supplier_ingest/metrics"
	"supplier_ingest/retry"
	"supplier_ingest/session"
)

var fastRetry = retry.Policy{MaxRetries: 2, Backoff: time.Millisecond, BackoffMax: 2 * time.Millisecond}

func newFetcher(sess *session.Session, opts Options) (*Fetcher, *httpmock.MockTransport) {
	transport := httpmock.NewMockTransport()
	client := httputil.NewClient(httputil.Options{UserAgent: "test-agent", Transport: transport})
	return New(client, sess, opts), transport
}

func testSession() *session.Session {
	base, _ := url.Parse("https://shop.example.com")
	return &session.Session{
		BaseURL: base,
		Cookies: []*http.Cookie{{Name: "sid", Value: "abc"}},
	}
}

func TestFetchAttachesSession(t *testing.T) {
	f, transport := newFetcher(testSession(), Options{RequireAuth: true})

	transport.RegisterResponder("GET", "https://shop.example.com/c/shoes",
		func(req *http.Request) (*http.Response, error) {
			c, err := req.Cookie("sid")
			if err != nil || c.Value != "abc" {
				return httpmock.NewStringResponse(http.StatusUnauthorized, ""), nil
			}
			if req.Header.Get("User-Agent") != "test-agent" {
				return httpmock.NewStringResponse(http.StatusBadRequest, ""), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, "<html>shoes</html>"), nil
		})

	body, err := f.Fetch(context.Background(), "https://shop.example.com/c/shoes")
	require.NoError(t, err)
	assert.Equal(t, "<html>shoes</html>", body)
}

func TestFetchFollowsRotatedSessionCookie(t *testing.T) {
	f, transport := newFetcher(testSession(), Options{RequireAuth: true})

	transport.RegisterResponder("GET", "https://shop.example.com/a",
		func(req *http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(http.StatusOK, "a")
			resp.Header.Add("Set-Cookie", "sid=rotated; Path=/")
			return resp, nil
		})
	var cookieHeader string
	transport.RegisterResponder("GET", "https://shop.example.com/b",
		func(req *http.Request) (*http.Response, error) {
			cookieHeader = req.Header.Get("Cookie")
			return httpmock.NewStringResponse(http.StatusOK, "b"), nil
		})

	_, err := f.Fetch(context.Background(), "https://shop.example.com/a")
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), "https://shop.example.com/b")
	require.NoError(t, err)

	assert.Equal(t, "sid=rotated", cookieHeader)
}

func TestFetchSendsBearerToken(t *testing.T) {
	sess := testSession()
	sess.Cookies = nil
	sess.Token = "tok-1"
	f, transport := newFetcher(sess, Options{})

	transport.RegisterResponder("GET", "https://shop.example.com/api",
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Authorization") != "Bearer tok-1" {
				return httpmock.NewStringResponse(http.StatusUnauthorized, ""), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
		})
	transport.RegisterResponder("GET", "https://cdn.other.net/a.jpg",
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Authorization") != "" {
				return httpmock.NewStringResponse(http.StatusBadRequest, "leaked"), nil
			}
			return httpmock.NewBytesResponse(http.StatusOK, []byte{0xff}), nil
		})

	_, err := f.Fetch(context.Background(), "https://shop.example.com/api")
	require.NoError(t, err)
	_, _, err = f.FetchBytes(context.Background(), "https://cdn.other.net/a.jpg", 0)
	require.NoError(t, err)
}

func TestFetchDoesNotLeakSessionToOtherHosts(t *testing.T) {
	f, transport := newFetcher(testSession(), Options{})

	transport.RegisterResponder("GET", "https://images.thirdparty.net/a.jpg",
		func(req *http.Request) (*http.Response, error) {
			if _, err := req.Cookie("sid"); err == nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, "leaked"), nil
			}
			return httpmock.NewBytesResponse(http.StatusOK, []byte{0xff, 0xd8}), nil
		})

	data, _, err := f.FetchBytes(context.Background(), "https://images.thirdparty.net/a.jpg", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, data)
}

func TestFetchRequiresSession(t *testing.T) {
	f, transport := newFetcher(nil, Options{RequireAuth: true})

	_, err := f.Fetch(context.Background(), "https://shop.example.com/")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Zero(t, transport.GetTotalCallCount())
}

func TestFetchNotFoundIsPermanent(t *testing.T) {
	m := metrics.New()
	f, transport := newFetcher(testSession(), Options{Retry: fastRetry, Metrics: m})
	transport.RegisterResponder("GET", "https://shop.example.com/gone",
		httpmock.NewStringResponder(http.StatusNotFound, "missing"))

	_, err := f.Fetch(context.Background(), "https://shop.example.com/gone")

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestFetchRetriesServerErrors(t *testing.T) {
	f, transport := newFetcher(testSession(), Options{Retry: fastRetry})

	calls := 0
	transport.RegisterResponder("GET", "https://shop.example.com/flaky",
		func(*http.Request) (*http.Response, error) {
			calls++
			if calls < 3 {
				return httpmock.NewStringResponse(http.StatusServiceUnavailable, ""), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
		})

	body, err := f.Fetch(context.Background(), "https://shop.example.com/flaky")
	require.NoError(t, err)
	assert.Equal(t, "ok", body)
	assert.Equal(t, 3, calls)
}

func TestFetchGivesUpAfterRetryBudget(t *testing.T) {
	f, transport := newFetcher(testSession(), Options{Retry: fastRetry})
	transport.RegisterResponder("GET", "https://shop.example.com/busy",
		httpmock.NewStringResponder(http.StatusTooManyRequests, ""))

	_, err := f.Fetch(context.Background(), "https://shop.example.com/busy")

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusTooManyRequests, fe.StatusCode)
	assert.Equal(t, 3, transport.GetTotalCallCount())
}

func TestFetchTransportError(t *testing.T) {
	f, transport := newFetcher(testSession(), Options{})
	transport.RegisterResponder("GET", "https://shop.example.com/down",
		httpmock.NewErrorResponder(errors.New("dial tcp: connection refused")))

	_, err := f.Fetch(context.Background(), "https://shop.example.com/down")

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Zero(t, fe.StatusCode)
}

func TestFetchInvalidURL(t *testing.T) {
	f, _ := newFetcher(nil, Options{})
	_, err := f.Fetch(context.Background(), "ftp://shop.example.com/file")
	var fe *FetchError
	assert.True(t, errors.As(err, &fe))
}

func TestFetchThroughRelay(t *testing.T) {
	f, transport := newFetcher(testSession(), Options{RelayURL: "https://relay.example.org/fetch?url="})

	target := "https://shop.example.com/p/1?color=red"
	assert.Equal(t, "https://relay.example.org/fetch?url="+url.QueryEscape(target), f.RequestURL(target))

	transport.RegisterResponder("GET", "https://relay.example.org/fetch",
		func(req *http.Request) (*http.Response, error) {
			if req.URL.Query().Get("url") != target {
				return httpmock.NewStringResponse(http.StatusBadRequest, ""), nil
			}
			if c, err := req.Cookie("sid"); err != nil || c.Value != "abc" {
				return httpmock.NewStringResponse(http.StatusUnauthorized, ""), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, "relayed"), nil
		})

	body, err := f.Fetch(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, "relayed", body)
}

func TestFetchBytesContentType(t *testing.T) {
	f, transport := newFetcher(nil, Options{})
	resp := httpmock.NewBytesResponse(http.StatusOK, []byte("PNGDATA"))
	resp.Header.Set("Content-Type", "image/png")
	transport.RegisterResponder("GET", "https://shop.example.com/img.png", httpmock.ResponderFromResponse(resp))

	data, ct, err := f.FetchBytes(context.Background(), "https://shop.example.com/img.png", 0)
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))
	assert.Equal(t, "image/png", ct)
}

func TestFetchBytesStopsReadingPastLimit(t *testing.T) {
	f, transport := newFetcher(nil, Options{})
	transport.RegisterResponder("GET", "https://shop.example.com/huge.jpg",
		httpmock.NewBytesResponder(http.StatusOK, make([]byte, 4096)))

	data, _, err := f.FetchBytes(context.Background(), "https://shop.example.com/huge.jpg", 100)
	require.NoError(t, err)
	assert.Len(t, data, 101)

	data, _, err = f.FetchBytes(context.Background(), "https://shop.example.com/huge.jpg", 0)
	require.NoError(t, err)
	assert.Len(t, data, 4096)
}

func TestFetchBytesErrorStatus(t *testing.T) {
	f, transport := newFetcher(nil, Options{Retry: fastRetry})
	transport.RegisterResponder("GET", "https://shop.example.com/missing.jpg",
		httpmock.NewStringResponder(http.StatusNotFound, "nope"))

	_, _, err := f.FetchBytes(context.Background(), "https://shop.example.com/missing.jpg", 100)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}
