package session

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"supplier_ingest/config"
	"supplier_ingest/httputil"
	"supplier_ingest/models"
)

func newManager(t *testing.T, login config.LoginConfig) (*Manager, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	factory := func() *resty.Client {
		return httputil.NewClient(httputil.Options{Transport: transport})
	}
	return NewManager(login, factory), transport
}

func defaultLogin() config.LoginConfig {
	return config.LoginConfig{
		Path:          "/account/login",
		UsernameField: "email",
		PasswordField: "pass",
	}
}

func creds() models.Credentials {
	return models.Credentials{BaseURL: "https://shop.example.com", Username: "buyer@example.com", Password: "secret"}
}

func TestAuthenticateCapturesCookie(t *testing.T) {
	m, transport := newManager(t, defaultLogin())

	transport.RegisterResponder("POST", "https://shop.example.com/account/login",
		func(req *http.Request) (*http.Response, error) {
			if err := req.ParseForm(); err != nil {
				return nil, err
			}
			if req.PostForm.Get("email") != "buyer@example.com" || req.PostForm.Get("pass") != "secret" {
				return httpmock.NewStringResponse(http.StatusUnauthorized, "bad form"), nil
			}
			resp := httpmock.NewStringResponse(http.StatusOK, "<html>welcome</html>")
			resp.Header.Add("Set-Cookie", "sid=abc123; Path=/")
			return resp, nil
		})

	sess, err := m.Authenticate(context.Background(), creds())
	require.NoError(t, err)
	require.Len(t, sess.Cookies, 1)
	assert.Equal(t, "sid", sess.Cookies[0].Name)
	assert.Equal(t, "abc123", sess.Cookies[0].Value)
	assert.Equal(t, "shop.example.com", sess.BaseURL.Host)
	assert.False(t, sess.CreatedAt.IsZero())
}

func TestAuthenticateRejected(t *testing.T) {
	m, transport := newManager(t, defaultLogin())
	transport.RegisterResponder("POST", "https://shop.example.com/account/login",
		httpmock.NewStringResponder(http.StatusForbidden, "nope"))

	sess, err := m.Authenticate(context.Background(), creds())
	assert.Nil(t, sess)

	var authErr *AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusForbidden, authErr.StatusCode)
}

func TestAuthenticateUnreachable(t *testing.T) {
	m, transport := newManager(t, defaultLogin())
	transport.RegisterResponder("POST", "https://shop.example.com/account/login",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := m.Authenticate(context.Background(), creds())
	var authErr *AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestAuthenticateFailureSelector(t *testing.T) {
	login := defaultLogin()
	login.FailureSelector = ".login-error"
	m, transport := newManager(t, login)

	resp := httpmock.NewStringResponse(http.StatusOK, `<div class="login-error">Invalid password</div>`)
	resp.Header.Add("Set-Cookie", "sid=guest; Path=/")
	transport.RegisterResponder("POST", "https://shop.example.com/account/login", httpmock.ResponderFromResponse(resp))

	_, err := m.Authenticate(context.Background(), creds())
	var authErr *AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Contains(t, authErr.Reason, "failure")
}

func TestAuthenticateNoCredentialInResponse(t *testing.T) {
	m, transport := newManager(t, defaultLogin())
	transport.RegisterResponder("POST", "https://shop.example.com/account/login",
		httpmock.NewStringResponder(http.StatusOK, "ok"))

	_, err := m.Authenticate(context.Background(), creds())
	var authErr *AuthenticationError
	assert.True(t, errors.As(err, &authErr))
}

func TestAuthenticateTokenHeader(t *testing.T) {
	login := defaultLogin()
	login.TokenHeader = "X-Auth-Token"
	m, transport := newManager(t, login)

	resp := httpmock.NewStringResponse(http.StatusOK, "{}")
	resp.Header.Set("X-Auth-Token", "Bearer tok-42")
	transport.RegisterResponder("POST", "https://shop.example.com/account/login", httpmock.ResponderFromResponse(resp))

	sess, err := m.Authenticate(context.Background(), creds())
	require.NoError(t, err)
	assert.Equal(t, "tok-42", sess.Token)
	assert.Empty(t, sess.Cookies)
}

func TestAuthenticateReadsCSRFToken(t *testing.T) {
	login := defaultLogin()
	login.CSRFField = "logintoken"
	m, transport := newManager(t, login)

	transport.RegisterResponder("GET", "https://shop.example.com/account/login",
		httpmock.NewStringResponder(http.StatusOK, `<form><input type="hidden" name="logintoken" value="csrf-1"></form>`))
	transport.RegisterResponder("POST", "https://shop.example.com/account/login",
		func(req *http.Request) (*http.Response, error) {
			_ = req.ParseForm()
			if req.PostForm.Get("logintoken") != "csrf-1" {
				return httpmock.NewStringResponse(http.StatusBadRequest, "missing token"), nil
			}
			resp := httpmock.NewStringResponse(http.StatusOK, "ok")
			resp.Header.Add("Set-Cookie", "sid=xyz; Path=/")
			return resp, nil
		})

	sess, err := m.Authenticate(context.Background(), creds())
	require.NoError(t, err)
	assert.Equal(t, "xyz", sess.Cookies[0].Value)
}

func TestAuthenticateMissingCredentials(t *testing.T) {
	m, transport := newManager(t, defaultLogin())

	c := creds()
	c.Password = ""
	_, err := m.Authenticate(context.Background(), c)
	var authErr *AuthenticationError
	assert.True(t, errors.As(err, &authErr))
	assert.Zero(t, transport.GetTotalCallCount())
}

func TestSessionsAreIndependent(t *testing.T) {
	m, transport := newManager(t, defaultLogin())
	n := 0
	transport.RegisterResponder("POST", "https://shop.example.com/account/login",
		func(req *http.Request) (*http.Response, error) {
			n++
			resp := httpmock.NewStringResponse(http.StatusOK, "ok")
			if n == 1 {
				resp.Header.Add("Set-Cookie", "sid=first; Path=/")
			} else {
				resp.Header.Add("Set-Cookie", "sid=second; Path=/")
			}
			return resp, nil
		})

	a, err := m.Authenticate(context.Background(), creds())
	require.NoError(t, err)
	b, err := m.Authenticate(context.Background(), creds())
	require.NoError(t, err)

	assert.Equal(t, "first", a.Cookies[0].Value)
	assert.Equal(t, "second", b.Cookies[0].Value)
}

func TestAppliesTo(t *testing.T) {
	base, _ := url.Parse("https://www.shop.example.com")
	s := &Session{BaseURL: base}

	for raw, want := range map[string]bool{
		"https://www.shop.example.com/p/1":  true,
		"https://shop.example.com/p/1":      true,
		"https://cdn.shop.example.com/a.jpg": true,
		"https://tracker.example.net/x":     false,
		"https://evilshop.example.com/x":    false,
	} {
		u, _ := url.Parse(raw)
		assert.Equal(t, want, s.AppliesTo(u), raw)
	}

	var nilSession *Session
	u, _ := url.Parse("https://shop.example.com")
	assert.False(t, nilSession.AppliesTo(u))
}
