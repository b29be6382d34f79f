// Package session logs in to a supplier site and carries the resulting
// credential for the duration of one job.
package session

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"supplier_ingest/config"
	"supplier_ingest/models"
)

// AuthenticationError is returned when the supplier rejects the login or the
// login endpoint cannot be reached.
type AuthenticationError struct {
	BaseURL    string
	StatusCode int
	Reason     string
	Err        error
}

func (e *AuthenticationError) Error() string {
	msg := fmt.Sprintf("authenticate %s: %s", e.BaseURL, e.Reason)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Session is the credential captured at login. It is owned by one job and
// never renewed.
type Session struct {
	BaseURL   *url.URL
	Cookies   []*http.Cookie
	Token     string
	CreatedAt time.Time
}

// AppliesTo reports whether the credential should be sent to target. Only the
// supplier host and its subdomains receive it.
func (s *Session) AppliesTo(target *url.URL) bool {
	if s == nil || s.BaseURL == nil || target == nil {
		return false
	}
	base := strings.TrimPrefix(strings.ToLower(s.BaseURL.Hostname()), "www.")
	host := strings.ToLower(target.Hostname())
	return host == base || strings.HasSuffix(host, "."+base)
}

// Install loads the captured cookies into jar under the supplier URL.
// Cookies set later by the supplier overwrite them in place.
func (s *Session) Install(jar http.CookieJar) {
	if s == nil || jar == nil || s.BaseURL == nil || len(s.Cookies) == 0 {
		return
	}
	jar.SetCookies(s.BaseURL, s.Cookies)
}

// Apply attaches the bearer token to req. Cookies travel through the jar.
func (s *Session) Apply(req *resty.Request) {
	if s == nil || s.Token == "" {
		return
	}
	req.SetAuthToken(s.Token)
}

// Manager performs supplier logins. It keeps no per-job state: each call to
// Authenticate returns an independent Session.
type Manager struct {
	login     config.LoginConfig
	newClient func() *resty.Client
}

func NewManager(login config.LoginConfig, newClient func() *resty.Client) *Manager {
	return &Manager{login: login, newClient: newClient}
}

// Authenticate posts the credentials to the supplier login form.
func (m *Manager) Authenticate(ctx context.Context, creds models.Credentials) (*Session, error) {
	base, err := url.Parse(creds.BaseURL)
	if err != nil || base.Host == "" {
		return nil, &AuthenticationError{BaseURL: creds.BaseURL, Reason: "invalid base url", Err: err}
	}
	if creds.Username == "" || creds.Password == "" {
		return nil, &AuthenticationError{BaseURL: creds.BaseURL, Reason: "missing username or password"}
	}

	client := m.newClient()
	loginURL := base.ResolveReference(&url.URL{Path: m.login.Path}).String()

	form := map[string]string{
		m.login.UsernameField: creds.Username,
		m.login.PasswordField: creds.Password,
	}
	for k, v := range m.login.ExtraFields {
		form[k] = v
	}

	if m.login.CSRFField != "" {
		token, err := m.csrfToken(ctx, client, loginURL)
		if err != nil {
			return nil, &AuthenticationError{BaseURL: creds.BaseURL, Reason: "read login form", Err: err}
		}
		form[m.login.CSRFField] = token
	}

	res, err := client.R().
		SetContext(ctx).
		SetFormData(form).
		Post(loginURL)
	if err != nil {
		return nil, &AuthenticationError{BaseURL: creds.BaseURL, Reason: "login request failed", Err: err}
	}
	if !res.IsSuccess() {
		return nil, &AuthenticationError{BaseURL: creds.BaseURL, StatusCode: res.StatusCode(), Reason: "login rejected"}
	}

	if m.login.FailureSelector != "" {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
		if err == nil && doc.Find(m.login.FailureSelector).Length() > 0 {
			return nil, &AuthenticationError{BaseURL: creds.BaseURL, StatusCode: res.StatusCode(), Reason: "login page reported a failure"}
		}
	}

	sess := &Session{
		BaseURL:   base,
		Cookies:   captureCookies(client, base, res),
		CreatedAt: time.Now(),
	}
	if m.login.TokenHeader != "" {
		sess.Token = strings.TrimSpace(strings.TrimPrefix(res.Header().Get(m.login.TokenHeader), "Bearer "))
	}
	if len(sess.Cookies) == 0 && sess.Token == "" {
		return nil, &AuthenticationError{BaseURL: creds.BaseURL, StatusCode: res.StatusCode(), Reason: "no session credential in response"}
	}

	return sess, nil
}

func (m *Manager) csrfToken(ctx context.Context, client *resty.Client, loginURL string) (string, error) {
	res, err := client.R().SetContext(ctx).Get(loginURL)
	if err != nil {
		return "", err
	}
	if !res.IsSuccess() {
		return "", fmt.Errorf("login page status %d", res.StatusCode())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return "", err
	}
	token := doc.Find(fmt.Sprintf("input[name=%q]", m.login.CSRFField)).AttrOr("value", "")
	if token == "" {
		return "", fmt.Errorf("could not find %s in login form", m.login.CSRFField)
	}
	return token, nil
}

// captureCookies merges the jar (cookies set during redirects) with the
// cookies of the final response, keyed by name.
func captureCookies(client *resty.Client, base *url.URL, res *resty.Response) []*http.Cookie {
	byName := make(map[string]*http.Cookie)
	var order []string
	add := func(c *http.Cookie) {
		if c == nil || c.Name == "" || c.Value == "" {
			return
		}
		if _, ok := byName[c.Name]; !ok {
			order = append(order, c.Name)
		}
		byName[c.Name] = &http.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path}
	}

	if jar := client.GetClient().Jar; jar != nil {
		for _, c := range jar.Cookies(base) {
			add(c)
		}
	}
	for _, c := range res.Cookies() {
		add(c)
	}

	cookies := make([]*http.Cookie, 0, len(order))
	for _, name := range order {
		cookies = append(cookies, byName[name])
	}
	return cookies
}
