// Package scw drives the court system's case-consultation portal, a
// server-rendered JSF/RichFaces application behind an SSO login. The
// portal keeps the whole UI conversation in a hidden ViewState token, so
// every stateful request has to echo the token from the page before it.
package scw

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"expedientes-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/scw")

var (
	ErrLoginFailed      = errors.New("portal rejected the credentials")
	ErrNavigationFailed = errors.New("detail view did not yield a correlation id")
	ErrNoViewState      = errors.New("page is missing the ViewState token")
)

const (
	listPath   = "/scw/consultaListaRelacionados.seam"
	detailPath = "/scw/expediente.seam"

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
	acceptAll = "*/*"
	acceptDoc = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

// Session is the authenticated context one worker owns. It is not safe
// for concurrent use: the ViewState must be refreshed from each response
// before the next stateful request is issued.
type Session struct {
	Cookies   map[string]string
	ViewState string
}

func (s *Session) cookieHeader() string {
	names := make([]string, 0, len(s.Cookies))
	for name := range s.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(name)
		b.WriteString("=")
		b.WriteString(s.Cookies[name])
	}
	return b.String()
}

// absorb merges every Set-Cookie from a response hop into the session.
// Different hops set cookies on different sub-domains (portal vs sso) and
// losing any one of them breaks the session, so this is called on every
// hop of every manually followed chain.
func (s *Session) absorb(res *resty.Response) {
	if res == nil || res.RawResponse == nil {
		return
	}
	for _, c := range res.RawResponse.Cookies() {
		if c.Name != "" && c.Value != "" {
			s.Cookies[c.Name] = c.Value
		}
	}
}

type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client
	// hostname of the identity provider, used to recognize that an
	// unauthenticated request got bounced to the login page
	SsoHost string
}

type ClientOptions struct {
	BaseUrl string
	SsoHost string
	Timeout time.Duration
}

func NewClient(opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Second * 45
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	client.SetHeader("user-agent", userAgent)
	client.SetTimeout(opts.Timeout)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	// redirects are always followed by hand so Set-Cookie headers from
	// every hop can be folded into the session
	client.GetClient().CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	telemetry.InstrumentResty(client, "scrapers/scw/http")

	return &Client{
		BaseUrl: baseUrl,
		Http:    client,
		SsoHost: opts.SsoHost,
	}, nil
}

// followChain walks a redirect chain hop by hop starting from res,
// absorbing cookies at every hop. Servers behind the portal's proxy
// occasionally emit http:// Location targets, those are upgraded before
// following. Returns the terminal response and the url it came from.
func (c *Client) followChain(ctx context.Context, s *Session, res *resty.Response, fromUrl string) (*resty.Response, string, error) {
	for hops := 0; hops < 15; hops++ {
		location := res.Header().Get("Location")
		if location == "" || res.StatusCode() < 300 || res.StatusCode() >= 400 {
			return res, fromUrl, nil
		}

		next, err := resolveLocation(fromUrl, location)
		if err != nil {
			return nil, "", err
		}

		res, err = c.Http.R().
			SetContext(ctx).
			SetHeader("Cookie", s.cookieHeader()).
			SetHeader("Accept", acceptDoc).
			Get(next)
		if err != nil {
			return nil, "", err
		}
		s.absorb(res)
		fromUrl = next
	}
	return nil, "", fmt.Errorf("redirect chain exceeded 15 hops from %s", fromUrl)
}

func resolveLocation(fromUrl, location string) (string, error) {
	base, err := url.Parse(fromUrl)
	if err != nil {
		return "", err
	}
	target, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	resolved := base.ResolveReference(target)
	// the portal's proxy occasionally emits plain-http Location targets;
	// following one would drop the session on the floor
	if base.Scheme == "https" && resolved.Scheme == "http" {
		resolved.Scheme = "https"
	}
	return resolved.String(), nil
}

func isLoginPage(html, finalUrl, ssoHost string) bool {
	return strings.Contains(html, "kc-form-login") ||
		strings.Contains(html, "login-actions") ||
		strings.Contains(html, `id="username"`) ||
		(ssoHost != "" && strings.Contains(finalUrl, ssoHost))
}

var invalidCredentialMarkers = []string{
	"Invalid username or password",
	"Usuario o contraseña",
	"credenciales inválidas",
}

const authenticatedMarker = "Lista de Expedientes"

// Login performs the SSO handshake and returns a fresh Session. The
// protected list page is requested first; when the server bounces to the
// identity provider's form, its hidden fields are submitted verbatim
// together with the credentials, and both redirect chains are folded
// into the session cookie by cookie.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	s := &Session{Cookies: map[string]string{}}

	entry := c.BaseUrl.JoinPath(listPath).String()
	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("Accept", acceptDoc).
		Get(entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to reach protected entry point")
		return nil, err
	}
	s.absorb(res)

	res, lastUrl, err := c.followChain(ctx, s, res, entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to follow pre-login redirects")
		return nil, err
	}

	html := string(res.Body())
	if isLoginPage(html, lastUrl, c.SsoHost) {
		html, lastUrl, err = c.submitLoginForm(ctx, s, html, lastUrl, username, password)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "login form submission failed")
			return nil, err
		}
	}

	for _, marker := range invalidCredentialMarkers {
		if strings.Contains(html, marker) {
			span.SetStatus(codes.Error, ErrLoginFailed.Error())
			return nil, ErrLoginFailed
		}
	}
	if isLoginPage(html, lastUrl, c.SsoHost) && !strings.Contains(html, authenticatedMarker) {
		span.SetStatus(codes.Error, ErrLoginFailed.Error())
		return nil, ErrLoginFailed
	}
	if !strings.Contains(html, authenticatedMarker) &&
		!strings.Contains(html, username) &&
		!strings.Contains(html, "Cerrar sesión") {
		span.SetStatus(codes.Error, ErrLoginFailed.Error())
		return nil, fmt.Errorf("%w: unrecognized post-login page", ErrLoginFailed)
	}

	// the landing page is the list page; priming the token here lets the
	// first postback of the session go out without another GET
	if doc, err := documentFrom(html); err == nil {
		if state, err := viewStateFromDoc(doc); err == nil {
			s.ViewState = state
		}
	}

	return s, nil
}

func (c *Client) submitLoginForm(ctx context.Context, s *Session, loginHtml, pageUrl, username, password string) (html, lastUrl string, err error) {
	ctx, span := tracer.Start(ctx, "submitLoginForm")
	defer span.End()

	doc, err := goquery.NewDocumentFromReader(bytes.NewBufferString(loginHtml))
	if err != nil {
		return "", "", err
	}

	form := doc.Find("#kc-form-login")
	if len(form.Nodes) == 0 {
		form = doc.Find(`form[action*="login-actions"]`).First()
	}
	if len(form.Nodes) == 0 {
		form = doc.Find("form").First()
	}

	action := form.AttrOr("action", "")
	if action == "" {
		action = pageUrl
	} else if !strings.HasPrefix(action, "http") {
		action, err = resolveLocation(pageUrl, action)
		if err != nil {
			return "", "", err
		}
	}

	// the identity provider hides one-shot state in the form, every
	// hidden field is echoed back untouched
	fields := url.Values{}
	form.Find(`input[type="hidden"]`).Each(func(_ int, input *goquery.Selection) {
		name := input.AttrOr("name", "")
		if name != "" {
			fields.Set(name, input.AttrOr("value", ""))
		}
	})
	fields.Set("username", username)
	fields.Set("password", password)

	actionUrl, err := url.Parse(action)
	if err != nil {
		return "", "", err
	}

	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetHeader("Cookie", s.cookieHeader()).
		SetHeader("Accept", acceptDoc).
		SetHeader("Origin", actionUrl.Scheme+"://"+actionUrl.Host).
		SetHeader("Referer", pageUrl).
		SetBody(fields.Encode()).
		Post(action)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login POST failed")
		return "", "", err
	}
	s.absorb(res)

	res, lastUrl, err = c.followChain(ctx, s, res, action)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to follow post-login redirects")
		return "", "", err
	}
	return string(res.Body()), lastUrl, nil
}
