// Package mev drives the provincial judiciary's virtual filing desk, an
// ASP.NET WebForms application. Unlike the national portal there is no
// ViewState dance here: after login everything is JSON page-method calls
// whose payloads wrap HTML fragments in a double-encoded "d" envelope.
package mev

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"expedientes-backend/lib/browser"
	"expedientes-backend/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/mev")

var (
	ErrLoginFailed = errors.New("login did not produce a portal session")
	ErrBadPayload  = errors.New("page method returned an unusable payload")
)

const (
	loginPath  = "/loguin/Index.aspx"
	casesPath  = "/Bandeja/ListaCausas.aspx/ObtenerCausas"
	eventsPath = "/Bandeja/ListaCausas.aspx/ObtenerTramites"

	sessionCookie = "ASP.NET_SessionId"
)

type Session struct {
	Cookies map[string]string
}

func (s *Session) cookieHeader() string {
	header := ""
	for name, value := range s.Cookies {
		if header != "" {
			header += "; "
		}
		header += name + "=" + value
	}
	return header
}

type Client struct {
	BaseUrl  *url.URL
	Http     *resty.Client
	Renderer browser.LoginRenderer
}

type ClientOptions struct {
	BaseUrl string
	// the login form is rendered client-side, so authenticating requires
	// a rendering capability
	Renderer browser.LoginRenderer
	Timeout  time.Duration
}

func NewClient(opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Second * 30
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	client.SetTimeout(opts.Timeout)
	client.SetHeader("Content-Type", "application/json; charset=UTF-8")
	client.SetHeader("X-Requested-With", "XMLHttpRequest")

	telemetry.InstrumentResty(client, "scrapers/mev/http")

	return &Client{
		BaseUrl:  baseUrl,
		Http:     client,
		Renderer: opts.Renderer,
	}, nil
}

// Login delegates the credential dance to the rendering capability and
// keeps only the cookies the rendered session ended up with.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	cookies, err := c.Renderer.RenderLogin(ctx, browser.RenderLoginRequest{
		Url: c.BaseUrl.JoinPath(loginPath).String(),
		Fields: map[string]string{
			"#txtUsuario": username,
			"#txtClave":   password,
		},
		Submit: "#btnIngresar",
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "renderer login failed")
		return nil, err
	}

	s := &Session{Cookies: map[string]string{}}
	for _, cookie := range cookies {
		s.Cookies[cookie.Name] = cookie.Value
	}
	if _, ok := s.Cookies[sessionCookie]; !ok {
		span.SetStatus(codes.Error, ErrLoginFailed.Error())
		return nil, ErrLoginFailed
	}
	return s, nil
}

type envelope struct {
	D string `json:"d"`
}

// callPageMethod posts args to an ASP.NET page method and unwraps the
// double-encoded response: the "d" member is a string that itself holds
// the JSON document the server meant to send.
func (c *Client) callPageMethod(ctx context.Context, s *Session, path string, args, out any) error {
	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("Cookie", s.cookieHeader()).
		SetBody(args).
		Post(path)
	if err != nil {
		return err
	}
	if res.StatusCode() != 200 {
		return fmt.Errorf("%w: status %d from %s", ErrBadPayload, res.StatusCode(), path)
	}

	var wrapped envelope
	if err := json.Unmarshal(res.Body(), &wrapped); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if wrapped.D == "" {
		return fmt.Errorf("%w: empty d member", ErrBadPayload)
	}
	if err := json.Unmarshal([]byte(wrapped.D), out); err != nil {
		return fmt.Errorf("%w: inner document: %v", ErrBadPayload, err)
	}
	return nil
}
