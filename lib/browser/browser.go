// Package browser exposes the headless-rendering capability some portal
// logins depend on. The engine never embeds a browser, it only asks a
// renderer to load a login page, fill the credential fields, submit, and
// hand back the cookies the rendered session ended up with.
package browser

import (
	"context"
	"fmt"
	"time"

	"expedientes-backend/lib/telemetry"

	"github.com/go-resty/resty/v2"
)

type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
}

type RenderLoginRequest struct {
	// page carrying the login form
	Url string `json:"url"`
	// input selector -> value to type
	Fields map[string]string `json:"fields"`
	// selector of the element to click to submit
	Submit string `json:"submit"`
	// how long to wait for navigation to settle after submitting
	SettleMs int `json:"settle_ms"`
}

type LoginRenderer interface {
	RenderLogin(ctx context.Context, req RenderLoginRequest) ([]Cookie, error)
}

// Remote drives a rendering sidecar over HTTP. The sidecar owns the actual
// browser process; this process only ships it instructions.
type Remote struct {
	http *resty.Client
}

func NewRemote(baseUrl string) Remote {
	client := resty.New()
	client.SetBaseURL(baseUrl)
	client.SetTimeout(time.Second * 90)

	telemetry.InstrumentResty(client, "browser/remote")

	return Remote{http: client}
}

type renderLoginResponse struct {
	Cookies []Cookie `json:"cookies"`
	Error   string   `json:"error"`
}

func (r Remote) RenderLogin(ctx context.Context, req RenderLoginRequest) ([]Cookie, error) {
	if req.SettleMs == 0 {
		req.SettleMs = 3000
	}

	var out renderLoginResponse
	res, err := r.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/render/login")
	if err != nil {
		return nil, err
	}
	if res.StatusCode() != 200 {
		return nil, fmt.Errorf("renderer returned status %d", res.StatusCode())
	}
	if out.Error != "" {
		return nil, fmt.Errorf("renderer: %s", out.Error)
	}
	return out.Cookies, nil
}
