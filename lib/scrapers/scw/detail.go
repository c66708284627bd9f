package scw

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DetailView is the rendered detail page of one case together with the
// conversation id (cid) the server assigned to it. Every postback against
// the detail view must carry the cid in the query string.
type DetailView struct {
	Cid  string
	Html string
}

// OpenDetail simulates the click on a list row. The portal answers with a
// redirect chain that lands on the detail page; the cid only exists in
// the final URL's query string, so the chain is followed by hand.
func (c *Client) OpenDetail(ctx context.Context, s *Session, row CaseRow) (*DetailView, error) {
	ctx, span := tracer.Start(ctx, "OpenDetail")
	defer span.End()
	span.SetAttributes(
		attribute.String("case/number", row.Number),
		attribute.Int("case/row", row.Index),
	)

	control := row.ClickControl
	if control == "" {
		control = fmt.Sprintf(listRowControlFmt, row.Index)
	}

	form := url.Values{}
	form.Set(listFormId, listFormId)
	form.Set(viewStateField, s.ViewState)
	form.Set(control, control)

	listUrl := c.BaseUrl.JoinPath(listPath).String()
	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetHeader("Cookie", s.cookieHeader()).
		SetHeader("Accept", acceptDoc).
		SetHeader("Referer", listUrl).
		SetBody(form.Encode()).
		Post(listPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "row click postback failed")
		return nil, err
	}
	s.absorb(res)

	res, finalUrl, err := c.followChain(ctx, s, res, listUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to follow detail redirects")
		return nil, err
	}

	cid, err := cidFromUrl(finalUrl)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: case %s", ErrNavigationFailed, row.Number)
	}
	span.SetAttributes(attribute.String("case/cid", cid))

	html := string(res.Body())
	doc, parseErr := documentFrom(html)
	if parseErr == nil {
		if state, err := viewStateFromDoc(doc); err == nil {
			s.ViewState = state
		}
	}

	return &DetailView{Cid: cid, Html: html}, nil
}

func cidFromUrl(rawUrl string) (string, error) {
	parsed, err := url.Parse(rawUrl)
	if err != nil {
		return "", err
	}
	cid := parsed.Query().Get("cid")
	if cid == "" || !strings.Contains(parsed.Path, "expediente") {
		return "", ErrNavigationFailed
	}
	return cid, nil
}
