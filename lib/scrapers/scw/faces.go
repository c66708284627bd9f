package scw

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

func documentFrom(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

const viewStateField = "javax.faces.ViewState"

var (
	cdataRegex = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)
	// partial responses ship the rotated token either as an <update>
	// block or as a re-rendered hidden input, depending on the component
	ajaxViewStateUpdateRegex = regexp.MustCompile(`(?s)<update id="[^"]*javax\.faces\.ViewState[^"]*">\s*<!\[CDATA\[(.*?)\]\]>`)
	ajaxViewStateInputRegex  = regexp.MustCompile(`javax\.faces\.ViewState[^>]*?value="([^"]+)"`)
)

func viewStateFromDoc(doc *goquery.Document) (string, error) {
	state, ok := doc.Find(`input[name="javax.faces.ViewState"]`).First().Attr("value")
	if !ok || state == "" {
		return "", ErrNoViewState
	}
	return state, nil
}

// viewStateFromAjax pulls the refreshed token out of a partial-ajax
// response. The server rotates the token on every postback; a response
// without one means the next postback would be replayed against a stale
// conversation, so the old token is kept only as a last resort by callers.
func viewStateFromAjax(body string) string {
	if match := ajaxViewStateUpdateRegex.FindStringSubmatch(body); match != nil {
		return match[1]
	}
	if match := ajaxViewStateInputRegex.FindStringSubmatch(body); match != nil {
		return match[1]
	}
	return ""
}

// joinCdata concatenates every CDATA block of a partial response. The
// rendered table fragment arrives split across update sections and is
// only parseable once stitched back together.
func joinCdata(body string) string {
	var joined string
	for _, match := range cdataRegex.FindAllStringSubmatch(body, -1) {
		joined += match[1]
	}
	return joined
}

// partialPostback issues a click-style RichFaces ajax postback. source
// is the component the UI pretends was clicked; extra carries any
// per-call parameters such as positional row controls or hidden tab
// state. The parameter map replays what the browser sends verbatim, the
// server silently re-renders the current view when any of it is off.
func (c *Client) partialPostback(ctx context.Context, s *Session, path, formId, source string, extra url.Values) (*resty.Response, error) {
	body := url.Values{}
	body.Set(formId, formId)
	body.Set(viewStateField, s.ViewState)
	body.Set("javax.faces.source", source)
	body.Set("javax.faces.partial.event", "click")
	body.Set("javax.faces.partial.execute", source+" @component")
	body.Set("javax.faces.partial.render", "@component")
	body.Set("org.richfaces.ajax.component", source)
	body.Set(source, source)
	body.Set("rfExt", "null")
	body.Set("AJAX:EVENTS_COUNT", "1")
	body.Set("javax.faces.partial.ajax", "true")
	for key, values := range extra {
		for _, value := range values {
			body.Set(key, value)
		}
	}

	return c.ajaxPost(ctx, s, path, body)
}

func (c *Client) ajaxPost(ctx context.Context, s *Session, path string, body url.Values) (*resty.Response, error) {
	return c.Http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8").
		SetHeader("Cookie", s.cookieHeader()).
		SetHeader("Accept", acceptAll).
		SetHeader("Faces-Request", "partial/ajax").
		SetHeader("Referer", strings.TrimSuffix(c.BaseUrl.String(), "/")+path).
		SetBody(body.Encode()).
		Post(path)
}
