package scw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"expedientes-backend/lib/htmlutil"
	"expedientes-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ErrNoEventsTable = errors.New("detail page has no recognizable docket table")

const (
	detailFormId = "expediente"

	// RichFaces tab panel holding the docket; activating it is a
	// postback followed by a mandatory full re-render
	eventsTabControl = "expediente:expedienteTab"
	eventsTabName    = "actuaciones"

	// hidden accordion and filter state the browser posts back with
	// every docket request
	accordionControl   = "expediente:j_idt99:j_idt105"
	accordionCollapsed = "expediente:j_idt99:j_idt100_collapsed"
	otherActionsField  = "expediente:checkBoxOtrasActuacionesId"

	eventsNextControl = "expediente:j_idt217:j_idt234"

	maxDescriptionRunes = 1000
	maxTypeRunes        = 200
)

// eventsTableSelectors is tried in order until one yields rows. The
// portal renders the docket table with different ids and classes across
// jurisdictions and portal versions; the last resort keys off the
// OFICINA column header, which every variant shares.
var eventsTableSelectors = []string{
	`table[id*="action-table"] tbody tr`,
	`table.rf-dt tbody tr`,
	`tbody[id*="action-table"] tr`,
	`div[id*="actuaciones"] table tbody tr`,
	`table[id*="actuacion"] tbody tr`,
	`table:has(th:contains("OFICINA")) tbody tr`,
}

type Event struct {
	Office string
	// Date is the normalized YYYY-MM-DD form and stays empty when the
	// cell text does not parse as a date; RawDate keeps the cell text
	// either way.
	Date        string
	RawDate     string
	Type        string
	Description string
	Folio       string
	DocumentUrl string
}

type CaseDetail struct {
	Number       string
	Jurisdiction string
	Office       string
	Status       string
	Caption      string
	Events       []Event
	PageCount    int
}

var detailNumberRegex = regexp.MustCompile(`[A-Z]{2,4}\s*\d+/\d{4}(?:/\d+)?`)

// ParseDetail extracts the case header and the visible docket rows from
// a rendered detail page.
func (c *Client) ParseDetail(html string) (*CaseDetail, error) {
	doc, err := documentFrom(html)
	if err != nil {
		return nil, err
	}

	detail := &CaseDetail{
		Jurisdiction: htmlutil.Text(doc.Find(`span[id*="detailCamera"]`).First()),
		Office:       htmlutil.Text(doc.Find(`span[id*="detailDependencia"]`).First()),
		Status:       htmlutil.Text(doc.Find(`span[id*="detailSituation"]`).First()),
		Caption:      htmlutil.Text(doc.Find(`span[id*="detailCover"]`).First()),
		PageCount:    parseEventsPageCount(doc, html),
	}
	detail.Number = detailNumberRegex.FindString(htmlutil.Text(doc.Find("body")))

	rows, matched := htmlutil.FirstMatch(doc, eventsTableSelectors...)
	if matched < 0 {
		return detail, ErrNoEventsTable
	}
	detail.Events = c.parseEventRows(rows)
	return detail, nil
}

// parseEventRows turns docket table rows into events. Cells are located
// by id substring first and by column position as a fallback, since only
// some portal variants stamp the ids on the spans.
func (c *Client) parseEventRows(rows *goquery.Selection) []Event {
	var events []Event
	rows.Each(func(_ int, tr *goquery.Selection) {
		if tr.Find("th").Length() > 0 {
			return
		}
		cells := tr.Find("td")

		event := Event{
			Office:      htmlutil.DirectText(tr.Find(`span[id*="officeColumn"]`).First()),
			RawDate:     htmlutil.Text(tr.Find(`span[id*="dateColumn"]`).First()),
			Type:        htmlutil.Text(tr.Find(`span[id*="typeColumn"]`).First()),
			Description: htmlutil.Text(tr.Find(`span[id*="descriptionColumn"], span[id*="detailColumn"]`).First()),
			Folio:       htmlutil.Text(tr.Find(`span[id*="folioColumn"], span[id*="fsColumn"]`).First()),
		}

		if event.Office == "" {
			event.Office = htmlutil.Text(cells.Eq(0))
		}
		if event.RawDate == "" {
			event.RawDate = htmlutil.Text(cells.Eq(1))
		}
		if event.Type == "" {
			event.Type = htmlutil.Text(cells.Eq(2))
		}
		if event.Description == "" {
			event.Description = htmlutil.Text(cells.Eq(3))
		}
		if event.Folio == "" {
			event.Folio = htmlutil.Text(cells.Eq(4))
		}

		event.RawDate = strings.TrimSpace(event.RawDate)
		if _, iso, ok := textutil.FindDate(event.RawDate); ok {
			event.Date = iso
		}
		event.Type = textutil.Truncate(textutil.CleanScripts(event.Type), maxTypeRunes)
		event.Description = textutil.Truncate(textutil.CleanScripts(event.Description), maxDescriptionRunes)
		event.Office = strings.TrimSpace(event.Office)
		event.Folio = strings.TrimSpace(event.Folio)

		if href, ok := tr.Find(`a[href*="viewer.seam"]`).First().Attr("href"); ok {
			event.DocumentUrl = htmlutil.AbsoluteURL(c.BaseUrl, href)
		}

		if event.RawDate == "" && event.Type == "" && event.Description == "" {
			return
		}
		events = append(events, event)
	})
	return events
}

var paginatorMarkerRegex = regexp.MustCompile(`j_idt\d+:(\d+):j_idt\d+`)

// parseEventsPageCount reads the docket paginator. The numbered page
// links carry the rf-ds-nmb class; when the paginator is rendered without
// them the positional control markers in the raw markup give a lower
// bound. A page without either is a single-page docket.
func parseEventsPageCount(doc *goquery.Document, html string) int {
	max := 0
	doc.Find(`a[class*="rf-ds-nmb"], span[class*="rf-ds-nmb"]`).Each(func(_ int, el *goquery.Selection) {
		n, err := strconv.Atoi(strings.TrimSpace(el.Text()))
		if err == nil && n > max {
			max = n
		}
	})
	if max > 0 {
		return max
	}

	for _, match := range paginatorMarkerRegex.FindAllStringSubmatch(html, -1) {
		n, err := strconv.Atoi(match[1])
		if err == nil && n+1 > max {
			max = n + 1
		}
	}
	if max > 0 {
		return max
	}
	return 1
}

// ActivateEventsTab switches the detail view to the docket tab. The
// postback alone only mutates server state; the follow-up full GET is
// what actually renders the table, so both steps are mandatory.
func (c *Client) ActivateEventsTab(ctx context.Context, s *Session, cid string) (string, error) {
	ctx, span := tracer.Start(ctx, "ActivateEventsTab")
	defer span.End()
	span.SetAttributes(attribute.String("case/cid", cid))

	path := detailPath + "?cid=" + url.QueryEscape(cid)

	// a tabchange postback, not a click: no self-named source parameter,
	// the new tab travels in the -value and newItem fields instead
	body := url.Values{}
	body.Set(detailFormId, detailFormId)
	body.Set(viewStateField, s.ViewState)
	body.Set(eventsTabControl+"-value", eventsTabName)
	body.Set(accordionCollapsed, "false")
	body.Set(otherActionsField, "on")
	body.Set("javax.faces.source", eventsTabControl)
	body.Set("javax.faces.partial.event", "tabchange")
	body.Set("javax.faces.partial.execute", eventsTabControl+" @component")
	body.Set("javax.faces.partial.render", eventsTabControl+" @component")
	body.Set("org.richfaces.ajax.component", eventsTabControl)
	body.Set(eventsTabControl+":newItem", eventsTabName)
	body.Set("rfExt", "null")
	body.Set("AJAX:EVENTS_COUNT", "1")
	body.Set("javax.faces.partial.ajax", "true")

	res, err := c.ajaxPost(ctx, s, path, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tab postback failed")
		return "", err
	}
	s.absorb(res)
	if state := viewStateFromAjax(string(res.Body())); state != "" {
		s.ViewState = state
	}

	res, err = c.Http.R().
		SetContext(ctx).
		SetHeader("Cookie", s.cookieHeader()).
		SetHeader("Accept", acceptDoc).
		Get(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tab re-render failed")
		return "", err
	}
	s.absorb(res)

	html := string(res.Body())
	if doc, err := documentFrom(html); err == nil {
		if state, err := viewStateFromDoc(doc); err == nil {
			s.ViewState = state
		}
	}
	return html, nil
}

// NextEventsPage advances the docket paginator by one page and parses
// the returned fragment.
func (c *Client) NextEventsPage(ctx context.Context, s *Session, cid string, page int) ([]Event, error) {
	ctx, span := tracer.Start(ctx, "NextEventsPage")
	defer span.End()
	span.SetAttributes(
		attribute.String("case/cid", cid),
		attribute.Int("page", page),
	)

	path := detailPath + "?cid=" + url.QueryEscape(cid)
	extra := url.Values{}
	extra.Set(accordionControl, accordionControl)
	extra.Set(accordionCollapsed, "false")
	extra.Set(eventsTabControl+"-value", eventsTabName)
	extra.Set(otherActionsField, "on")

	res, err := c.partialPostback(ctx, s, path, detailFormId, eventsNextControl, extra)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "docket postback failed")
		return nil, err
	}
	s.absorb(res)

	body := string(res.Body())
	if state := viewStateFromAjax(body); state != "" {
		s.ViewState = state
	}

	doc, err := documentFrom(joinCdata(body))
	if err != nil {
		return nil, err
	}
	rows, matched := htmlutil.FirstMatch(doc, append(eventsTableSelectors, "tr")...)
	if matched < 0 {
		return nil, nil
	}
	events := c.parseEventRows(rows)
	span.SetAttributes(attribute.Int("events", len(events)))
	return events, nil
}

// FetchCaseEvents opens a case from its list row and collects its full
// docket. When the landing page renders without the docket table, or
// with only its teaser row, the docket tab is activated and the page
// parsed again before pagination starts.
func (c *Client) FetchCaseEvents(ctx context.Context, s *Session, row CaseRow) (*CaseDetail, error) {
	ctx, span := tracer.Start(ctx, "FetchCaseEvents")
	defer span.End()
	span.SetAttributes(attribute.String("case/number", row.Number))

	view, err := c.OpenDetail(ctx, s, row)
	if err != nil {
		return nil, err
	}

	detail, err := c.ParseDetail(view.Html)
	if err != nil && !errors.Is(err, ErrNoEventsTable) {
		return nil, err
	}
	if errors.Is(err, ErrNoEventsTable) || len(detail.Events) <= 1 {
		html, err := c.ActivateEventsTab(ctx, s, view.Cid)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "tab activation failed")
			return nil, err
		}
		reparsed, err := c.ParseDetail(html)
		if err != nil && !errors.Is(err, ErrNoEventsTable) {
			return nil, err
		}
		if len(reparsed.Events) > len(detail.Events) {
			detail = reparsed
		}
	}
	if detail.Number == "" {
		detail.Number = row.Number
	}

	for page := 2; page <= detail.PageCount; page++ {
		events, err := c.NextEventsPage(ctx, s, view.Cid, page)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, fmt.Sprintf("failed on docket page %d", page))
			return nil, fmt.Errorf("docket page %d of %s: %w", page, row.Number, err)
		}
		if len(events) == 0 {
			slog.WarnContext(ctx, "docket ended before reported page count",
				"case", row.Number, "page", page, "pages", detail.PageCount)
			break
		}
		detail.Events = append(detail.Events, events...)
	}

	span.SetAttributes(attribute.Int("events", len(detail.Events)))
	return detail, nil
}
