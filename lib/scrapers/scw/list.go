package scw

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"expedientes-backend/lib/htmlutil"
	"expedientes-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	listFormId        = "tablaConsultaLista:tablaConsultaForm"
	listNextControl   = "tablaConsultaLista:tablaConsultaForm:j_idt275:j_idt292"
	listRowControlFmt = "tablaConsultaLista:tablaConsultaForm:j_idt179:dataTable:%d:j_idt230"

	// rows the portal renders per list page
	listPageSize = 15
)

var (
	rowControlRegex = regexp.MustCompile(`dataTable:(\d+):(j_idt\d+)`)
	listTotalRegex  = regexp.MustCompile(`total de ([\d.]+) expediente`)
)

// CaseRow is one entry of the authenticated user's case list. Index and
// ClickControl identify the row to the server-side table; they are only
// valid against the ViewState of the page the row was parsed from.
type CaseRow struct {
	Number       string
	Office       string
	Caption      string
	Status       string
	LastUpdate   string
	Index        int
	ClickControl string
}

type CaseList struct {
	Rows []CaseRow
	// total cases reported by the portal across all pages, 0 when the
	// summary line is absent
	Total int
	Page  int
}

func (l CaseList) PageCount() int {
	if l.Total <= 0 {
		return 1
	}
	return (l.Total + listPageSize - 1) / listPageSize
}

// FetchCaseList loads the first page of the case list and primes the
// session's ViewState for the postbacks that follow.
func (c *Client) FetchCaseList(ctx context.Context, s *Session) (*CaseList, error) {
	ctx, span := tracer.Start(ctx, "FetchCaseList")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("Cookie", s.cookieHeader()).
		SetHeader("Accept", acceptDoc).
		Get(listPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load case list")
		return nil, err
	}
	s.absorb(res)

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, err
	}
	state, err := viewStateFromDoc(doc)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.ViewState = state

	list := &CaseList{
		Rows:  parseCaseRows(doc.Selection),
		Total: parseListTotal(string(res.Body())),
		Page:  1,
	}
	span.SetAttributes(
		attribute.Int("rows", len(list.Rows)),
		attribute.Int("total", list.Total),
	)
	return list, nil
}

// NextCaseListPage advances the server-side table by one page through a
// partial postback and parses the row fragment out of the response. The
// session's ViewState is rotated to the one the server handed back.
func (c *Client) NextCaseListPage(ctx context.Context, s *Session, page int) (*CaseList, error) {
	ctx, span := tracer.Start(ctx, "NextCaseListPage")
	defer span.End()
	span.SetAttributes(attribute.Int("page", page))

	res, err := c.partialPostback(ctx, s, listPath, listFormId, listNextControl, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list postback failed")
		return nil, err
	}
	s.absorb(res)

	body := string(res.Body())
	if state := viewStateFromAjax(body); state != "" {
		s.ViewState = state
	}

	fragment := joinCdata(body)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, err
	}

	list := &CaseList{
		Rows:  parseCaseRows(doc.Selection),
		Total: parseListTotal(fragment),
		Page:  page,
	}
	span.SetAttributes(attribute.Int("rows", len(list.Rows)))
	return list, nil
}

// FetchAllCases walks every page of the case list. The walk is bounded
// by the portal's own total and additionally stops on the first empty
// page, so a lying paginator cannot loop it.
func (c *Client) FetchAllCases(ctx context.Context, s *Session) ([]CaseRow, error) {
	ctx, span := tracer.Start(ctx, "FetchAllCases")
	defer span.End()

	first, err := c.FetchCaseList(ctx, s)
	if err != nil {
		return nil, err
	}

	rows := first.Rows
	pageCount := first.PageCount()
	span.SetAttributes(attribute.Int("pages", pageCount))

	for page := 2; page <= pageCount; page++ {
		next, err := c.NextCaseListPage(ctx, s, page)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, fmt.Sprintf("failed on page %d", page))
			return nil, fmt.Errorf("list page %d: %w", page, err)
		}
		if len(next.Rows) == 0 {
			slog.WarnContext(ctx, "case list ended before reported total",
				"page", page, "collected", len(rows), "total", first.Total)
			break
		}
		rows = append(rows, next.Rows...)
	}

	span.SetAttributes(attribute.Int("rows", len(rows)))
	return rows, nil
}

func parseCaseRows(root *goquery.Selection) []CaseRow {
	var rows []CaseRow
	root.Find(`table[id*="dataTable"] tbody tr`).Each(func(i int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 2 {
			return
		}

		lastUpdate := htmlutil.Text(cells.Eq(4))
		if _, iso, ok := textutil.FindDate(lastUpdate); ok {
			lastUpdate = iso
		}

		row := CaseRow{
			Number:       htmlutil.Text(cells.Eq(0)),
			Office:       htmlutil.Text(cells.Eq(1)),
			Caption:      htmlutil.Text(cells.Eq(2)),
			Status:       htmlutil.Text(cells.Eq(3)),
			LastUpdate:   lastUpdate,
			Index:        i,
			ClickControl: fmt.Sprintf(listRowControlFmt, i),
		}

		// the onclick handler names the row's real server-side control;
		// prefer it over the positional guess when present
		tr.Find("a[onclick], td[onclick]").EachWithBreak(func(_ int, el *goquery.Selection) bool {
			match := rowControlRegex.FindStringSubmatch(el.AttrOr("onclick", ""))
			if match == nil {
				return true
			}
			index, err := strconv.Atoi(match[1])
			if err != nil {
				return true
			}
			row.Index = index
			row.ClickControl = strings.Replace(
				fmt.Sprintf(listRowControlFmt, index),
				"j_idt230", match[2], 1)
			return false
		})

		if row.Number == "" && row.Caption == "" {
			return
		}
		rows = append(rows, row)
	})
	return rows
}

// parseListTotal reads the summary line under the table, e.g.
// "Se ha encontrado un total de 1.096 expediente(s)". The count uses
// dotted thousands separators.
func parseListTotal(html string) int {
	match := listTotalRegex.FindStringSubmatch(html)
	if match == nil {
		return 0
	}
	total, err := textutil.ParseLocaleInt(match[1])
	if err != nil {
		return 0
	}
	return total
}
