package scw

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ErrCaseNotFound = errors.New("no case row matched the requested number")

// the filter form posts back to the list page itself
const (
	searchFormId     = "j_idt83:consultaExpediente"
	searchChamberFld = searchFormId + ":camara"
	searchNumberFld  = searchFormId + ":j_idt116:numero"
	searchYearFld    = searchFormId + ":j_idt118:anio"
	searchCaptionFld = searchFormId + ":caratula"
	searchStatusFld  = searchFormId + ":situation"
	searchSubmitFld  = searchFormId + ":consultaFiltroSearchButtonSAU"
	searchSubmitText = "Consultar"
)

// SearchQuery mirrors the list page's filter form. Empty fields are
// still posted, the portal treats them as wildcards.
type SearchQuery struct {
	Chamber string
	Number  string
	Year    string
	Caption string
	Status  string
}

// Search posts the filter form and returns the result rows. The result
// table reuses the list-page structure, so the rows carry the same
// positional click controls.
func (c *Client) Search(ctx context.Context, s *Session, query SearchQuery) ([]CaseRow, error) {
	ctx, span := tracer.Start(ctx, "Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("number", query.Number),
		attribute.String("year", query.Year),
	)

	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("Cookie", s.cookieHeader()).
		SetHeader("Accept", acceptDoc).
		Get(listPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load search form")
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

	form := url.Values{}
	form.Set(searchFormId, searchFormId)
	form.Set(searchChamberFld, query.Chamber)
	form.Set(searchNumberFld, query.Number)
	form.Set(searchYearFld, query.Year)
	form.Set(searchCaptionFld, query.Caption)
	form.Set(searchStatusFld, query.Status)
	form.Set(searchSubmitFld, searchSubmitText)
	form.Set(viewStateField, s.ViewState)

	res, err = c.Http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetHeader("Cookie", s.cookieHeader()).
		SetHeader("Accept", acceptDoc).
		SetHeader("Referer", c.BaseUrl.JoinPath(listPath).String()).
		SetBody(form.Encode()).
		Post(listPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search postback failed")
		return nil, err
	}
	s.absorb(res)

	resultDoc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, err
	}
	if state, err := viewStateFromDoc(resultDoc); err == nil {
		s.ViewState = state
	}

	rows := parseCaseRows(resultDoc.Selection)
	span.SetAttributes(attribute.Int("rows", len(rows)))
	return rows, nil
}

var searchNumberRegex = regexp.MustCompile(`(\d+)/(\d{4})(?:/(\d+))?`)

// SearchExactNumber looks up a full case number like "123/2024" or
// "123/2024/1" and returns the single row that matches it structurally.
// "123/2024" selects only the principal case, never an incident of it,
// and a number with an incident segment never matches the principal.
func (c *Client) SearchExactNumber(ctx context.Context, s *Session, number string) (*CaseRow, error) {
	ctx, span := tracer.Start(ctx, "SearchExactNumber")
	defer span.End()
	span.SetAttributes(attribute.String("number", number))

	wantBase, wantYear, wantIncident, ok := splitCaseNumber(number)
	if !ok {
		return nil, fmt.Errorf("malformed case number %q", number)
	}

	rows, err := c.Search(ctx, s, SearchQuery{Number: wantBase, Year: wantYear})
	if err != nil {
		return nil, err
	}

	for i, row := range rows {
		base, year, incident, ok := splitCaseNumber(row.Number)
		if !ok {
			continue
		}
		if base == wantBase && year == wantYear && incident == wantIncident {
			return &rows[i], nil
		}
	}

	span.SetStatus(codes.Error, ErrCaseNotFound.Error())
	return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, number)
}

// splitCaseNumber decomposes a case number into its base, year and
// optional incident segment, dropping any jurisdiction prefix and the
// zero-padding some screens apply to the base.
func splitCaseNumber(number string) (base, year, incident string, ok bool) {
	match := searchNumberRegex.FindStringSubmatch(number)
	if match == nil {
		return "", "", "", false
	}
	base = strings.TrimLeft(match[1], "0")
	if base == "" {
		base = "0"
	}
	return base, match[2], strings.TrimLeft(match[3], "0"), true
}
