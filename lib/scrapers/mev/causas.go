package mev

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"expedientes-backend/lib/textutil"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// pages fetched concurrently per batch once the page count is known
const pageBatchSize = 10

// Case is one row of the user's tray. The portal addresses a case by the
// (Idc, Ido) pair, the case id alone is not unique across organisms.
type Case struct {
	Idc        string
	Ido        string
	Number     string
	Caption    string
	Office     string
	LastUpdate string
}

func (c Case) Key() string { return c.Idc + ":" + c.Ido }

type CasePage struct {
	Cases     []Case
	PageCount int
	Page      int
}

var (
	caseRowRegex  = regexp.MustCompile(`(?s)<tr[^>]*data-idc=['"](\d+)['"][^>]*data-ido=['"](\d+)['"][^>]*>(.*?)</tr>`)
	caseCellRegex = regexp.MustCompile(`(?s)<td[^>]*>(.*?)</td>`)
	cantPagRegex  = regexp.MustCompile(`id=['"]cantPag['"][^>]*value=['"](\d+)['"]`)
)

type casesResponse struct {
	Exito   bool   `json:"exito"`
	Html    string `json:"html"`
	CantPag string `json:"cantPag"`
}

// FetchCasePage loads one page of the tray. The server answers with an
// HTML fragment inside the JSON payload; rows are pulled out of it with
// regexes because the fragment is not a complete document.
func (c *Client) FetchCasePage(ctx context.Context, s *Session, page int) (*CasePage, error) {
	ctx, span := tracer.Start(ctx, "FetchCasePage")
	defer span.End()
	span.SetAttributes(attribute.Int("page", page))

	var payload casesResponse
	err := c.callPageMethod(ctx, s, casesPath, map[string]any{"pagina": page}, &payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "page method call failed")
		return nil, err
	}
	if !payload.Exito {
		span.SetStatus(codes.Error, "server reported failure")
		return nil, fmt.Errorf("%w: exito=false on page %d", ErrBadPayload, page)
	}

	result := &CasePage{
		Cases:     parseCaseFragment(payload.Html),
		PageCount: parsePageCount(payload),
		Page:      page,
	}
	span.SetAttributes(
		attribute.Int("cases", len(result.Cases)),
		attribute.Int("pages", result.PageCount),
	)
	return result, nil
}

func parsePageCount(payload casesResponse) int {
	if n, err := strconv.Atoi(payload.CantPag); err == nil && n > 0 {
		return n
	}
	// older portal builds ship the count as a hidden input in the fragment
	if match := cantPagRegex.FindStringSubmatch(payload.Html); match != nil {
		if n, err := strconv.Atoi(match[1]); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

func parseCaseFragment(fragment string) []Case {
	var cases []Case
	for _, row := range caseRowRegex.FindAllStringSubmatch(fragment, -1) {
		cells := caseCellRegex.FindAllStringSubmatch(row[3], -1)
		text := func(i int) string {
			if i >= len(cells) {
				return ""
			}
			return textutil.StripTags(cells[i][1])
		}

		entry := Case{
			Idc:        row[1],
			Ido:        row[2],
			Number:     text(0),
			Caption:    text(1),
			Office:     text(2),
			LastUpdate: text(3),
		}
		if _, iso, ok := textutil.FindDate(entry.LastUpdate); ok {
			entry.LastUpdate = iso
		}
		if entry.Number == "" && entry.Caption == "" {
			continue
		}
		cases = append(cases, entry)
	}
	return cases
}

// FetchAllCases collects the whole tray. Page one establishes the page
// count, the rest are fetched concurrently in bounded batches. A failed
// page costs its own rows, never the rest of the tray. Rows are
// deduplicated by (idc, ido) since the portal repeats a case in every
// organism tray it appears in.
func (c *Client) FetchAllCases(ctx context.Context, s *Session) ([]Case, error) {
	ctx, span := tracer.Start(ctx, "FetchAllCases")
	defer span.End()

	first, err := c.FetchCasePage(ctx, s, 1)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("pages", first.PageCount))

	pages := map[int][]Case{1: first.Cases}
	var mu sync.Mutex
	skipped := 0

	for start := 2; start <= first.PageCount; start += pageBatchSize {
		end := start + pageBatchSize - 1
		if end > first.PageCount {
			end = first.PageCount
		}

		var wg sync.WaitGroup
		for page := start; page <= end; page++ {
			wg.Add(1)
			go func(page int) {
				defer wg.Done()
				result, err := c.FetchCasePage(ctx, s, page)
				if err != nil {
					slog.WarnContext(ctx, "tray page failed, skipping",
						"page", page, "err", err)
					mu.Lock()
					skipped++
					mu.Unlock()
					return
				}
				mu.Lock()
				pages[page] = result.Cases
				mu.Unlock()
			}(page)
		}
		wg.Wait()
	}

	if skipped > 0 {
		span.SetAttributes(attribute.Int("skipped_pages", skipped))
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d tray pages skipped", skipped, first.PageCount))
	}

	pageNumbers := make([]int, 0, len(pages))
	for page := range pages {
		pageNumbers = append(pageNumbers, page)
	}
	sort.Ints(pageNumbers)

	seen := map[string]bool{}
	var cases []Case
	for _, page := range pageNumbers {
		for _, entry := range pages[page] {
			if seen[entry.Key()] {
				continue
			}
			seen[entry.Key()] = true
			cases = append(cases, entry)
		}
	}

	span.SetAttributes(attribute.Int("cases", len(cases)))
	return cases, nil
}
