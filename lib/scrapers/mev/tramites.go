package mev

import (
	"context"
	"fmt"
	"net/url"
	"regexp"

	"expedientes-backend/lib/htmlutil"
	"expedientes-backend/lib/textutil"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	maxTypeRunes        = 200
	maxDescriptionRunes = 1000
)

type Event struct {
	// Date is the normalized YYYY-MM-DD form, empty when the cell does
	// not parse; RawDate keeps the cell text either way.
	Date        string
	RawDate     string
	Type        string
	Description string
	DocumentUrl string
}

var (
	eventRowRegex    = regexp.MustCompile(`(?s)<tr[^>]*>(.*?)</tr>`)
	eventCellRegex   = regexp.MustCompile(`(?s)<td[^>]*>(.*?)</td>`)
	eventHrefRegex   = regexp.MustCompile(`href=['"]([^'"]+)['"]`)
	eventHeaderRegex = regexp.MustCompile(`<th[\s>]`)
)

type eventsResponse struct {
	Exito bool   `json:"exito"`
	Html  string `json:"html"`
}

// FetchEvents loads the procedural history of one case. Free-text fields
// are bounded: some organisms paste entire resolutions into the
// description cell.
func (c *Client) FetchEvents(ctx context.Context, s *Session, entry Case) ([]Event, error) {
	ctx, span := tracer.Start(ctx, "FetchEvents")
	defer span.End()
	span.SetAttributes(
		attribute.String("case/idc", entry.Idc),
		attribute.String("case/ido", entry.Ido),
	)

	var payload eventsResponse
	err := c.callPageMethod(ctx, s, eventsPath, map[string]any{
		"idCausa":     entry.Idc,
		"idOrganismo": entry.Ido,
	}, &payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "page method call failed")
		return nil, err
	}
	if !payload.Exito {
		span.SetStatus(codes.Error, "server reported failure")
		return nil, fmt.Errorf("%w: exito=false for case %s", ErrBadPayload, entry.Key())
	}

	events := parseEventFragment(payload.Html, c.BaseUrl)
	span.SetAttributes(attribute.Int("events", len(events)))
	return events, nil
}

func parseEventFragment(fragment string, baseUrl *url.URL) []Event {
	var events []Event
	for _, row := range eventRowRegex.FindAllStringSubmatch(fragment, -1) {
		if eventHeaderRegex.MatchString(row[1]) {
			continue
		}
		cells := eventCellRegex.FindAllStringSubmatch(row[1], -1)
		if len(cells) < 2 {
			continue
		}
		text := func(i int) string {
			if i >= len(cells) {
				return ""
			}
			return textutil.StripTags(cells[i][1])
		}

		event := Event{
			RawDate:     text(0),
			Type:        textutil.Truncate(text(1), maxTypeRunes),
			Description: textutil.Truncate(text(2), maxDescriptionRunes),
		}
		if _, iso, ok := textutil.FindDate(event.RawDate); ok {
			event.Date = iso
		}
		if match := eventHrefRegex.FindStringSubmatch(row[1]); match != nil {
			event.DocumentUrl = htmlutil.AbsoluteURL(baseUrl, match[1])
		}

		if event.RawDate == "" && event.Type == "" && event.Description == "" {
			continue
		}
		events = append(events, event)
	}
	return events
}
