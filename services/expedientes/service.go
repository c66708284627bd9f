// Package expedientes is the case-following engine: it replays the
// national (scw) and provincial (mev) portal sessions, reconciles the
// requested case numbers against what the portals actually list, and
// persists every docket movement it has ever seen.
package expedientes

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"expedientes-backend/lib/scrapers/mev"
	"expedientes-backend/lib/scrapers/scw"
	"expedientes-backend/lib/timezone"
	"expedientes-backend/services/expedientes/db"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/expedientes")

const (
	SourceScw = "scw"
	SourceMev = "mev"
)

type Service struct {
	scw      *scw.Client
	mev      *mev.Client
	database *sql.DB
	qry      *db.Queries
}

type Options struct {
	Scw *scw.Client
	// optional, tray operations fail without it
	Mev      *mev.Client
	Database *sql.DB
}

func NewService(opts Options) Service {
	return Service{
		scw:      opts.Scw,
		mev:      opts.Mev,
		database: opts.Database,
		qry:      db.New(opts.Database),
	}
}

// Authenticate opens a fresh national-portal session.
func (s Service) Authenticate(ctx context.Context, creds Credentials) (*scw.Session, error) {
	return s.scw.Login(ctx, creds.Username, creds.Password)
}

func (s Service) FetchListPage(ctx context.Context, session *scw.Session) (*scw.CaseList, error) {
	return s.scw.FetchCaseList(ctx, session)
}

func (s Service) FetchAllListPages(ctx context.Context, session *scw.Session) ([]scw.CaseRow, error) {
	return s.scw.FetchAllCases(ctx, session)
}

func (s Service) Search(ctx context.Context, session *scw.Session, query scw.SearchQuery) ([]scw.CaseRow, error) {
	return s.scw.Search(ctx, session, query)
}

func (s Service) SearchExactNumber(ctx context.Context, session *scw.Session, number string) (*scw.CaseRow, error) {
	return s.scw.SearchExactNumber(ctx, session, number)
}

// FetchCaseEvents collects one case's docket and persists it. Returns
// the detail plus the number of movements not seen before.
func (s Service) FetchCaseEvents(ctx context.Context, session *scw.Session, row scw.CaseRow) (*scw.CaseDetail, int, error) {
	detail, err := s.scw.FetchCaseEvents(ctx, session, row)
	if err != nil {
		return nil, 0, err
	}
	fresh, err := s.SaveDetail(ctx, SourceScw, detail)
	if err != nil {
		return nil, 0, err
	}
	return detail, fresh, nil
}

// SaveDetail upserts the case and appends its movements. Replayed
// movements are ignored by the store's natural key, so calling this with
// overlapping pages is safe.
func (s Service) SaveDetail(ctx context.Context, source string, detail *scw.CaseDetail) (int, error) {
	ctx, span := tracer.Start(ctx, "SaveDetail")
	defer span.End()
	span.SetAttributes(
		attribute.String("source", source),
		attribute.String("case/number", detail.Number),
	)

	tx, err := s.database.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	now := timezone.Now().Unix()
	id, err := txqry.UpsertExpediente(ctx, db.UpsertExpedienteParams{
		SourceSystem: source,
		Number:       detail.Number,
		Caption:      detail.Caption,
		Office:       detail.Office,
		Jurisdiction: detail.Jurisdiction,
		Status:       detail.Status,
		UpdatedAt:    now,
	})
	if err != nil {
		return 0, err
	}

	fresh := 0
	for _, event := range detail.Events {
		inserted, err := txqry.InsertMovimiento(ctx, db.InsertMovimientoParams{
			ExpedienteID:  id,
			Fecha:         event.Date,
			FechaOriginal: event.RawDate,
			Tipo:          event.Type,
			Descripcion:   event.Description,
			Oficina:       event.Office,
			Folio:         event.Folio,
			UrlDocumento:  event.DocumentUrl,
			CreatedAt:     now,
		})
		if err != nil {
			return 0, err
		}
		if inserted {
			fresh++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("fresh", fresh))
	return fresh, nil
}

// RunBatchByNumbers resolves the requested numbers against the user's
// full case list and batch-fetches the matches. Unmatched numbers are
// reported in the summary as failed items, they never abort the run.
func (s Service) RunBatchByNumbers(ctx context.Context, creds Credentials, numbers []string, opts BatchOptions) (*BatchSummary, error) {
	ctx, span := tracer.Start(ctx, "RunBatchByNumbers")
	defer span.End()
	span.SetAttributes(attribute.Int("requested", len(numbers)))

	session, err := s.Authenticate(ctx, creds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authentication failed")
		return nil, err
	}
	rows, err := s.FetchAllListPages(ctx, session)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "case list fetch failed")
		return nil, err
	}

	index := NewIndex(rows)
	var matched []scw.CaseRow
	var misses []BatchItem
	for _, number := range numbers {
		row, err := index.Resolve(number)
		if err != nil {
			misses = append(misses, BatchItem{
				Row: scw.CaseRow{Number: number},
				Err: err,
			})
			slog.WarnContext(ctx, "requested case not in list", "number", number, "err", err)
			continue
		}
		matched = append(matched, *row)
	}

	summary, err := RunBatch(ctx, s.scw, creds, matched, opts)
	if err != nil {
		return nil, err
	}

	for i := range summary.Items {
		item := &summary.Items[i]
		if item.Err != nil || item.Detail == nil {
			continue
		}
		if _, err := s.SaveDetail(ctx, SourceScw, item.Detail); err != nil {
			item.Err = fmt.Errorf("persist %s: %w", item.Row.Number, err)
			summary.Succeeded--
			summary.Failed++
		}
	}

	summary.Matched = len(matched)
	summary.Unmatched = len(misses)
	summary.Total += len(misses)
	summary.Failed += len(misses)
	summary.Items = append(summary.Items, misses...)

	span.SetAttributes(
		attribute.Int("matched", summary.Matched),
		attribute.Int("unmatched", summary.Unmatched),
	)
	return summary, nil
}

// SyncTray mirrors the provincial tray: every case, every movement.
func (s Service) SyncTray(ctx context.Context, creds Credentials) (int, error) {
	ctx, span := tracer.Start(ctx, "SyncTray")
	defer span.End()

	if s.mev == nil {
		return 0, fmt.Errorf("provincial portal client is not configured")
	}

	session, err := s.mev.Login(ctx, creds.Username, creds.Password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tray login failed")
		return 0, err
	}
	cases, err := s.mev.FetchAllCases(ctx, session)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tray fetch failed")
		return 0, err
	}
	span.SetAttributes(attribute.Int("cases", len(cases)))

	fresh := 0
	for _, entry := range cases {
		events, err := s.mev.FetchEvents(ctx, session, entry)
		if err != nil {
			slog.WarnContext(ctx, "tray case failed", "case", entry.Number, "err", err)
			continue
		}

		detail := trayDetail(entry, events)
		n, err := s.SaveDetail(ctx, SourceMev, detail)
		if err != nil {
			slog.WarnContext(ctx, "tray persist failed", "case", entry.Number, "err", err)
			continue
		}
		fresh += n
	}

	span.SetAttributes(attribute.Int("fresh", fresh))
	return fresh, nil
}

// trayDetail reshapes a provincial tray entry into the common detail
// shape the store persists.
func trayDetail(entry mev.Case, events []mev.Event) *scw.CaseDetail {
	detail := &scw.CaseDetail{
		Number:  entry.Number,
		Caption: entry.Caption,
		Office:  entry.Office,
	}
	for _, event := range events {
		detail.Events = append(detail.Events, scw.Event{
			Date:        event.Date,
			RawDate:     event.RawDate,
			Type:        event.Type,
			Description: event.Description,
			DocumentUrl: event.DocumentUrl,
		})
	}
	return detail
}

// ListStoredCases reads the local registry.
func (s Service) ListStoredCases(ctx context.Context, filter db.ListExpedientesParams) ([]db.Expediente, error) {
	return s.qry.ListExpedientes(ctx, filter)
}

// DailyNovelty periodically refreshes the docket of every case that
// moved today. It runs until the context is cancelled; one failing cycle
// is logged and the next one starts on schedule.
func (s Service) DailyNovelty(ctx context.Context, creds Credentials, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour * 6
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.noveltyCycle(ctx, creds); err != nil {
			slog.ErrorContext(ctx, "novelty cycle failed", "err", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (s Service) noveltyCycle(ctx context.Context, creds Credentials) error {
	ctx, span := tracer.Start(ctx, "noveltyCycle")
	defer span.End()

	session, err := s.Authenticate(ctx, creds)
	if err != nil {
		return err
	}
	rows, err := s.FetchAllListPages(ctx, session)
	if err != nil {
		return err
	}

	today := timezone.Now().Format("2006-01-02")
	fresh := 0
	touched := 0
	for _, row := range rows {
		if row.LastUpdate != today {
			continue
		}
		touched++
		_, n, err := s.FetchCaseEvents(ctx, session, row)
		if err != nil {
			slog.WarnContext(ctx, "novelty case failed", "case", row.Number, "err", err)
			continue
		}
		fresh += n
	}

	span.SetAttributes(
		attribute.Int("touched", touched),
		attribute.Int("fresh", fresh),
	)
	slog.InfoContext(ctx, "novelty cycle complete",
		"cases", len(rows), "touched", touched, "fresh", fresh)
	return nil
}
