package expedientes

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"expedientes-backend/lib/scrapers/scw"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CaseFetcher is the slice of the portal client the batch runner needs.
type CaseFetcher interface {
	Login(ctx context.Context, username, password string) (*scw.Session, error)
	SearchExactNumber(ctx context.Context, s *scw.Session, number string) (*scw.CaseRow, error)
	FetchCaseEvents(ctx context.Context, s *scw.Session, row scw.CaseRow) (*scw.CaseDetail, error)
}

type Credentials struct {
	Username string
	Password string
}

type BatchOptions struct {
	// concurrent workers, each owning its own portal session
	Workers int
	// items after which a worker discards its session and logs in again;
	// long-lived server conversations eventually rot
	ReauthEvery int
}

type BatchItem struct {
	Row    scw.CaseRow
	Detail *scw.CaseDetail
	Err    error
}

type BatchSummary struct {
	Total       int
	Succeeded   int
	Failed      int
	Matched     int
	Unmatched   int
	TotalEvents int
	Elapsed     time.Duration
	Items       []BatchItem
}

const (
	defaultWorkers     = 4
	defaultReauthEvery = 50
)

// RunBatch fetches the docket of every row concurrently. Rows are split
// into contiguous shards, one per worker; a failing row is recorded on
// its item and never aborts the batch, only a cancelled context does.
// Row click controls and tokens are bound to the session that listed
// them, so each worker re-resolves its cases by number in its own
// session before opening them.
func RunBatch(ctx context.Context, fetcher CaseFetcher, creds Credentials, rows []scw.CaseRow, opts BatchOptions) (*BatchSummary, error) {
	ctx, span := tracer.Start(ctx, "RunBatch")
	defer span.End()

	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.ReauthEvery <= 0 {
		opts.ReauthEvery = defaultReauthEvery
	}
	if opts.Workers > len(rows) && len(rows) > 0 {
		opts.Workers = len(rows)
	}
	span.SetAttributes(
		attribute.Int("rows", len(rows)),
		attribute.Int("workers", opts.Workers),
	)

	start := time.Now()
	items := make([]BatchItem, len(rows))
	for i, row := range rows {
		items[i] = BatchItem{Row: row}
	}

	var wg sync.WaitGroup
	for _, shard := range shards(len(rows), opts.Workers) {
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			runShard(ctx, fetcher, creds, items[lo:hi], opts.ReauthEvery)
		}(shard[0], shard[1])
	}
	wg.Wait()

	summary := &BatchSummary{
		Total:   len(rows),
		Elapsed: time.Since(start),
		Items:   items,
	}
	for _, item := range items {
		if item.Err != nil {
			summary.Failed++
			continue
		}
		summary.Succeeded++
		if item.Detail != nil {
			summary.TotalEvents += len(item.Detail.Events)
		}
	}

	span.SetAttributes(
		attribute.Int("succeeded", summary.Succeeded),
		attribute.Int("failed", summary.Failed),
		attribute.Int("events", summary.TotalEvents),
	)
	if summary.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d rows failed", summary.Failed, summary.Total))
	}
	return summary, ctx.Err()
}

// shards splits n items into `workers` contiguous [lo, hi) windows.
func shards(n, workers int) [][2]int {
	if n == 0 || workers <= 0 {
		return nil
	}
	size := (n + workers - 1) / workers
	var out [][2]int
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		out = append(out, [2]int{lo, hi})
	}
	return out
}

func runShard(ctx context.Context, fetcher CaseFetcher, creds Credentials, items []BatchItem, reauthEvery int) {
	session, err := fetcher.Login(ctx, creds.Username, creds.Password)
	if err != nil {
		// a worker that cannot authenticate fails its shard in one pass
		// instead of retrying the identity provider per item
		slog.ErrorContext(ctx, "shard login failed",
			"items", len(items), "err", err)
		for i := range items {
			items[i].Err = fmt.Errorf("login: %w", err)
		}
		return
	}

	for i := range items {
		if ctx.Err() != nil {
			items[i].Err = ctx.Err()
			continue
		}

		if i > 0 && i%reauthEvery == 0 {
			fresh, err := fetcher.Login(ctx, creds.Username, creds.Password)
			if err != nil {
				// keep the old session, re-auth is opportunistic
				slog.WarnContext(ctx, "session refresh failed, keeping old session",
					"err", err)
			} else {
				session = fresh
			}
		}

		row, err := fetcher.SearchExactNumber(ctx, session, items[i].Row.Number)
		if err != nil {
			items[i].Err = fmt.Errorf("case %s: %w", items[i].Row.Number, err)
			slog.WarnContext(ctx, "batch item failed",
				"case", items[i].Row.Number, "err", err)
			continue
		}

		detail, err := fetcher.FetchCaseEvents(ctx, session, *row)
		if err != nil {
			items[i].Err = fmt.Errorf("case %s: %w", items[i].Row.Number, err)
			slog.WarnContext(ctx, "batch item failed",
				"case", items[i].Row.Number, "err", err)
			continue
		}
		items[i].Detail = detail
	}
}
