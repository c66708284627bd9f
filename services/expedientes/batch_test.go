package expedientes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"expedientes-backend/lib/scrapers/scw"
	"expedientes-backend/lib/testutil"

	"github.com/stretchr/testify/require"
)

// fakeFetcher behaves like the portal in the one respect the batch
// runner must respect: a row is only clickable inside the session whose
// search produced it.
type fakeFetcher struct {
	mu       sync.Mutex
	logins   int
	searched []string
	fetched  []string
	failOn   map[string]error
	loginErr error
}

func (f *fakeFetcher) Login(ctx context.Context, username, password string) (*scw.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &scw.Session{
		Cookies:   map[string]string{},
		ViewState: fmt.Sprintf("vs-%d", f.logins),
	}, nil
}

func (f *fakeFetcher) SearchExactNumber(ctx context.Context, s *scw.Session, number string) (*scw.CaseRow, error) {
	f.mu.Lock()
	f.searched = append(f.searched, number)
	f.mu.Unlock()
	return &scw.CaseRow{Number: number, ClickControl: "row@" + s.ViewState}, nil
}

func (f *fakeFetcher) FetchCaseEvents(ctx context.Context, s *scw.Session, row scw.CaseRow) (*scw.CaseDetail, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, row.Number)
	f.mu.Unlock()

	if row.ClickControl != "row@"+s.ViewState {
		return nil, errors.New("row does not belong to this session")
	}
	if err := f.failOn[row.Number]; err != nil {
		return nil, err
	}
	return &scw.CaseDetail{
		Number: row.Number,
		Events: []scw.Event{{Date: "2024-01-01", RawDate: "1/1/2024", Type: "PROVEIDO"}},
	}, nil
}

func batchRows(n int) []scw.CaseRow {
	rows := make([]scw.CaseRow, n)
	for i := range rows {
		rows[i] = scw.CaseRow{Number: fmt.Sprintf("%d/2024", i+1), Index: i}
	}
	return rows
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	_, cleanup := testutil.SetupService(t, testutil.ServiceParams{Name: "batch"})
	defer cleanup()

	boom := errors.New("navigation blew up")
	fetcher := &fakeFetcher{failOn: map[string]error{"5/2024": boom}}

	summary, err := RunBatch(context.Background(), fetcher, Credentials{}, batchRows(10), BatchOptions{Workers: 3})
	require.NoError(t, err)

	require.Equal(t, 10, summary.Total)
	require.Equal(t, 9, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 9, summary.TotalEvents)
	require.Len(t, fetcher.fetched, 10)

	// the failed item keeps its error, everything else its detail
	for _, item := range summary.Items {
		if item.Row.Number == "5/2024" {
			require.ErrorIs(t, item.Err, boom)
			require.Nil(t, item.Detail)
			continue
		}
		require.NoError(t, item.Err)
		require.Equal(t, item.Row.Number, item.Detail.Number)
	}
}

func TestRunBatchReauthenticatesPeriodically(t *testing.T) {
	_, cleanup := testutil.SetupService(t, testutil.ServiceParams{Name: "batch"})
	defer cleanup()

	fetcher := &fakeFetcher{}
	summary, err := RunBatch(context.Background(), fetcher, Credentials{}, batchRows(7), BatchOptions{
		Workers:     1,
		ReauthEvery: 3,
	})
	require.NoError(t, err)
	require.Equal(t, 7, summary.Succeeded)

	// initial login plus refreshes after items 3 and 6
	require.Equal(t, 3, fetcher.logins)
}

// Rows handed to the batch come from the coordinator's list session;
// their click controls are dead in the worker's session. Every worker
// must re-resolve its cases by number before opening them.
func TestRunBatchResolvesRowsInWorkerSession(t *testing.T) {
	_, cleanup := testutil.SetupService(t, testutil.ServiceParams{Name: "batch"})
	defer cleanup()

	rows := batchRows(6)
	for i := range rows {
		rows[i].ClickControl = "row@vs-stale"
	}

	fetcher := &fakeFetcher{}
	summary, err := RunBatch(context.Background(), fetcher, Credentials{}, rows, BatchOptions{Workers: 2})
	require.NoError(t, err)

	require.Equal(t, 6, summary.Succeeded)
	require.Equal(t, 0, summary.Failed)
	require.Len(t, fetcher.searched, 6)
}

func TestRunBatchFailsShardOnceOnLoginError(t *testing.T) {
	_, cleanup := testutil.SetupService(t, testutil.ServiceParams{Name: "batch"})
	defer cleanup()

	denied := errors.New("identity provider says no")
	fetcher := &fakeFetcher{loginErr: denied}

	summary, err := RunBatch(context.Background(), fetcher, Credentials{}, batchRows(6), BatchOptions{Workers: 2})
	require.NoError(t, err)

	require.Equal(t, 6, summary.Failed)
	for _, item := range summary.Items {
		require.ErrorIs(t, item.Err, denied)
	}
	// one login attempt per shard, not one per item
	require.Equal(t, 2, fetcher.logins)
	require.Empty(t, fetcher.searched)
}

func TestRunBatchEmptyInput(t *testing.T) {
	_, cleanup := testutil.SetupService(t, testutil.ServiceParams{Name: "batch"})
	defer cleanup()

	fetcher := &fakeFetcher{}
	summary, err := RunBatch(context.Background(), fetcher, Credentials{}, nil, BatchOptions{})
	require.NoError(t, err)
	require.Equal(t, 0, summary.Total)
	require.Equal(t, 0, fetcher.logins)
}

func TestShards(t *testing.T) {
	require.Equal(t, [][2]int{{0, 4}, {4, 8}, {8, 10}}, shards(10, 3))
	require.Equal(t, [][2]int{{0, 5}}, shards(5, 1))
	require.Nil(t, shards(0, 3))
}
