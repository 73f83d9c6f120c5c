package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/fire-dispatch-etl/internal/domain"
	"github.com/couchcryptid/fire-dispatch-etl/internal/observability"
	"github.com/couchcryptid/fire-dispatch-etl/internal/pipeline"
)

// --- mocks ---

type mockFetcher struct {
	lines []string
	err   error
	calls int
}

func (m *mockFetcher) FetchFeed(_ context.Context) ([]string, error) {
	m.calls++
	return m.lines, m.err
}

type mockPoster struct {
	mu      sync.Mutex
	last    string
	lastErr error
	failing map[string]bool // status substrings that fail to post
	posted  []string
}

func (m *mockPoster) LastStatus(_ context.Context) (string, error) {
	return m.last, m.lastErr
}

func (m *mockPoster) PostStatus(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.failing {
		if strings.Contains(text, sub) {
			return errors.New("rate limited")
		}
	}
	m.posted = append(m.posted, text)
	return nil
}

type mockLoader struct {
	loaded []domain.Incident
	err    error
}

func (m *mockLoader) LoadBatch(_ context.Context, incidents []domain.Incident) error {
	if m.err != nil {
		return m.err
	}
	m.loaded = append(m.loaded, incidents...)
	return nil
}

type memoryLedger struct {
	posted map[string]time.Time
	pruned int
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{posted: make(map[string]time.Time)}
}

func (m *memoryLedger) Posted(_ context.Context, incident domain.Incident) (bool, error) {
	_, ok := m.posted[incident.IncidentID]
	return ok, nil
}

func (m *memoryLedger) Record(_ context.Context, incident domain.Incident, postedAt time.Time) error {
	m.posted[incident.IncidentID] = postedAt
	return nil
}

func (m *memoryLedger) Prune(_ context.Context, _ time.Time) (int64, error) {
	m.pruned++
	return 0, nil
}

// --- helpers ---

type feedRow struct {
	id, units, location, typ string
}

// feedLines renders rows newest first, the way the live feed lists them.
func feedLines(rows ...feedRow) []string {
	lines := []string{"<html>", "<table>"}
	for i, r := range rows {
		lines = append(lines,
			fmt.Sprintf("<tr id=row%d onMouseOver='rowOn(row%d)' onMouseOut='rowOff(row%d)'>", i+1, i+1, i+1),
			`<td class="active">6/27/2020 9:41:33 PM</td>`,
			`<td class="active">`+r.id+`</td>`,
			`<td class="active">1</td>`,
			`<td class="active">`+r.units+`</td>`,
			`<td class="active">`+r.location+`</td>`,
			`<td class="active">`+r.typ+`</td>`,
			"</tr>",
		)
	}
	return append(lines, "</table>", "</html>")
}

var (
	rowNewest = feedRow{"F3", "E3", "3rd Ave/Pine St", "Aid Response"}
	rowMiddle = feedRow{"F2", "E2 L2", "200 2nd Ave", "Fire In Building"}
	rowOldest = feedRow{"F1", "M1", "100 1st Ave", "Medic Response"}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeline(f pipeline.FeedFetcher, p pipeline.StatusPoster, l pipeline.IncidentLoader, ledger pipeline.PostedLedger, opts pipeline.Options) *pipeline.Pipeline {
	if opts.Hashtag == "" {
		opts.Hashtag = "#Seattle"
	}
	if opts.MaxPostsPerCycle == 0 {
		opts.MaxPostsPerCycle = 20
	}
	return pipeline.New(f, p, l, ledger, opts, clockwork.NewFakeClock(), discardLogger(), observability.NewMetricsForTesting())
}

// --- tests ---

func TestPipeline_RunOnce_PostsNewIncidentsOldestFirst(t *testing.T) {
	fetcher := &mockFetcher{lines: feedLines(rowNewest, rowMiddle, rowOldest)}
	poster := &mockPoster{last: "Advanced Life Support 1 dispatched to 100 1ST AVE, #Seattle."}
	loader := &mockLoader{}

	p := newPipeline(fetcher, poster, loader, nil, pipeline.Options{})

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, pipeline.Result{Parsed: 3, Pending: 2, Posted: 2}, res)
	require.Len(t, poster.posted, 2)
	assert.Equal(t, "Engine 2 and Ladder 2 dispatched to 200 2ND AVE, #Seattle.\n\n"+
		"Type: Fire In Building\n\n"+
		"https://www.google.com/maps/search/?api=1&query=200%202ND%20AVE", poster.posted[0])
	assert.Contains(t, poster.posted[1], "Engine 3 dispatched to 3RD AVE AND PINE ST")

	require.Len(t, loader.loaded, 2)
	assert.Equal(t, "F2", loader.loaded[0].IncidentID)
	assert.Equal(t, "F3", loader.loaded[1].IncidentID)
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_RunOnce_NothingNew(t *testing.T) {
	fetcher := &mockFetcher{lines: feedLines(rowNewest, rowOldest)}
	poster := &mockPoster{last: "Engine 3 dispatched to 3RD AVE AND PINE ST, #Seattle."}

	p := newPipeline(fetcher, poster, nil, nil, pipeline.Options{})

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Pending)
	assert.Empty(t, poster.posted)
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_RunOnce_NoPriorStatusPostsNewest(t *testing.T) {
	fetcher := &mockFetcher{lines: feedLines(rowNewest, rowMiddle, rowOldest)}
	poster := &mockPoster{lastErr: fmt.Errorf("get feed: %w", domain.ErrNoPriorStatus)}

	p := newPipeline(fetcher, poster, nil, nil, pipeline.Options{})

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Posted)
	require.Len(t, poster.posted, 1)
	assert.Contains(t, poster.posted[0], "Engine 3 dispatched")
}

func TestPipeline_RunOnce_CapsPostsKeepingNewest(t *testing.T) {
	fetcher := &mockFetcher{lines: feedLines(rowNewest, rowMiddle, rowOldest)}
	poster := &mockPoster{last: "something else entirely"}

	p := newPipeline(fetcher, poster, nil, nil, pipeline.Options{MaxPostsPerCycle: 2})

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pending)
	require.Len(t, poster.posted, 2)
	assert.Contains(t, poster.posted[0], "Engine 2 and Ladder 2")
	assert.Contains(t, poster.posted[1], "Engine 3")
}

func TestPipeline_RunOnce_FetchError(t *testing.T) {
	fetcher := &mockFetcher{err: errors.New("connection refused")}
	poster := &mockPoster{}

	p := newPipeline(fetcher, poster, nil, nil, pipeline.Options{})

	_, err := p.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch feed")
	assert.Empty(t, poster.posted)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_RunOnce_ParseErrorPostsNothing(t *testing.T) {
	lines := feedLines(rowNewest, rowOldest)
	lines[len(lines)-4] = `<td class="active">Medic Response` // type cell of the last row loses its closing tag
	fetcher := &mockFetcher{lines: lines}
	poster := &mockPoster{last: "old"}
	loader := &mockLoader{}

	p := newPipeline(fetcher, poster, loader, nil, pipeline.Options{})

	_, err := p.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMalformedCell)
	assert.Empty(t, poster.posted)
	assert.Empty(t, loader.loaded)
}

func TestPipeline_RunOnce_StatusError(t *testing.T) {
	fetcher := &mockFetcher{lines: feedLines(rowNewest)}
	poster := &mockPoster{lastErr: errors.New("unauthorized")}

	p := newPipeline(fetcher, poster, nil, nil, pipeline.Options{})

	_, err := p.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get last status")
	assert.Empty(t, poster.posted)
}

func TestPipeline_RunOnce_PostFailureContinues(t *testing.T) {
	fetcher := &mockFetcher{lines: feedLines(rowNewest, rowMiddle, rowOldest)}
	poster := &mockPoster{last: "unrelated", failing: map[string]bool{"200 2ND AVE": true}}
	ledger := newMemoryLedger()

	p := newPipeline(fetcher, poster, nil, ledger, pipeline.Options{})

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Posted)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, poster.posted, 2)
	assert.Contains(t, ledger.posted, "F1")
	assert.Contains(t, ledger.posted, "F3")
	assert.NotContains(t, ledger.posted, "F2")
}

func TestPipeline_RunOnce_DryRun(t *testing.T) {
	fetcher := &mockFetcher{lines: feedLines(rowNewest, rowOldest)}
	poster := &mockPoster{last: "unrelated"}
	ledger := newMemoryLedger()

	p := newPipeline(fetcher, poster, nil, ledger, pipeline.Options{DryRun: true})

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Posted)
	assert.Empty(t, poster.posted)
	assert.Empty(t, ledger.posted)
}

func TestPipeline_RunOnce_LedgerSkipsPosted(t *testing.T) {
	fetcher := &mockFetcher{lines: feedLines(rowNewest, rowMiddle, rowOldest)}
	poster := &mockPoster{last: "unrelated"}
	ledger := newMemoryLedger()
	ledger.posted["F1"] = time.Now()
	ledger.posted["F2"] = time.Now()

	p := newPipeline(fetcher, poster, nil, ledger, pipeline.Options{})

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pending)
	require.Len(t, poster.posted, 1)
	assert.Contains(t, poster.posted[0], "Engine 3")
	assert.Equal(t, 1, ledger.pruned)
}

func TestPipeline_RunOnce_LoaderErrorDoesNotAbort(t *testing.T) {
	fetcher := &mockFetcher{lines: feedLines(rowNewest)}
	poster := &mockPoster{last: "unrelated"}
	loader := &mockLoader{err: errors.New("broker down")}

	p := newPipeline(fetcher, poster, loader, nil, pipeline.Options{})

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Posted)
}

func TestPipeline_RunOnce_PacesPosts(t *testing.T) {
	fetcher := &mockFetcher{lines: feedLines(rowNewest, rowMiddle, rowOldest)}
	poster := &mockPoster{last: "unrelated"}
	clock := clockwork.NewFakeClock()

	p := pipeline.New(fetcher, poster, nil, nil, pipeline.Options{
		PostInterval:     time.Second,
		MaxPostsPerCycle: 20,
		Hashtag:          "#Seattle",
	}, clock, discardLogger(), observability.NewMetricsForTesting())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan pipeline.Result, 1)
	go func() {
		res, err := p.RunOnce(ctx)
		assert.NoError(t, err)
		done <- res
	}()

	for i := 0; i < 2; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(time.Second)
	}

	select {
	case res := <-done:
		assert.Equal(t, 3, res.Posted)
	case <-ctx.Done():
		t.Fatal("cycle did not finish")
	}
}

func TestPipeline_RunOnce_CancelledWhileWaiting(t *testing.T) {
	fetcher := &mockFetcher{lines: feedLines(rowNewest, rowOldest)}
	poster := &mockPoster{last: "unrelated"}
	clock := clockwork.NewFakeClock()

	p := pipeline.New(fetcher, poster, nil, nil, pipeline.Options{
		PostInterval:     time.Minute,
		MaxPostsPerCycle: 20,
	}, clock, discardLogger(), observability.NewMetricsForTesting())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := p.RunOnce(ctx)
		errc <- err
	}()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	cancel()

	err := <-errc
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, poster.posted, 1)
}

func TestPipeline_RunOnce_RejectsConcurrentCycle(t *testing.T) {
	fetcher := &mockFetcher{lines: feedLines(rowNewest, rowOldest)}
	poster := &mockPoster{last: "unrelated"}
	clock := clockwork.NewFakeClock()

	p := pipeline.New(fetcher, poster, nil, nil, pipeline.Options{
		PostInterval:     time.Minute,
		MaxPostsPerCycle: 20,
	}, clock, discardLogger(), observability.NewMetricsForTesting())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		_, err := p.RunOnce(ctx)
		errc <- err
	}()

	// The first cycle is parked waiting between posts.
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))

	_, err := p.RunOnce(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrCycleInProgress)

	clock.Advance(time.Minute)
	require.NoError(t, <-errc)
}

func TestPipeline_Schedule_InvalidSpec(t *testing.T) {
	p := newPipeline(&mockFetcher{}, &mockPoster{}, nil, nil, pipeline.Options{})

	err := p.Schedule(context.Background(), "not a cron spec")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a cron spec")
}

func TestPipeline_Schedule_StopsOnCancel(t *testing.T) {
	fetcher := &mockFetcher{}
	p := newPipeline(fetcher, &mockPoster{}, nil, nil, pipeline.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Schedule(ctx, "@every 1h") }()

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, 0, fetcher.calls)
}
