package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/fire-dispatch-etl/internal/domain"
	"github.com/couchcryptid/fire-dispatch-etl/internal/observability"
)

// ErrCycleInProgress is returned by RunOnce when another cycle is still running.
var ErrCycleInProgress = errors.New("reconcile cycle already in progress")

// ledgerRetention is how long posted incidents are remembered. Incident IDs
// repeat across days, and the feed only lists the current day.
const ledgerRetention = 48 * time.Hour

// FeedFetcher downloads the dispatch feed as lines.
type FeedFetcher interface {
	FetchFeed(ctx context.Context) ([]string, error)
}

// StatusPoster publishes statuses and reports the most recent one. LastStatus
// returns domain.ErrNoPriorStatus when nothing has been posted yet.
type StatusPoster interface {
	LastStatus(ctx context.Context) (string, error)
	PostStatus(ctx context.Context, text string) error
}

// IncidentLoader writes incidents to a downstream sink.
type IncidentLoader interface {
	LoadBatch(ctx context.Context, incidents []domain.Incident) error
}

// PostedLedger remembers which incidents have been posted.
type PostedLedger interface {
	Posted(ctx context.Context, incident domain.Incident) (bool, error)
	Record(ctx context.Context, incident domain.Incident, postedAt time.Time) error
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Options tune posting behaviour.
type Options struct {
	DryRun           bool
	PostInterval     time.Duration
	MaxPostsPerCycle int
	Hashtag          string
}

// Result summarizes one reconcile cycle.
type Result struct {
	Parsed  int `json:"parsed"`
	Pending int `json:"pending"`
	Posted  int `json:"posted"`
	Failed  int `json:"failed"`
}

// Pipeline runs fetch-parse-post reconcile cycles.
type Pipeline struct {
	fetcher FeedFetcher
	poster  StatusPoster
	loader  IncidentLoader // optional
	ledger  PostedLedger   // optional
	opts    Options
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	running sync.Mutex
	ready   atomic.Bool
}

// New creates a Pipeline. loader and ledger may be nil.
func New(f FeedFetcher, p StatusPoster, l IncidentLoader, ledger PostedLedger, opts Options, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if opts.MaxPostsPerCycle < 1 {
		opts.MaxPostsPerCycle = 1
	}
	return &Pipeline{
		fetcher: f,
		poster:  p,
		loader:  l,
		ledger:  ledger,
		opts:    opts,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// CheckReadiness returns nil once a cycle has completed successfully.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a cycle yet")
	}
	return nil
}

// RunOnce runs a single reconcile cycle: fetch the feed, parse it, work out
// which incidents are newer than the last posted status, publish them to the
// sink, and post them oldest first. A fetch, parse, or status lookup failure
// aborts the cycle. A failed post is logged and the cycle moves on.
func (p *Pipeline) RunOnce(ctx context.Context) (Result, error) {
	if !p.running.TryLock() {
		p.metrics.Cycles.WithLabelValues("busy").Inc()
		return Result{}, ErrCycleInProgress
	}
	defer p.running.Unlock()

	start := p.clock.Now()
	var res Result

	lines, err := p.fetcher.FetchFeed(ctx)
	if err != nil {
		p.metrics.Cycles.WithLabelValues("fetch_error").Inc()
		return res, fmt.Errorf("fetch feed: %w", err)
	}

	incidents, err := domain.ParseIncidents(lines, domain.ParseOptions{
		OnUnknownUnit: func(token string) {
			p.metrics.UnknownUnits.Inc()
			p.logger.Warn("unknown unit type", "unit", token)
		},
	})
	if err != nil {
		p.metrics.Cycles.WithLabelValues("parse_error").Inc()
		return res, fmt.Errorf("parse feed: %w", err)
	}
	res.Parsed = len(incidents)
	p.metrics.IncidentsParsed.Add(float64(len(incidents)))

	pending, err := p.pending(ctx, incidents)
	if err != nil {
		p.metrics.Cycles.WithLabelValues("status_error").Inc()
		return res, err
	}
	res.Pending = len(pending)
	p.metrics.IncidentsPending.Set(float64(len(pending)))
	p.logger.Info("found incidents to post", "parsed", res.Parsed, "pending", res.Pending)

	p.load(ctx, pending)

	for i, incident := range pending {
		if i > 0 && !p.wait(ctx) {
			return res, ctx.Err()
		}
		if p.post(ctx, incident) {
			res.Posted++
		} else {
			res.Failed++
		}
	}

	p.prune(ctx)

	p.metrics.Cycles.WithLabelValues("success").Inc()
	p.metrics.CycleDuration.Observe(p.clock.Since(start).Seconds())
	p.ready.Store(true)
	return res, nil
}

// pending selects the incidents to post this cycle, oldest first.
func (p *Pipeline) pending(ctx context.Context, incidents []domain.Incident) ([]domain.Incident, error) {
	limit := p.opts.MaxPostsPerCycle

	last, err := p.poster.LastStatus(ctx)
	switch {
	case errors.Is(err, domain.ErrNoPriorStatus):
		p.logger.Info("no prior status, posting only the newest incident")
		limit = 1
	case err != nil:
		return nil, fmt.Errorf("get last status: %w", err)
	default:
		p.logger.Debug("last status", "text", last)
	}

	pending := domain.PendingIncidents(incidents, last)

	if p.ledger != nil {
		kept := pending[:0]
		for _, incident := range pending {
			posted, err := p.ledger.Posted(ctx, incident)
			if err != nil {
				return nil, fmt.Errorf("check ledger: %w", err)
			}
			if posted {
				p.logger.Debug("incident already posted", "incident_id", incident.IncidentID)
				continue
			}
			kept = append(kept, incident)
		}
		pending = kept
	}

	if len(pending) > limit {
		p.logger.Warn("too many pending incidents, keeping the newest",
			"pending", len(pending), "limit", limit)
		pending = pending[len(pending)-limit:]
	}
	return pending, nil
}

func (p *Pipeline) load(ctx context.Context, incidents []domain.Incident) {
	if p.loader == nil || len(incidents) == 0 {
		return
	}
	if err := p.loader.LoadBatch(ctx, incidents); err != nil {
		p.metrics.SinkErrors.Inc()
		p.logger.Error("load incidents failed", "error", err, "count", len(incidents))
		return
	}
	p.metrics.SinkWrites.Add(float64(len(incidents)))
}

// post announces one incident and reports whether it succeeded.
func (p *Pipeline) post(ctx context.Context, incident domain.Incident) bool {
	status := domain.FormatStatus(incident, p.opts.Hashtag)
	p.logger.Info("new status", "incident_id", incident.IncidentID, "length", len(status), "text", status)

	if p.opts.DryRun {
		return true
	}

	if err := p.poster.PostStatus(ctx, status); err != nil {
		p.metrics.PostErrors.Inc()
		p.logger.Error("post status failed", "incident_id", incident.IncidentID, "error", err)
		return false
	}
	p.metrics.StatusesPosted.Inc()

	if p.ledger != nil {
		if err := p.ledger.Record(ctx, incident, p.clock.Now()); err != nil {
			p.logger.Warn("record posted incident failed", "incident_id", incident.IncidentID, "error", err)
		}
	}
	return true
}

// wait sleeps for the post interval. Returns false if ctx ended first.
func (p *Pipeline) wait(ctx context.Context) bool {
	if p.opts.PostInterval <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-p.clock.After(p.opts.PostInterval):
		return true
	}
}

func (p *Pipeline) prune(ctx context.Context) {
	if p.ledger == nil {
		return
	}
	n, err := p.ledger.Prune(ctx, p.clock.Now().Add(-ledgerRetention))
	if err != nil {
		p.logger.Warn("prune ledger failed", "error", err)
		return
	}
	if n > 0 {
		p.logger.Debug("ledger pruned", "removed", n)
	}
}
