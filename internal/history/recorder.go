package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stockleague/league-engine/internal/league"
	"github.com/stockleague/league-engine/internal/marketdata"
	"github.com/stockleague/league-engine/internal/metrics"
	"github.com/stockleague/league-engine/internal/model"
)

// SnapshotStore is the persistence the recorder needs.
type SnapshotStore interface {
	ListLeagues(ctx context.Context) ([]*league.League, error)
	InsertSnapshot(ctx context.Context, s model.Snapshot) error
}

// PriceFeed supplies the live price snapshot used to value holdings.
type PriceFeed interface {
	Latest() *marketdata.Prices
}

// Recorder values every member of every active league on a cron schedule
// and appends the result as a snapshot.
type Recorder struct {
	store  SnapshotStore
	prices PriceFeed
	now    func() time.Time
	cron   *cron.Cron
}

// NewRecorder parses schedule (standard cron or "@every 10s" form) and
// returns a stopped recorder.
func NewRecorder(store SnapshotStore, prices PriceFeed, schedule string) (*Recorder, error) {
	r := &Recorder{
		store:  store,
		prices: prices,
		now:    time.Now,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	_, err := r.cron.AddFunc(schedule, func() {
		n, err := r.RecordAll(context.Background())
		if err != nil {
			slog.Warn("snapshot run failed", "recorded", n, "error", err)
			return
		}
		slog.Debug("snapshots recorded", "count", n)
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot schedule %q: %w", schedule, err)
	}
	return r, nil
}

// WithClock replaces time.Now for snapshot timestamps.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Start runs the schedule in the background.
func (r *Recorder) Start() { r.cron.Start() }

// Stop halts the schedule and waits for a running job to finish or ctx to
// expire.
func (r *Recorder) Stop(ctx context.Context) {
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// RecordAll writes one snapshot per member of each active league. It keeps
// going past individual insert failures and returns the first one.
func (r *Recorder) RecordAll(ctx context.Context) (int, error) {
	leagues, err := r.store.ListLeagues(ctx)
	if err != nil {
		return 0, err
	}
	prices := r.prices.Latest().Map()
	taken := r.now().UTC()

	var firstErr error
	n := 0
	for _, l := range leagues {
		l.SetClock(r.now)
		if l.ID == nil || !l.Active() {
			continue
		}
		for _, p := range l.Players() {
			p.Reprice(prices)
			err := r.store.InsertSnapshot(ctx, model.Snapshot{
				LeagueID: *l.ID,
				PlayerID: p.ID,
				Value:    p.TotalValue(),
				Cash:     p.Cash(),
				Taken:    taken,
			})
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("snapshot %s in league %d: %w", p.ID, *l.ID, err)
				}
				continue
			}
			n++
			metrics.SnapshotsRecorded.Inc()
		}
	}
	return n, firstErr
}
