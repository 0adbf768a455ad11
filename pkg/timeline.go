package pkg

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const DefaultFetchTimeout = 10 * time.Second

// Fetcher is the single-attempt source a Timeline draws records from.
type Fetcher interface {
	Fetch(ctx context.Context, kind RecordKind, filter string) (StatusRecord, error)
}

// Timeline produces one TimelineEntry per refresh cycle. The host decides
// when a cycle runs; Timeline decides what the entry holds and how long it
// stays valid.
type Timeline struct {
	fetcher Fetcher
	logger  zerolog.Logger
	now     func() time.Time
	timeout time.Duration
}

type TimelineOption func(*Timeline)

func WithLogger(logger zerolog.Logger) TimelineOption {
	return func(t *Timeline) { t.logger = logger }
}

// WithClock replaces time.Now as the source of cycle start times.
func WithClock(now func() time.Time) TimelineOption {
	return func(t *Timeline) { t.now = now }
}

// WithFetchTimeout bounds how long a cycle waits for its fetch. Non-positive values are ignored.
func WithFetchTimeout(d time.Duration) TimelineOption {
	return func(t *Timeline) {
		if d > 0 {
			t.timeout = d
		}
	}
}

func NewTimeline(fetcher Fetcher, opts ...TimelineOption) *Timeline {
	t := &Timeline{
		fetcher: fetcher,
		logger:  zerolog.Nop(),
		now:     time.Now,
		timeout: DefaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type fetchResult struct {
	record StatusRecord
	err    error
}

// CurrentEntry runs one refresh cycle for selectionKey. An empty key selects
// the general stats; any other key is passed verbatim as the country search.
// It never fails: when the fetch errors, times out or reports a non-success
// status, the entry carries the default record for the requested kind.
func (t *Timeline) CurrentEntry(ctx context.Context, selectionKey string) TimelineEntry {
	started := t.now()
	kind := KindFor(selectionKey)

	fetchCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	// Buffered so a result arriving after the deadline is dropped without blocking.
	results := make(chan fetchResult, 1)
	go func() {
		record, err := t.fetcher.Fetch(fetchCtx, kind, selectionKey)
		results <- fetchResult{record: record, err: err}
	}()

	var record StatusRecord
	select {
	case res := <-results:
		switch {
		case res.err != nil:
			t.logger.Warn().Err(res.err).Str("kind", string(kind)).Str("country", selectionKey).
				Msg("Fetch failed, using default record")
		case res.record == nil:
			t.logger.Warn().Str("kind", string(kind)).Str("country", selectionKey).
				Msg("Fetch returned no record, using default record")
		case res.record.StatusTag() != StatusSuccess:
			t.logger.Warn().Str("kind", string(kind)).Str("country", selectionKey).
				Str("status", res.record.StatusTag()).Msg("Non-success status, using default record")
		default:
			record = res.record
		}
	case <-fetchCtx.Done():
		t.logger.Warn().Err(fetchCtx.Err()).Str("kind", string(kind)).Str("country", selectionKey).
			Msg("Fetch did not complete in time, using default record")
	}
	if record == nil {
		record = DefaultRecord(kind)
	}

	entry := TimelineEntry{Date: started, Record: record}
	t.logger.Debug().Str("kind", string(kind)).Str("country", selectionKey).
		Str("last_update", record.UpdatedAt()).Time("valid_until", entry.ValidUntil()).
		Msg("Produced timeline entry")
	return entry
}

// Placeholder returns an entry holding the default record, without any network call.
// Hosts show it while the first real cycle is still running.
func (t *Timeline) Placeholder(selectionKey string) TimelineEntry {
	return TimelineEntry{Date: t.now(), Record: DefaultRecord(KindFor(selectionKey))}
}
