package pkg

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

type stubFetcher struct {
	calls  atomic.Int32
	delay  time.Duration
	record StatusRecord
	err    error
	gotKey string
	gotKnd RecordKind
}

func (f *stubFetcher) Fetch(ctx context.Context, kind RecordKind, filter string) (StatusRecord, error) {
	f.calls.Add(1)
	f.gotKey = filter
	f.gotKnd = kind
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, &TransportError{URL: "stub", Err: ctx.Err()}
		}
	}
	return f.record, f.err
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

var cycleStart = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestCurrentEntryFallsBackToDefaultOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		fetcher *stubFetcher
		want    StatusRecord
	}{
		{"general transport error", "", &stubFetcher{err: &TransportError{URL: "x", Err: errors.New("boom")}}, DefaultGeneralStats()},
		{"general decode error", "", &stubFetcher{err: &DecodeError{Kind: KindGeneralStats, Field: "data"}}, DefaultGeneralStats()},
		{"general non-success status", "", &stubFetcher{record: &GeneralStats{TotalCases: "1", Status: "error"}}, DefaultGeneralStats()},
		{"country transport error", "usa", &stubFetcher{err: &TransportError{URL: "x", Err: errors.New("boom")}}, DefaultCountryStatus()},
		{"country nil record", "kor", &stubFetcher{}, DefaultCountryStatus()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := NewTimeline(tt.fetcher, WithClock(fixedClock(cycleStart)))

			entry := tl.CurrentEntry(context.Background(), tt.key)

			if !reflect.DeepEqual(entry.Record, tt.want) {
				t.Errorf("Record = %#v, want %#v", entry.Record, tt.want)
			}
			if !IsDefault(entry.Record) {
				t.Errorf("IsDefault() = false")
			}
			if !entry.Date.Equal(cycleStart) {
				t.Errorf("Date = %v, want %v", entry.Date, cycleStart)
			}
			if got := tt.fetcher.calls.Load(); got != 1 {
				t.Errorf("fetch calls = %d, want 1", got)
			}
		})
	}
}

func TestCurrentEntryDefaultSentinels(t *testing.T) {
	tl := NewTimeline(&stubFetcher{err: errors.New("down")})

	stats, ok := tl.CurrentEntry(context.Background(), "").GeneralStats()
	if !ok {
		t.Fatal("GeneralStats() ok = false")
	}
	for name, v := range stats.Fields() {
		switch name {
		case "last_update":
			if v != "XXX, 00 0000, 00:00, UTC" {
				t.Errorf("%s = %v", name, v)
			}
		case "status":
			if v != "success" {
				t.Errorf("%s = %v", name, v)
			}
		default:
			if v != "N/A" {
				t.Errorf("%s = %v, want N/A", name, v)
			}
		}
	}
}

func TestCurrentEntryKeepsCycleStartForSlowFetch(t *testing.T) {
	// Given a fetch that resolves well after the cycle started
	var now atomic.Int64
	now.Store(cycleStart.UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()).UTC() }
	fetched := &GeneralStats{TotalCases: "500", Status: StatusSuccess}
	fetcher := &stubFetcher{record: fetched, delay: 30 * time.Millisecond}
	tl := NewTimeline(fetcher, WithClock(clock))

	go func() {
		time.Sleep(5 * time.Millisecond)
		now.Store(cycleStart.Add(time.Minute).UnixNano())
	}()

	// When the cycle runs
	entry := tl.CurrentEntry(context.Background(), "")

	// Then the entry is stamped with the start instant and carries the fetched record
	if !entry.Date.Equal(cycleStart) {
		t.Errorf("Date = %v, want %v", entry.Date, cycleStart)
	}
	if !entry.ValidUntil().Equal(cycleStart.Add(5 * time.Minute)) {
		t.Errorf("ValidUntil = %v, want %v", entry.ValidUntil(), cycleStart.Add(5*time.Minute))
	}
	if entry.Record != fetched {
		t.Errorf("Record = %#v, want fetched record", entry.Record)
	}
}

func TestCurrentEntrySelectsKindByKey(t *testing.T) {
	fetcher := &stubFetcher{record: &CountryStatus{Status: StatusSuccess, Countries: []CountryEntry{{Country: "Japan"}}}}
	tl := NewTimeline(fetcher)

	entry := tl.CurrentEntry(context.Background(), "jap")

	if fetcher.gotKnd != KindCountryStatus || fetcher.gotKey != "jap" {
		t.Errorf("fetch(%q, %q), want (%q, %q)", fetcher.gotKnd, fetcher.gotKey, KindCountryStatus, "jap")
	}
	if got := entry.Countries(); len(got) != 1 || got[0].Country != "Japan" {
		t.Errorf("Countries() = %+v", got)
	}
}

func TestCurrentEntryCountryTimeout(t *testing.T) {
	// Given a country search that never answers in time
	release := make(chan struct{})
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	tl := NewTimeline(api, WithFetchTimeout(50*time.Millisecond), WithClock(fixedClock(cycleStart)))

	// When the cycle runs
	entry := tl.CurrentEntry(context.Background(), "usa")

	// Then the entry holds exactly the default country
	want := []CountryEntry{DefaultCountry()}
	if !reflect.DeepEqual(entry.Countries(), want) {
		t.Errorf("Countries() = %+v, want %+v", entry.Countries(), want)
	}
	if entry.Countries()[0].CountryAbbreviation != "XX" {
		t.Errorf("abbreviation = %q, want XX", entry.Countries()[0].CountryAbbreviation)
	}
}

func TestCurrentEntryFromStatsEndpoint(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(generalStatsPayload))
	})
	tl := NewTimeline(api)

	stats, ok := tl.CurrentEntry(context.Background(), "").GeneralStats()
	if !ok {
		t.Fatal("GeneralStats() ok = false")
	}
	if stats.TotalCases != "500" {
		t.Errorf("TotalCases = %q, want 500", stats.TotalCases)
	}
}

func TestCurrentEntryCyclesAreIndependent(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("down")}
	tl := NewTimeline(fetcher)

	first := tl.CurrentEntry(context.Background(), "")
	fetcher.err = nil
	fetcher.record = &GeneralStats{TotalCases: "7", Status: StatusSuccess}
	second := tl.CurrentEntry(context.Background(), "")

	if !IsDefault(first.Record) {
		t.Errorf("first entry should hold the default record")
	}
	if s, _ := second.GeneralStats(); s == nil || s.TotalCases != "7" {
		t.Errorf("second entry = %#v", second.Record)
	}
	if got := fetcher.calls.Load(); got != 2 {
		t.Errorf("fetch calls = %d, want 2", got)
	}
}

func TestPlaceholder(t *testing.T) {
	fetcher := &stubFetcher{}
	tl := NewTimeline(fetcher, WithClock(fixedClock(cycleStart)))

	entry := tl.Placeholder("chi")

	if fetcher.calls.Load() != 0 {
		t.Errorf("Placeholder issued a fetch")
	}
	if !reflect.DeepEqual(entry.Record, DefaultCountryStatus()) {
		t.Errorf("Record = %#v", entry.Record)
	}
	if !entry.Date.Equal(cycleStart) {
		t.Errorf("Date = %v", entry.Date)
	}
}

func TestCurrentEntryCancelledParentContext(t *testing.T) {
	// Given a host whose context is already cancelled
	fetcher := &stubFetcher{record: &GeneralStats{TotalCases: "9", Status: StatusSuccess}, delay: time.Second}
	tl := NewTimeline(fetcher, WithClock(fixedClock(cycleStart)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// When a cycle runs
	entry := tl.CurrentEntry(ctx, "")

	// Then it still yields the default record stamped with the cycle start
	if !reflect.DeepEqual(entry.Record, DefaultGeneralStats()) {
		t.Errorf("Record = %#v, want default", entry.Record)
	}
	if !entry.Date.Equal(cycleStart) {
		t.Errorf("Date = %v, want %v", entry.Date, cycleStart)
	}
}
