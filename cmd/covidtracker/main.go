package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/go-co-op/gocron/v2"
	"github.com/hako/durafmt"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/liavyona/covid19-tracker/pkg"
	"github.com/liavyona/covid19-tracker/pkg/config"
	"github.com/liavyona/covid19-tracker/pkg/images"
	"github.com/liavyona/covid19-tracker/pkg/slot"
)

var version = "dev"

// CLI is the top-level command structure for covidtracker.
type CLI struct {
	Version    kong.VersionFlag `help:"Show version." short:"V"`
	Config     string           `help:"Path to a YAML config file." type:"path" env:"COVID_CONFIG"`
	Debug      bool             `help:"Enable debug logging."`
	Stats      StatsCmd         `cmd:"" help:"Fetch and print the current snapshot once."`
	Watch      WatchCmd         `cmd:"" help:"Refresh the snapshot on every refresh interval."`
	Images     ImagesCmd        `cmd:"" help:"Search background images."`
	Background BackgroundCmd    `cmd:"" help:"Manage the shared background image."`
	History    HistoryCmd       `cmd:"" help:"List recorded snapshots from ArangoDB."`
}

// app holds the components shared by every command.
type app struct {
	ctx      context.Context
	cfg      config.Config
	out      io.Writer
	logger   zerolog.Logger
	timeline *pkg.Timeline
	cache    *images.Cache
	loader   *images.Loader
	search   *images.SearchClient
	slot     *slot.Store
	history  func() (snapshotHistory, error)
}

type snapshotHistory interface {
	LatestSnapshots(ctx context.Context, country string, limit int) ([]pkg.SnapshotDocument, error)
}

func newApp(ctx context.Context, cfg config.Config, out io.Writer, logger zerolog.Logger) *app {
	api := &pkg.StatsAPI{
		URL:    cfg.Stats.URL,
		Client: &http.Client{Timeout: cfg.Stats.FetchTimeout},
	}
	cache := images.NewCache()
	loader := images.NewLoader(cache, &images.HTTPFetcher{UserAgent: "covidtracker/" + version}, logger)
	loader.SetTimeout(cfg.Images.FetchTimeout)
	return &app{
		ctx:    ctx,
		cfg:    cfg,
		out:    out,
		logger: logger,
		timeline: pkg.NewTimeline(api,
			pkg.WithLogger(logger),
			pkg.WithFetchTimeout(cfg.Stats.FetchTimeout)),
		cache:  cache,
		loader: loader,
		search: images.NewSearchClient(cfg.Images.AccessKey,
			images.WithSearchURL(cfg.Images.SearchURL),
			images.WithSearchLogger(logger)),
		slot:    slot.NewStore(cfg.Background.Dir, logger),
		history: func() (snapshotHistory, error) {
			if !cfg.Arango.Enabled() {
				return nil, errors.New("arango is not configured, set ARANGO_ENDPOINT")
			}
			db, err := pkg.ConnectToArango(cfg.Arango.Endpoint, cfg.Arango.Username,
				cfg.Arango.Password, cfg.Arango.Certificate, cfg.Arango.Database)
			if err != nil {
				return nil, err
			}
			return db, nil
		},
	}
}

// StatsCmd runs one refresh cycle.
type StatsCmd struct {
	Country string `help:"Country key (jap, usa, kor, chi). Empty for general stats." short:"c"`
}

func (c *StatsCmd) Run(a *app) error {
	entry := a.timeline.CurrentEntry(a.ctx, c.Country)
	printEntry(a.out, c.Country, entry, time.Now())
	return nil
}

// WatchCmd refreshes on the fixed cadence until interrupted.
type WatchCmd struct {
	Country string `help:"Country key (jap, usa, kor, chi). Empty for general stats." short:"c"`
}

func (c *WatchCmd) Run(a *app) error {
	printEntry(a.out, c.Country, a.timeline.Placeholder(c.Country), time.Now())

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("watch: create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(pkg.RefreshInterval),
		gocron.NewTask(func() {
			entry := a.timeline.CurrentEntry(a.ctx, c.Country)
			printEntry(a.out, c.Country, entry, time.Now())
		}),
		gocron.WithName("refresh:"+countryLabel(c.Country)),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("watch: create refresh job: %w", err)
	}
	s.Start()
	a.logger.Info().Str("country", c.Country).Dur("interval", pkg.RefreshInterval).Msg("Watching snapshots")
	<-a.ctx.Done()
	if err := s.Shutdown(); err != nil {
		return fmt.Errorf("watch: shutdown scheduler: %w", err)
	}
	return nil
}

type ImagesCmd struct {
	Search ImagesSearchCmd `cmd:"" help:"Search images by query."`
}

type ImagesSearchCmd struct {
	Query    string `arg:"" help:"Search query."`
	Page     int    `help:"Result page." default:"1"`
	Prefetch bool   `help:"Download every result into the in-memory cache."`
}

func (c *ImagesSearchCmd) Run(a *app) error {
	results, err := a.search.Search(a.ctx, c.Query, c.Page)
	if err != nil {
		return fmt.Errorf("images search: %w", err)
	}
	urls := make([]string, 0, len(results))
	for i, r := range results {
		fmt.Fprintf(a.out, "%2d  %s  %s\n", i+1, r.ID, r.URLs.Regular)
		urls = append(urls, r.URLs.Regular)
	}
	if c.Prefetch && len(urls) > 0 {
		loaded := a.loader.Prefetch(a.ctx, urls, a.cfg.Images.PrefetchLimit)
		var total uint64
		for _, u := range urls {
			if img, ok := a.cache.Get(u); ok {
				total += uint64(img.Size())
			}
		}
		fmt.Fprintf(a.out, "cached %d/%d images (%s)\n", loaded, len(urls), humanize.Bytes(total))
	}
	return nil
}

type BackgroundCmd struct {
	Set   BackgroundSetCmd   `cmd:"" help:"Download an image and make it the shared background."`
	Show  BackgroundShowCmd  `cmd:"" help:"Describe the current shared background."`
	Watch BackgroundWatchCmd `cmd:"" help:"Report every change to the shared background."`
}

type BackgroundSetCmd struct {
	URL string `arg:"" help:"Image URL, usually one printed by 'images search'."`
}

func (c *BackgroundSetCmd) Run(a *app) error {
	h := a.loader.Load(a.ctx, c.URL, nil)
	img, ok := h.Wait(a.ctx)
	if !ok {
		return fmt.Errorf("background set: could not load image from %s", h.Key())
	}
	if err := a.slot.Write(img.Data); err != nil {
		return fmt.Errorf("background set: %w", err)
	}
	fmt.Fprintf(a.out, "background set to %s (%s)\n", c.URL, a.slot.Path())
	return nil
}

type BackgroundShowCmd struct{}

func (c *BackgroundShowCmd) Run(a *app) error {
	describeBackground(a.out, a.slot)
	return nil
}

type BackgroundWatchCmd struct{}

func (c *BackgroundWatchCmd) Run(a *app) error {
	describeBackground(a.out, a.slot)
	a.logger.Info().Str("dir", a.slot.Dir()).Msg("Watching background slot")
	return a.slot.Watch(a.ctx, func() {
		describeBackground(a.out, a.slot)
	})
}

// HistoryCmd lists the most recent recorded snapshots, newest first.
type HistoryCmd struct {
	Country string `help:"Country key (jap, usa, kor, chi). Empty for general stats." short:"c"`
	Limit   int    `help:"Number of snapshots to list." default:"10"`
}

func (c *HistoryCmd) Run(a *app) error {
	store, err := a.history()
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	docs, err := store.LatestSnapshots(a.ctx, c.Country, c.Limit)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	printHistory(a.out, c.Country, docs)
	return nil
}

func printHistory(w io.Writer, country string, docs []pkg.SnapshotDocument) {
	if len(docs) == 0 {
		fmt.Fprintf(w, "no snapshots recorded for %s\n", countryLabel(country))
		return
	}
	for _, doc := range docs {
		state := "fetched"
		if doc.IsDefault {
			state = "placeholder"
		}
		fmt.Fprintf(w, "%s  %s %s  %s  last update %v\n",
			time.Unix(doc.Date, 0).UTC().Format(time.RFC3339), doc.Kind, countryLabel(doc.Country),
			state, doc.Record["last_update"])
	}
}

func describeBackground(w io.Writer, store *slot.Store) {
	data, ok := store.ReadIfPresent()
	if !ok {
		fmt.Fprintln(w, "no background committed, using the built-in default")
		return
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		fmt.Fprintf(w, "background at %s is unreadable, using the built-in default\n", store.Path())
		return
	}
	fmt.Fprintf(w, "background %dx%d, %s, at %s\n", cfg.Width, cfg.Height, humanize.Bytes(uint64(len(data))), store.Path())
}

func printEntry(w io.Writer, country string, entry pkg.TimelineEntry, now time.Time) {
	remaining := entry.ValidUntil().Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	fmt.Fprintf(w, "%s %s, updated %s, valid for %s\n",
		entry.Record.Kind(), countryLabel(country),
		pkg.DisplayDate(entry.Record.UpdatedAt()),
		durafmt.Parse(remaining.Round(time.Second)).LimitFirstN(2).String())
	if pkg.IsDefault(entry.Record) {
		fmt.Fprintln(w, "  (no fresh data, showing placeholder)")
	}

	switch r := entry.Record.(type) {
	case *pkg.GeneralStats:
		printFields(w, "  ", r.Fields())
	case *pkg.CountryStatus:
		for _, row := range r.Countries {
			fmt.Fprintf(w, "  %s (%s)\n", row.Country, row.CountryAbbreviation)
			printFields(w, "    ", row.Fields())
		}
	}
}

func printFields(w io.Writer, indent string, fields map[string]interface{}) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s%-34s %v\n", indent, name, fields[name])
	}
}

func countryLabel(country string) string {
	if country == "" {
		return "global"
	}
	return country
}

func newLogger(debug bool, level string) zerolog.Logger {
	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	if debug {
		return logger.Level(zerolog.DebugLevel)
	}
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		return logger.Level(lvl)
	}
	return logger.Level(zerolog.InfoLevel)
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("covidtracker"),
		kong.Description("COVID-19 status snapshots and shared widget backgrounds."),
		kong.Vars{"version": version},
	)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(ctx, cfg, os.Stdout, newLogger(cli.Debug, cfg.Log.Level))
	if err := kctx.Run(a); err != nil {
		var ioErr *slot.IOError
		if errors.As(err, &ioErr) {
			fmt.Fprintf(os.Stderr, "error: background was not saved: %s\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "error: %s\n", err)
		}
		stop()
		os.Exit(1)
	}
}
