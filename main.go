package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/liavyona/covid19-tracker/pkg"
	"github.com/liavyona/covid19-tracker/pkg/config"
)

// StatusRequest selects which snapshot to produce. An empty country asks for the general stats.
type StatusRequest struct {
	Country string `json:"country"`
}

type StatusResponse struct {
	Kind        string                 `json:"kind"`
	Country     string                 `json:"country,omitempty"`
	Date        time.Time              `json:"date"`
	ValidUntil  time.Time              `json:"validUntil"`
	DisplayDate string                 `json:"displayDate"`
	IsDefault   bool                   `json:"isDefault"`
	Record      map[string]interface{} `json:"record"`
}

type snapshotRecorder interface {
	RecordEntry(ctx context.Context, logger *zerolog.Logger, country string, entry pkg.TimelineEntry) error
}

type statusHandler struct {
	timeline  *pkg.Timeline
	recorder  snapshotRecorder
	countries []string
	logger    zerolog.Logger
}

var handler *statusHandler

func init() {
	cfg, err := config.Load(os.Getenv("COVID_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	api := &pkg.StatsAPI{
		URL:    cfg.Stats.URL,
		Client: &http.Client{Timeout: cfg.Stats.FetchTimeout},
	}
	handler = &statusHandler{
		timeline: pkg.NewTimeline(api,
			pkg.WithLogger(log.Logger),
			pkg.WithFetchTimeout(cfg.Stats.FetchTimeout)),
		countries: cfg.Stats.Countries,
		logger:    log.Logger,
	}

	if cfg.Arango.Enabled() {
		arangoDb, err := pkg.ConnectToArango(
			cfg.Arango.Endpoint,
			cfg.Arango.Username,
			cfg.Arango.Password,
			cfg.Arango.Certificate,
			cfg.Arango.Database,
		)
		if err != nil {
			log.Error().Str("endpoint", cfg.Arango.Endpoint).Err(err).
				Msg("Error while connecting to arango db, snapshots will not be recorded")
		} else {
			handler.recorder = arangoDb
		}
	}
}

func (h *statusHandler) handle(ctx context.Context, req StatusRequest) (StatusResponse, error) {
	country := strings.ToLower(strings.TrimSpace(req.Country))
	if country != "" && len(h.countries) > 0 && !pkg.IsStringInlist(h.countries, country) {
		h.logger.Warn().Str("country", country).Strs("countries", h.countries).Msg("Unknown country requested")
		return StatusResponse{}, fmt.Errorf("unknown country %q", country)
	}

	entry := h.timeline.CurrentEntry(ctx, country)
	if h.recorder != nil {
		if err := h.recorder.RecordEntry(ctx, &h.logger, country, entry); err != nil {
			h.logger.Err(err).Str("country", country).Msg("Failed to record snapshot")
		}
	}

	resp := newStatusResponse(country, entry)
	h.logger.Info().Str("kind", resp.Kind).Str("country", country).Bool("default", resp.IsDefault).
		Time("valid_until", resp.ValidUntil).Msg("Served timeline entry")
	return resp, nil
}

func newStatusResponse(country string, entry pkg.TimelineEntry) StatusResponse {
	return StatusResponse{
		Kind:        string(entry.Record.Kind()),
		Country:     country,
		Date:        entry.Date,
		ValidUntil:  entry.ValidUntil(),
		DisplayDate: pkg.DisplayDate(entry.Record.UpdatedAt()),
		IsDefault:   pkg.IsDefault(entry.Record),
		Record:      entry.Record.Fields(),
	}
}

func handleStatusRequest(ctx context.Context, req StatusRequest) (StatusResponse, error) {
	return handler.handle(ctx, req)
}

func main() {
	lambda.Start(handleStatusRequest)
}
