package pkg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/context/ctxhttp"
)

const DefaultStatsURL = "https://corona-virus-stats.herokuapp.com/api/v1/cases"

// StatsAPI fetches status snapshots from the corona-virus-stats service.
// Every call is a single attempt.
type StatsAPI struct {
	URL    string
	Client *http.Client
}

type generalStatsData struct {
	TotalCases                     *string `json:"total_cases"`
	RecoveryCases                  *string `json:"recovery_cases"`
	DeathCases                     *string `json:"death_cases"`
	LastUpdate                     *string `json:"last_update"`
	CurrentlyInfected              *string `json:"currently_infected"`
	CasesWithOutcome               *string `json:"cases_with_outcome"`
	MildConditionActiveCases       *string `json:"mild_condition_active_cases"`
	CriticalConditionActiveCases   *string `json:"critical_condition_active_cases"`
	RecoveredClosedCases           *string `json:"recovered_closed_cases"`
	DeathClosedCases               *string `json:"death_closed_cases"`
	ClosedCasesRecoveredPercentage *string `json:"closed_cases_recovered_percentage"`
	ClosedCasesDeathPercentage     *string `json:"closed_cases_death_percentage"`
	ActiveCasesMildPercentage      *string `json:"active_cases_mild_percentage"`
	ActiveCasesCriticalPercentage  *string `json:"active_cases_critical_percentage"`
	GeneralDeathRate               *string `json:"general_death_rate"`
}

type countryRow struct {
	Country             *string `json:"country"`
	CountryAbbreviation *string `json:"country_abbreviation"`
	TotalCases          *string `json:"total_cases"`
	NewCases            *string `json:"new_cases"`
	TotalDeaths         *string `json:"total_deaths"`
	NewDeaths           *string `json:"new_deaths"`
	TotalRecovered      *string `json:"total_recovered"`
	ActiveCases         *string `json:"active_cases"`
	SeriousCritical     *string `json:"serious_critical"`
	CasesPerMillPop     *string `json:"cases_per_mill_pop"`
	Flag                *string `json:"flag"`
}

type countrySearchData struct {
	LastUpdate *string      `json:"last_update"`
	Rows       []countryRow `json:"rows"`
}

type generalStatsEnvelope struct {
	Status *string           `json:"status"`
	Data   *generalStatsData `json:"data"`
}

type countrySearchEnvelope struct {
	Status *string            `json:"status"`
	Data   *countrySearchData `json:"data"`
}

// fieldReader copies decoded values and remembers the first absent one.
type fieldReader struct {
	missing string
}

func (r *fieldReader) read(name string, src *string, dst *string) {
	if src == nil {
		if r.missing == "" {
			r.missing = name
		}
		return
	}
	*dst = *src
}

func (api *StatsAPI) client() *http.Client {
	if api.Client != nil {
		return api.Client
	}
	return http.DefaultClient
}

func (api *StatsAPI) baseURL() string {
	base := strings.TrimSpace(api.URL)
	if base == "" {
		base = DefaultStatsURL
	}
	return strings.TrimRight(base, "/")
}

// ResourceURL builds the request URL for kind. filter is only used for country searches.
func (api *StatsAPI) ResourceURL(kind RecordKind, filter string) string {
	if kind == KindCountryStatus {
		return fmt.Sprintf("%s/%s?search=%s", api.baseURL(), KindCountryStatus, url.QueryEscape(filter))
	}
	return fmt.Sprintf("%s/%s", api.baseURL(), KindGeneralStats)
}

// Fetch performs one request for kind and decodes it strictly.
func (api *StatsAPI) Fetch(ctx context.Context, kind RecordKind, filter string) (StatusRecord, error) {
	if kind == KindCountryStatus {
		status, err := api.FetchCountryStatus(ctx, filter)
		if err != nil {
			return nil, err
		}
		return status, nil
	}
	stats, err := api.FetchGeneralStats(ctx)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (api *StatsAPI) FetchGeneralStats(ctx context.Context) (*GeneralStats, error) {
	body, err := api.get(ctx, api.ResourceURL(KindGeneralStats, ""))
	if err != nil {
		return nil, err
	}
	return decodeGeneralStats(body)
}

func (api *StatsAPI) FetchCountryStatus(ctx context.Context, country string) (*CountryStatus, error) {
	body, err := api.get(ctx, api.ResourceURL(KindCountryStatus, country))
	if err != nil {
		return nil, err
	}
	return decodeCountryStatus(body)
}

func (api *StatsAPI) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, &TransportError{URL: target, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := ctxhttp.Do(ctx, api.client(), req)
	if err != nil {
		return nil, &TransportError{URL: target, Err: err}
	}
	defer resp.Body.Close() // nolint: errcheck
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{URL: target, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: target, Err: err}
	}
	return body, nil
}

func decodeGeneralStats(body []byte) (*GeneralStats, error) {
	var envelope generalStatsEnvelope
	if err := unmarshalWire(body, &envelope); err != nil {
		return nil, &DecodeError{Kind: KindGeneralStats, Err: err}
	}
	if envelope.Status == nil {
		return nil, &DecodeError{Kind: KindGeneralStats, Field: "status"}
	}
	if envelope.Data == nil {
		return nil, &DecodeError{Kind: KindGeneralStats, Field: "data"}
	}
	d := envelope.Data
	stats := &GeneralStats{Status: *envelope.Status}
	var r fieldReader
	r.read("total_cases", d.TotalCases, &stats.TotalCases)
	r.read("recovery_cases", d.RecoveryCases, &stats.RecoveryCases)
	r.read("death_cases", d.DeathCases, &stats.DeathCases)
	r.read("last_update", d.LastUpdate, &stats.LastUpdate)
	r.read("currently_infected", d.CurrentlyInfected, &stats.CurrentlyInfected)
	r.read("cases_with_outcome", d.CasesWithOutcome, &stats.CasesWithOutcome)
	r.read("mild_condition_active_cases", d.MildConditionActiveCases, &stats.MildConditionActiveCases)
	r.read("critical_condition_active_cases", d.CriticalConditionActiveCases, &stats.CriticalConditionActiveCases)
	r.read("recovered_closed_cases", d.RecoveredClosedCases, &stats.RecoveredClosedCases)
	r.read("death_closed_cases", d.DeathClosedCases, &stats.DeathClosedCases)
	r.read("closed_cases_recovered_percentage", d.ClosedCasesRecoveredPercentage, &stats.ClosedCasesRecoveredPercentage)
	r.read("closed_cases_death_percentage", d.ClosedCasesDeathPercentage, &stats.ClosedCasesDeathPercentage)
	r.read("active_cases_mild_percentage", d.ActiveCasesMildPercentage, &stats.ActiveCasesMildPercentage)
	r.read("active_cases_critical_percentage", d.ActiveCasesCriticalPercentage, &stats.ActiveCasesCriticalPercentage)
	r.read("general_death_rate", d.GeneralDeathRate, &stats.GeneralDeathRate)
	if r.missing != "" {
		return nil, &DecodeError{Kind: KindGeneralStats, Field: "data." + r.missing}
	}
	return stats, nil
}

func decodeCountryStatus(body []byte) (*CountryStatus, error) {
	var envelope countrySearchEnvelope
	if err := unmarshalWire(body, &envelope); err != nil {
		return nil, &DecodeError{Kind: KindCountryStatus, Err: err}
	}
	if envelope.Status == nil {
		return nil, &DecodeError{Kind: KindCountryStatus, Field: "status"}
	}
	if envelope.Data == nil {
		return nil, &DecodeError{Kind: KindCountryStatus, Field: "data"}
	}
	if envelope.Data.LastUpdate == nil {
		return nil, &DecodeError{Kind: KindCountryStatus, Field: "data.last_update"}
	}
	if envelope.Data.Rows == nil {
		return nil, &DecodeError{Kind: KindCountryStatus, Field: "data.rows"}
	}
	if len(envelope.Data.Rows) == 0 {
		return nil, &DecodeError{Kind: KindCountryStatus, Err: errors.New("no rows in country search result")}
	}
	status := &CountryStatus{
		Status:      *envelope.Status,
		LastUpdated: *envelope.Data.LastUpdate,
		Countries:   make([]CountryEntry, 0, len(envelope.Data.Rows)),
	}
	for i, row := range envelope.Data.Rows {
		var entry CountryEntry
		var r fieldReader
		r.read("country", row.Country, &entry.Country)
		r.read("country_abbreviation", row.CountryAbbreviation, &entry.CountryAbbreviation)
		r.read("total_cases", row.TotalCases, &entry.TotalCases)
		r.read("new_cases", row.NewCases, &entry.NewCases)
		r.read("total_deaths", row.TotalDeaths, &entry.TotalDeaths)
		r.read("new_deaths", row.NewDeaths, &entry.NewDeaths)
		r.read("total_recovered", row.TotalRecovered, &entry.TotalRecovered)
		r.read("active_cases", row.ActiveCases, &entry.ActiveCases)
		r.read("serious_critical", row.SeriousCritical, &entry.SeriousCritical)
		r.read("cases_per_mill_pop", row.CasesPerMillPop, &entry.CasesPerMillPop)
		r.read("flag", row.Flag, &entry.Flag)
		if r.missing != "" {
			return nil, &DecodeError{Kind: KindCountryStatus, Field: fmt.Sprintf("data.rows[%d].%s", i, r.missing)}
		}
		status.Countries = append(status.Countries, entry)
	}
	return status, nil
}
