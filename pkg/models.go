package pkg

import (
	"time"

	"github.com/fatih/structs"
)

// RefreshInterval is how long a TimelineEntry stays valid after its cycle started.
const RefreshInterval = 5 * time.Minute

const (
	NotAvailable       = "N/A"
	PlaceholderUpdate  = "XXX, 00 0000, 00:00, UTC"
	StatusSuccess      = "success"
	DefaultCountryFlag = "https://www.worldometers.info/img/flags/ja-flag.gif"
)

type RecordKind string

const (
	KindGeneralStats  RecordKind = "general-stats"
	KindCountryStatus RecordKind = "countries-search"
)

// StatusRecord is one normalised snapshot returned by the stats API.
// Every value is a presentation-ready string.
type StatusRecord interface {
	Kind() RecordKind
	StatusTag() string
	UpdatedAt() string
	Fields() map[string]interface{}
}

type GeneralStats struct {
	TotalCases                     string `json:"total_cases" structs:"total_cases"`
	RecoveryCases                  string `json:"recovery_cases" structs:"recovery_cases"`
	DeathCases                     string `json:"death_cases" structs:"death_cases"`
	LastUpdate                     string `json:"last_update" structs:"last_update"`
	CurrentlyInfected              string `json:"currently_infected" structs:"currently_infected"`
	CasesWithOutcome               string `json:"cases_with_outcome" structs:"cases_with_outcome"`
	MildConditionActiveCases       string `json:"mild_condition_active_cases" structs:"mild_condition_active_cases"`
	CriticalConditionActiveCases   string `json:"critical_condition_active_cases" structs:"critical_condition_active_cases"`
	RecoveredClosedCases           string `json:"recovered_closed_cases" structs:"recovered_closed_cases"`
	DeathClosedCases               string `json:"death_closed_cases" structs:"death_closed_cases"`
	ClosedCasesRecoveredPercentage string `json:"closed_cases_recovered_percentage" structs:"closed_cases_recovered_percentage"`
	ClosedCasesDeathPercentage     string `json:"closed_cases_death_percentage" structs:"closed_cases_death_percentage"`
	ActiveCasesMildPercentage      string `json:"active_cases_mild_percentage" structs:"active_cases_mild_percentage"`
	ActiveCasesCriticalPercentage  string `json:"active_cases_critical_percentage" structs:"active_cases_critical_percentage"`
	GeneralDeathRate               string `json:"general_death_rate" structs:"general_death_rate"`
	Status                         string `json:"status" structs:"status"`
}

func (s *GeneralStats) Kind() RecordKind { return KindGeneralStats }
func (s *GeneralStats) StatusTag() string { return s.Status }
func (s *GeneralStats) UpdatedAt() string { return s.LastUpdate }
func (s *GeneralStats) Fields() map[string]interface{} {
	return structs.Map(s)
}

type CountryEntry struct {
	Country             string `json:"country" structs:"country"`
	CountryAbbreviation string `json:"country_abbreviation" structs:"country_abbreviation"`
	TotalCases          string `json:"total_cases" structs:"total_cases"`
	NewCases            string `json:"new_cases" structs:"new_cases"`
	TotalDeaths         string `json:"total_deaths" structs:"total_deaths"`
	NewDeaths           string `json:"new_deaths" structs:"new_deaths"`
	TotalRecovered      string `json:"total_recovered" structs:"total_recovered"`
	ActiveCases         string `json:"active_cases" structs:"active_cases"`
	SeriousCritical     string `json:"serious_critical" structs:"serious_critical"`
	CasesPerMillPop     string `json:"cases_per_mill_pop" structs:"cases_per_mill_pop"`
	Flag                string `json:"flag" structs:"flag"`
}

func (c CountryEntry) Fields() map[string]interface{} {
	return structs.Map(c)
}

type CountryStatus struct {
	LastUpdated string         `json:"last_update" structs:"last_update"`
	Status      string         `json:"status" structs:"status"`
	Countries   []CountryEntry `json:"rows" structs:"rows"`
}

func (s *CountryStatus) Kind() RecordKind { return KindCountryStatus }
func (s *CountryStatus) StatusTag() string { return s.Status }
func (s *CountryStatus) UpdatedAt() string { return s.LastUpdated }

// Fields flattens the status; rows are expanded into one map per country.
func (s *CountryStatus) Fields() map[string]interface{} {
	rows := make([]interface{}, 0, len(s.Countries))
	for i := range s.Countries {
		rows = append(rows, s.Countries[i].Fields())
	}
	return map[string]interface{}{
		"last_update": s.LastUpdated,
		"status":      s.Status,
		"rows":        rows,
	}
}

// DefaultGeneralStats returns the placeholder shown whenever general stats are unavailable.
func DefaultGeneralStats() *GeneralStats {
	return &GeneralStats{
		TotalCases:                     NotAvailable,
		RecoveryCases:                  NotAvailable,
		DeathCases:                     NotAvailable,
		LastUpdate:                     PlaceholderUpdate,
		CurrentlyInfected:              NotAvailable,
		CasesWithOutcome:               NotAvailable,
		MildConditionActiveCases:       NotAvailable,
		CriticalConditionActiveCases:   NotAvailable,
		RecoveredClosedCases:           NotAvailable,
		DeathClosedCases:               NotAvailable,
		ClosedCasesRecoveredPercentage: NotAvailable,
		ClosedCasesDeathPercentage:     NotAvailable,
		ActiveCasesMildPercentage:      NotAvailable,
		ActiveCasesCriticalPercentage:  NotAvailable,
		GeneralDeathRate:               NotAvailable,
		Status:                         StatusSuccess,
	}
}

func DefaultCountry() CountryEntry {
	return CountryEntry{
		Country:             "Country",
		CountryAbbreviation: "XX",
		TotalCases:          NotAvailable,
		NewCases:            NotAvailable,
		TotalDeaths:         NotAvailable,
		NewDeaths:           NotAvailable,
		TotalRecovered:      NotAvailable,
		ActiveCases:         NotAvailable,
		SeriousCritical:     NotAvailable,
		CasesPerMillPop:     NotAvailable,
		Flag:                DefaultCountryFlag,
	}
}

func DefaultCountryStatus() *CountryStatus {
	return &CountryStatus{
		LastUpdated: PlaceholderUpdate,
		Status:      StatusSuccess,
		Countries:   []CountryEntry{DefaultCountry()},
	}
}

// DefaultRecord returns a fresh placeholder record for kind.
func DefaultRecord(kind RecordKind) StatusRecord {
	if kind == KindCountryStatus {
		return DefaultCountryStatus()
	}
	return DefaultGeneralStats()
}

// TimelineEntry is the snapshot produced by one refresh cycle. Date is the
// instant the cycle started, not when its fetch resolved.
type TimelineEntry struct {
	Date   time.Time
	Record StatusRecord
}

func (e TimelineEntry) ValidUntil() time.Time {
	return e.Date.Add(RefreshInterval)
}

// GeneralStats returns the payload when the entry carries general stats.
func (e TimelineEntry) GeneralStats() (*GeneralStats, bool) {
	s, ok := e.Record.(*GeneralStats)
	return s, ok
}

func (e TimelineEntry) CountryStatus() (*CountryStatus, bool) {
	s, ok := e.Record.(*CountryStatus)
	return s, ok
}

// Countries returns the country rows of the entry, or nil for general stats.
func (e TimelineEntry) Countries() []CountryEntry {
	if s, ok := e.CountryStatus(); ok {
		return s.Countries
	}
	return nil
}
