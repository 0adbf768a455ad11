package pkg

import "strings"

// KindFor maps a selection key to the record kind it requests.
func KindFor(selectionKey string) RecordKind {
	if selectionKey == "" {
		return KindGeneralStats
	}
	return KindCountryStatus
}

// DisplayDate shortens a last_update value such as "Mon, 01 Jan 2024, 00:00, UTC"
// to its first two non-empty comma separated parts ("Mon 01 Jan 2024").
func DisplayDate(lastUpdate string) string {
	parts := strings.FieldsFunc(lastUpdate, func(r rune) bool { return r == ',' })
	if len(parts) < 2 {
		return lastUpdate
	}
	return parts[0] + parts[1]
}

// IsDefault reports whether record is indistinguishable from the placeholder of its kind.
func IsDefault(record StatusRecord) bool {
	if record == nil {
		return true
	}
	switch r := record.(type) {
	case *GeneralStats:
		return *r == *DefaultGeneralStats()
	case *CountryStatus:
		def := DefaultCountryStatus()
		if r.LastUpdated != def.LastUpdated || r.Status != def.Status || len(r.Countries) != 1 {
			return false
		}
		return r.Countries[0] == def.Countries[0]
	}
	return false
}

func IsStringInlist(items []string, val string) bool {
	if items == nil || len(items) == 0 {
		return false
	}
	for _, item := range items {
		if item == val {
			return true
		}
	}
	return false
}
