package insight

import "github.com/dandantas/scout/internal/model"

// Severity levels
const (
	SeverityInfo    = "info"
	SeverityNotice  = "notice"
	SeverityWarning = "warning"
)

// DefaultRules returns the built-in insight rules
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:         "menu_changed",
			SnapshotType: model.SnapshotWebContent,
			Expression:   "$.changed",
			Operator:     OpContains,
			Value:        "menu_items",
			Severity:     SeverityNotice,
			Title:        "{name} updated their menu",
		},
		{
			Name:         "specials_changed",
			SnapshotType: model.SnapshotWebContent,
			Expression:   "$.changed",
			Operator:     OpContains,
			Value:        "specials",
			Severity:     SeverityInfo,
			Title:        "{name} changed their specials",
		},
		{
			Name:         "hours_changed",
			SnapshotType: model.SnapshotWebContent,
			Expression:   "$.changed",
			Operator:     OpContains,
			Value:        "hours",
			Severity:     SeverityNotice,
			Title:        "{name} changed their opening hours",
		},
		{
			Name:         "ranking_dropped",
			SnapshotType: model.SnapshotSEORankings,
			Expression:   "$.delta.average_position",
			Operator:     OpGte,
			Value:        2,
			Severity:     SeverityWarning,
			Title:        "{name} dropped {value} places in search",
		},
		{
			Name:         "ranking_improved",
			SnapshotType: model.SnapshotSEORankings,
			Expression:   "$.delta.average_position",
			Operator:     OpLte,
			Value:        -2,
			Severity:     SeverityInfo,
			Title:        "{name} moved up in search results",
		},
		{
			Name:         "new_events",
			SnapshotType: model.SnapshotLocalEvents,
			Expression:   "$.delta.event_count",
			Operator:     OpGt,
			Value:        0,
			Severity:     SeverityInfo,
			Title:        "{value} new events near {name}",
		},
		{
			Name:         "new_photos",
			SnapshotType: model.SnapshotPhotos,
			Expression:   "$.delta.photo_count",
			Operator:     OpGt,
			Value:        0,
			Severity:     SeverityInfo,
			Title:        "{name} added {value} new photos",
		},
		{
			Name:         "peak_hour_shift",
			SnapshotType: model.SnapshotBusyTimes,
			Expression:   "$.changed",
			Operator:     OpContains,
			Value:        "peak_hour",
			Severity:     SeverityNotice,
			Title:        "Peak hour shifted at {name}",
		},
		{
			Name:         "rain_likely",
			SnapshotType: model.SnapshotWeather,
			Expression:   "$.after.precipitation_chance",
			Operator:     OpGte,
			Value:        60,
			Severity:     SeverityNotice,
			Title:        "Rain likely today near {name}",
			Detail:       "Precipitation chance is {value}%",
		},
		{
			Name:         "temperature_jump",
			SnapshotType: model.SnapshotWeather,
			Expression:   "$.delta.temperature",
			Operator:     OpGte,
			Value:        8,
			Severity:     SeverityInfo,
			Title:        "Much warmer today near {name}",
		},
		{
			Name:         "search_leader_changed",
			SnapshotType: model.SnapshotCompetitive,
			Expression:   "$.changed",
			Operator:     OpContains,
			Value:        "search_leader",
			Severity:     SeverityWarning,
			Title:        "New search leader near {name}",
		},
		{
			Name:         "busiest_changed",
			SnapshotType: model.SnapshotCompetitive,
			Expression:   "$.changed",
			Operator:     OpContains,
			Value:        "busiest",
			Severity:     SeverityInfo,
			Title:        "The busiest spot near {name} changed",
		},
	}
}
