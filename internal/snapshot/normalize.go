package snapshot

import (
	"fmt"
	"log/slog"

	"github.com/dandantas/scout/internal/model"
	"github.com/oliveagle/jsonpath"
)

// Field maps one value out of a provider document
type Field struct {
	Name     string
	Path     string
	Required bool
	// Count stores the length of the array at Path instead of the array itself
	Count bool
}

// Normalizer reduces provider documents to the fields worth tracking
type Normalizer struct {
	fields map[model.SnapshotType][]Field
}

// NewNormalizer creates a normalizer with the built-in field mappings
func NewNormalizer() *Normalizer {
	return &Normalizer{fields: defaultFields()}
}

// WithFields overrides the mapping for one snapshot type
func (n *Normalizer) WithFields(t model.SnapshotType, fields []Field) *Normalizer {
	n.fields[t] = fields
	return n
}

// Normalize extracts the mapped fields from doc. Types without a mapping are
// kept whole. A missing required field is an error; other missing fields are
// left out.
func (n *Normalizer) Normalize(t model.SnapshotType, doc map[string]any) (map[string]any, error) {
	generic, err := canonicalMap(doc)
	if err != nil {
		return nil, err
	}

	fields, ok := n.fields[t]
	if !ok {
		return generic, nil
	}

	out := make(map[string]any, len(fields))
	for _, f := range fields {
		value, err := jsonpath.JsonPathLookup(generic, f.Path)
		if err != nil || value == nil {
			if f.Required {
				return nil, fmt.Errorf("%s document missing %s (%s)", t, f.Name, f.Path)
			}
			slog.Debug("Optional field absent", "snapshot_type", t, "field", f.Name, "path", f.Path)
			continue
		}
		if f.Count {
			items, ok := value.([]any)
			if !ok {
				return nil, fmt.Errorf("%s field %s is not a list", t, f.Name)
			}
			out[f.Name] = float64(len(items))
			continue
		}
		out[f.Name] = value
	}
	return out, nil
}

func defaultFields() map[model.SnapshotType][]Field {
	return map[model.SnapshotType][]Field{
		model.SnapshotWebContent: {
			{Name: "title", Path: "$.title"},
			{Name: "menu_items", Path: "$.menu.items"},
			{Name: "menu_item_count", Path: "$.menu.items", Count: true},
			{Name: "specials", Path: "$.specials"},
			{Name: "hours", Path: "$.hours"},
		},
		model.SnapshotSEORankings: {
			{Name: "rankings", Path: "$.rankings", Required: true},
			{Name: "keyword_count", Path: "$.rankings", Count: true},
			{Name: "average_position", Path: "$.summary.average_position"},
		},
		model.SnapshotLocalEvents: {
			{Name: "events", Path: "$.events", Required: true},
			{Name: "event_count", Path: "$.events", Count: true},
		},
		model.SnapshotPhotos: {
			{Name: "photos", Path: "$.photos", Required: true},
			{Name: "photo_count", Path: "$.photos", Count: true},
		},
		model.SnapshotBusyTimes: {
			{Name: "popular_times", Path: "$.popular_times", Required: true},
			{Name: "peak_hour", Path: "$.summary.peak_hour"},
			{Name: "peak_day", Path: "$.summary.peak_day"},
		},
		model.SnapshotWeather: {
			{Name: "condition", Path: "$.current.condition", Required: true},
			{Name: "temperature", Path: "$.current.temperature"},
			{Name: "high", Path: "$.forecast.high"},
			{Name: "low", Path: "$.forecast.low"},
			{Name: "precipitation_chance", Path: "$.forecast.precipitation_chance"},
		},
	}
}
