package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dandantas/scout/internal/model"
	"gopkg.in/yaml.v3"
)

// Cadence is how often a pipeline runs for a tier during the daily sweep
type Cadence string

const (
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
	CadenceOff    Cadence = "off"
)

// DefaultTier is used for tenants whose tier is unknown
const DefaultTier = "free"

// Tier holds the cadence and volume limits of a subscription tier
type Tier struct {
	Name           string                         `yaml:"name"`
	MaxCompetitors int                            `yaml:"max_competitors"`
	SEOKeywords    int                            `yaml:"seo_keywords"`
	WeeklyDay      string                         `yaml:"weekly_day"`
	Cadence        map[model.PipelineType]Cadence `yaml:"cadence"`
}

// Due reports whether the pipeline should run on the given day
func (t Tier) Due(pipelineType model.PipelineType, now time.Time) bool {
	switch t.Cadence[pipelineType] {
	case CadenceDaily:
		return true
	case CadenceWeekly:
		return strings.EqualFold(t.WeeklyDay, now.Weekday().String())
	default:
		return false
	}
}

// AnyDue reports whether at least one pipeline is due on the given day.
// The refresh_all composite has no steps of its own and never counts.
func (t Tier) AnyDue(now time.Time) bool {
	for _, pt := range model.PipelineTypes {
		if pt == model.PipelineRefreshAll {
			continue
		}
		if t.Due(pt, now) {
			return true
		}
	}
	return false
}

// Tiers is the set of known tiers
type Tiers struct {
	byName map[string]Tier
}

type tiersFile struct {
	Tiers []Tier `yaml:"tiers"`
}

// Tier returns the named tier, falling back to DefaultTier
func (ts *Tiers) Tier(name string) Tier {
	if t, ok := ts.byName[strings.ToLower(name)]; ok {
		return t
	}
	return ts.byName[DefaultTier]
}

// LoadTiers returns the built-in tiers overridden by the YAML file at path, if any
func LoadTiers(path string) (*Tiers, error) {
	tiers := DefaultTiers()
	if path == "" {
		return tiers, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tiers file: %w", err)
	}
	if err := tiers.merge(data); err != nil {
		return nil, err
	}
	return tiers, nil
}

// ParseTiers returns the built-in tiers overridden by YAML data
func ParseTiers(data []byte) (*Tiers, error) {
	tiers := DefaultTiers()
	if err := tiers.merge(data); err != nil {
		return nil, err
	}
	return tiers, nil
}

func (ts *Tiers) merge(data []byte) error {
	var file tiersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse tiers: %w", err)
	}

	for _, t := range file.Tiers {
		if t.Name == "" {
			return fmt.Errorf("tier without name")
		}
		t.Name = strings.ToLower(t.Name)
		for pt, c := range t.Cadence {
			if !pt.Valid() {
				return fmt.Errorf("tier %s: unknown pipeline %q", t.Name, pt)
			}
			switch c {
			case CadenceDaily, CadenceWeekly, CadenceOff:
			default:
				return fmt.Errorf("tier %s: invalid cadence %q for %s", t.Name, c, pt)
			}
		}
		day, err := parseWeekday(t.WeeklyDay)
		if err != nil {
			return fmt.Errorf("tier %s: %w", t.Name, err)
		}
		t.WeeklyDay = day
		ts.byName[t.Name] = t
	}
	return nil
}

// parseWeekday normalizes a full weekday name. Empty means monday.
func parseWeekday(name string) (string, error) {
	if name == "" {
		return "monday", nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(name, d.String()) {
			return strings.ToLower(d.String()), nil
		}
	}
	return "", fmt.Errorf("invalid weekly_day %q", name)
}

// DefaultTiers returns the built-in tier definitions
func DefaultTiers() *Tiers {
	all := func(c Cadence) map[model.PipelineType]Cadence {
		m := make(map[model.PipelineType]Cadence, len(model.PipelineTypes))
		for _, pt := range model.PipelineTypes {
			m[pt] = c
		}
		return m
	}

	pro := all(CadenceDaily)
	pro[model.PipelinePhotos] = CadenceWeekly

	free := map[model.PipelineType]Cadence{
		model.PipelineContent:    CadenceWeekly,
		model.PipelineVisibility: CadenceWeekly,
		model.PipelineEvents:     CadenceDaily,
		model.PipelineInsights:   CadenceWeekly,
		model.PipelinePhotos:     CadenceOff,
		model.PipelineBusyTimes:  CadenceOff,
		model.PipelineWeather:    CadenceDaily,
	}

	return &Tiers{byName: map[string]Tier{
		"free":       {Name: "free", MaxCompetitors: 3, SEOKeywords: 5, WeeklyDay: "monday", Cadence: free},
		"pro":        {Name: "pro", MaxCompetitors: 10, SEOKeywords: 25, WeeklyDay: "monday", Cadence: pro},
		"enterprise": {Name: "enterprise", MaxCompetitors: 25, SEOKeywords: 100, WeeklyDay: "monday", Cadence: all(CadenceDaily)},
	}}
}
