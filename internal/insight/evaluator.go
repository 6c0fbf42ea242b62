// Package insight turns snapshot changes into stored, human readable insights.
package insight

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dandantas/scout/internal/model"
	"github.com/dandantas/scout/internal/snapshot"
	"github.com/oliveagle/jsonpath"
)

// maxEvidence bounds the evidence attached to one insight
const maxEvidence = 5

// Rule matches a JSONPath expression on a snapshot diff document.
// Title and Detail may reference {name} and {value}.
type Rule struct {
	Name         string
	SnapshotType model.SnapshotType
	Expression   string
	Operator     string
	Value        any
	Severity     string
	Title        string
	Detail       string
}

// Evaluation is the outcome of one rule against one diff
type Evaluation struct {
	Rule      string
	Extracted any
	Matched   bool
	Err       error
}

// Evaluator applies rules to snapshot outcomes
type Evaluator struct {
	rules []Rule
	now   func() time.Time
}

// NewEvaluator creates an evaluator; nil rules means DefaultRules
func NewEvaluator(rules []Rule) *Evaluator {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Evaluator{
		rules: rules,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// EvaluateRule runs a single rule against a diff document
func (e *Evaluator) EvaluateRule(rule Rule, doc map[string]any) Evaluation {
	result := Evaluation{Rule: rule.Name}

	value, err := jsonpath.JsonPathLookup(doc, rule.Expression)
	if err != nil {
		// Absent fields are normal for exists-style rules.
		if strings.EqualFold(rule.Operator, OpExists) {
			return result
		}
		result.Err = fmt.Errorf("expression %q: %w", rule.Expression, err)
		return result
	}
	result.Extracted = value

	matched, err := Apply(rule.Operator, value, rule.Value)
	if err != nil {
		result.Err = err
		return result
	}
	result.Matched = matched
	return result
}

// Evaluate returns the insights triggered by a snapshot outcome.
// Baselines and unchanged snapshots never produce insights.
func (e *Evaluator) Evaluate(outcome *snapshot.Outcome) []*model.Insight {
	if outcome == nil || !outcome.Changed || outcome.Snapshot == nil {
		return nil
	}
	snap := outcome.Snapshot

	var insights []*model.Insight
	for _, rule := range e.rules {
		if rule.SnapshotType != snap.Type {
			continue
		}
		eval := e.EvaluateRule(rule, outcome.DiffDoc)
		if eval.Err != nil {
			slog.Debug("Insight rule not applicable",
				"rule", rule.Name,
				"entity_id", snap.EntityID,
				"error", eval.Err,
			)
			continue
		}
		if !eval.Matched {
			continue
		}

		fill := strings.NewReplacer("{name}", snap.EntityName, "{value}", toString(eval.Extracted))
		insights = append(insights, &model.Insight{
			ID:           model.InsightID(snap.EntityID, snap.Date, snap.Type, rule.Name),
			TenantID:     snap.TenantID,
			LocationID:   snap.LocationID,
			EntityID:     snap.EntityID,
			EntityName:   snap.EntityName,
			SnapshotType: snap.Type,
			Rule:         rule.Name,
			Severity:     rule.Severity,
			Title:        fill.Replace(rule.Title),
			Detail:       fill.Replace(rule.Detail),
			Evidence:     evidence(outcome.Changes),
			Date:         snap.Date,
			CreatedAt:    e.now(),
		})
	}
	return insights
}

func evidence(changes []snapshot.Change) []model.Evidence {
	n := len(changes)
	if n > maxEvidence {
		n = maxEvidence
	}
	out := make([]model.Evidence, 0, n)
	for _, c := range changes[:n] {
		out = append(out, model.Evidence{Field: c.Field, Before: c.Before, After: c.After})
	}
	return out
}

// Store persists insights keyed by their deterministic id
type Store interface {
	// Upsert inserts the insight if absent and reports whether it was new
	Upsert(ctx context.Context, insight *model.Insight) (bool, error)
	ListRecent(ctx context.Context, locationID string, limit int) ([]*model.Insight, error)
}

// Generator evaluates outcomes and stores the resulting insights
type Generator struct {
	evaluator *Evaluator
	store     Store
}

// NewGenerator creates a generator
func NewGenerator(evaluator *Evaluator, store Store) *Generator {
	return &Generator{evaluator: evaluator, store: store}
}

// Generate stores insights for outcome and returns how many were new.
// Running it twice for the same outcome stores nothing the second time.
func (g *Generator) Generate(ctx context.Context, outcome *snapshot.Outcome) (int, error) {
	created := 0
	for _, in := range g.evaluator.Evaluate(outcome) {
		isNew, err := g.store.Upsert(ctx, in)
		if err != nil {
			return created, fmt.Errorf("store insight %s: %w", in.Rule, err)
		}
		if isNew {
			created++
		}
	}
	return created, nil
}

// Recent returns the newest insights for a location
func (g *Generator) Recent(ctx context.Context, locationID string, limit int) ([]*model.Insight, error) {
	return g.store.ListRecent(ctx, locationID, limit)
}
