// Package feed streams ambient cards for a location: recent insights first,
// then freshly generated tips.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dandantas/scout/internal/directory"
	"github.com/dandantas/scout/internal/model"
	"github.com/dandantas/scout/internal/provider"
	"github.com/dandantas/scout/internal/transport"
	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown or foreign locations
var ErrNotFound = errors.New("location not found")

// InsightLister reads recent insights of a location
type InsightLister interface {
	Recent(ctx context.Context, locationID string, limit int) ([]*model.Insight, error)
}

// Options tunes pacing and volume of the feed
type Options struct {
	CardDelay time.Duration
	TipDelay  time.Duration
	MaxCards  int
	MaxTips   int
}

// Service produces the ambient feed
type Service struct {
	directory  directory.Directory
	insights   InsightLister
	generative provider.Generative
	opts       Options
}

// NewService creates a feed service. A nil generative provider disables tips.
func NewService(dir directory.Directory, insights InsightLister, generative provider.Generative, opts Options) *Service {
	if opts.MaxCards <= 0 {
		opts.MaxCards = 6
	}
	if opts.MaxTips < 0 {
		opts.MaxTips = 0
	}
	return &Service{
		directory:  dir,
		insights:   insights,
		generative: generative,
		opts:       opts,
	}
}

// Location resolves a location owned by tenantID
func (s *Service) Location(ctx context.Context, tenantID, locationID string) (*model.Location, error) {
	loc, err := s.directory.Location(ctx, locationID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load location: %w", err)
	}
	if loc.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return loc, nil
}

// Stream emits insight cards, then tips, then done, and closes em.
// Failures only shorten the feed.
func (s *Service) Stream(ctx context.Context, loc *model.Location, em transport.Emitter) {
	defer em.Close()
	log := slog.With("location_id", loc.ID)

	sent := 0
	insights, err := s.insights.Recent(ctx, loc.ID, s.opts.MaxCards)
	if err != nil {
		log.Warn("Failed to load insights for feed", "error", err)
	}
	for _, in := range insights {
		if sent > 0 && !s.wait(ctx, s.opts.CardDelay) {
			return
		}
		em.Emit(model.EventCard, model.AmbientCard{
			ID:       in.ID,
			Category: string(in.SnapshotType),
			Text:     in.Title,
		})
		sent++
	}

	for _, tip := range s.tips(ctx, loc, insights) {
		if sent > 0 && !s.wait(ctx, s.opts.TipDelay) {
			return
		}
		em.Emit(model.EventCard, model.AmbientCard{
			ID:       uuid.New().String(),
			Category: "tip",
			Text:     tip,
		})
		sent++
	}

	em.Emit(model.EventDone, model.DoneEvent{Warnings: []string{}})
	log.Debug("Feed finished", "cards", sent)
}

func (s *Service) tips(ctx context.Context, loc *model.Location, insights []*model.Insight) []string {
	if s.generative == nil || s.opts.MaxTips == 0 {
		return nil
	}
	tips, err := s.generative.Tips(ctx, tipPrompt(loc, insights), s.opts.MaxTips)
	if err != nil {
		slog.Warn("Failed to generate feed tips", "location_id", loc.ID, "error", err)
		return nil
	}
	out := make([]string, 0, len(tips))
	for _, t := range tips {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	if len(out) > s.opts.MaxTips {
		out = out[:s.opts.MaxTips]
	}
	return out
}

// wait sleeps for d unless ctx ends first
func (s *Service) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func tipPrompt(loc *model.Location, insights []*model.Insight) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Give short, practical tips for the owner of %s.", loc.Name)
	if len(insights) > 0 {
		b.WriteString(" Recent observations:")
		for _, in := range insights {
			b.WriteString("\n- ")
			b.WriteString(in.Title)
		}
	}
	return b.String()
}
