// Package provider defines the external data sources pipelines read from and
// an HTTP gateway client implementing all of them.
package provider

import "context"

// Document is an opaque provider response
type Document = map[string]any

// Scraper fetches and parses a business website
type Scraper interface {
	Scrape(ctx context.Context, url string) (Document, error)
}

// SEO reports search rankings for a domain
type SEO interface {
	Rankings(ctx context.Context, domain string, keywords []string) (Document, error)
}

// Events discovers local events around a point
type Events interface {
	Discover(ctx context.Context, lat, lng float64) (Document, error)
}

// Places reads listing data for a place id
type Places interface {
	Photos(ctx context.Context, placeID string) (Document, error)
	BusyTimes(ctx context.Context, placeID string) (Document, error)
}

// Weather returns current conditions and today's forecast
type Weather interface {
	Forecast(ctx context.Context, lat, lng float64) (Document, error)
}

// Generative produces short text from a prompt
type Generative interface {
	Tips(ctx context.Context, prompt string, n int) ([]string, error)
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Set bundles one implementation of every provider
type Set struct {
	Scraper    Scraper
	SEO        SEO
	Events     Events
	Places     Places
	Weather    Weather
	Generative Generative
}

// FromGateway uses gw for every provider
func FromGateway(gw *Gateway) Set {
	return Set{
		Scraper:    gw,
		SEO:        gw,
		Events:     gw,
		Places:     gw,
		Weather:    gw,
		Generative: gw,
	}
}
