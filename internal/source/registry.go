package source

import (
	"sort"
	"time"

	"feedbot/internal/model"
)

// Registry resolves a tenant feed config into the set of adapters its
// cycle must query. Each returned adapter maps to one upstream source.
type Registry struct {
	client       HTTPClient
	timeout      time.Duration
	newsFeeds    map[string]string
	freeGamesAPI string
	giveawaysAPI string
}

// NewRegistry creates a Registry. newsFeeds maps category names to
// their RSS feed URLs.
func NewRegistry(client HTTPClient, timeout time.Duration, newsFeeds map[string]string, freeGamesAPI, giveawaysAPI string) *Registry {
	return &Registry{
		client:       client,
		timeout:      timeout,
		newsFeeds:    newsFeeds,
		freeGamesAPI: freeGamesAPI,
		giveawaysAPI: giveawaysAPI,
	}
}

// ForConfig returns one adapter per source the config selects.
// Unknown news categories are skipped; selecting nothing yields the
// feature's full source set.
func (r *Registry) ForConfig(cfg *model.FeedConfig) []Adapter {
	switch cfg.Feature {
	case model.FeatureNews:
		categories := cfg.Categories
		if len(categories) == 0 {
			for name := range r.newsFeeds {
				categories = append(categories, name)
			}
			sort.Strings(categories)
		}
		var adapters []Adapter
		for _, cat := range categories {
			url, ok := r.newsFeeds[cat]
			if !ok {
				continue
			}
			adapters = append(adapters, NewRSS(cat, url, r.client, r.timeout))
		}
		return adapters

	case model.FeatureFreeGames:
		if len(cfg.Platforms) == 0 {
			return []Adapter{NewFreeToKeep("", r.freeGamesAPI, r.client, r.timeout)}
		}
		adapters := make([]Adapter, 0, len(cfg.Platforms))
		for _, platform := range cfg.Platforms {
			adapters = append(adapters, NewFreeToKeep(platform, r.freeGamesAPI, r.client, r.timeout))
		}
		return adapters

	case model.FeatureGiveaways:
		if len(cfg.Categories) == 0 {
			return []Adapter{NewGiveaways("", r.giveawaysAPI, r.client, r.timeout)}
		}
		adapters := make([]Adapter, 0, len(cfg.Categories))
		for _, cat := range cfg.Categories {
			adapters = append(adapters, NewGiveaways(cat, r.giveawaysAPI, r.client, r.timeout))
		}
		return adapters
	}
	return nil
}
