package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"feedbot/internal/model"
)

// Giveaways fetches entries from the generic giveaway listing API,
// optionally narrowed to one category (loot, beta, dlc, ...).
type Giveaways struct {
	key      string
	base     string
	category string
	client   HTTPClient
	timeout  time.Duration
}

// NewGiveaways creates an adapter for one category. An empty category
// queries all categories.
func NewGiveaways(category, base string, client HTTPClient, timeout time.Duration) *Giveaways {
	key := "giveaways:all"
	if category != "" {
		key = "giveaways:" + category
	}
	return &Giveaways{
		key:      key,
		base:     base,
		category: category,
		client:   client,
		timeout:  timeout,
	}
}

// Key returns the stable source identity.
func (g *Giveaways) Key() string { return g.key }

type giveawayEntry struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Worth       string   `json:"worth"`
	ImageURL    string   `json:"image"`
	URL         string   `json:"open_giveaway_url"`
	Platforms   []string `json:"platforms"`
	PublishedAt string   `json:"published_date"`
	EndDate     string   `json:"end_date"`
}

// Fetch queries the listing API for active giveaways.
func (g *Giveaways) Fetch(ctx context.Context) ([]model.Item, error) {
	target := g.base
	if g.category != "" {
		q := url.Values{"type": {g.category}}
		target += "?" + q.Encode()
	}

	body, err := get(ctx, g.client, target, g.timeout)
	if err != nil {
		return nil, err
	}

	var entries []giveawayEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode giveaways: %w", err)
	}

	items := make([]model.Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, model.Item{
			SourceKey:   g.key,
			ItemID:      strconv.FormatInt(e.ID, 10),
			Title:       e.Title,
			Summary:     e.Description,
			URL:         e.URL,
			ImageURL:    e.ImageURL,
			Worth:       cleanOptional(e.Worth),
			Platforms:   e.Platforms,
			Expiry:      parseUpstreamTime(e.EndDate),
			PublishedAt: parseUpstreamTime(e.PublishedAt),
		})
	}
	return items, nil
}
