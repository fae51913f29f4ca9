package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"feedbot/internal/model"
)

// FreeToKeep fetches free-to-keep game giveaways from a
// GamerPower-style JSON API, optionally narrowed to one platform.
type FreeToKeep struct {
	key      string
	base     string
	platform string
	client   HTTPClient
	timeout  time.Duration
}

// NewFreeToKeep creates an adapter for one platform. An empty platform
// queries all platforms.
func NewFreeToKeep(platform, base string, client HTTPClient, timeout time.Duration) *FreeToKeep {
	key := "freegames:all"
	if platform != "" {
		key = "freegames:" + platform
	}
	return &FreeToKeep{
		key:      key,
		base:     base,
		platform: platform,
		client:   client,
		timeout:  timeout,
	}
}

// Key returns the stable source identity.
func (f *FreeToKeep) Key() string { return f.key }

type freeGame struct {
	ID              int    `json:"id"`
	Title           string `json:"title"`
	Worth           string `json:"worth"`
	Thumbnail       string `json:"thumbnail"`
	Image           string `json:"image"`
	Description     string `json:"description"`
	OpenGiveawayURL string `json:"open_giveaway_url"`
	PublishedDate   string `json:"published_date"`
	EndDate         string `json:"end_date"`
	Platforms       string `json:"platforms"`
	Type            string `json:"type"`
}

// Fetch queries the giveaway API for currently claimable games.
func (f *FreeToKeep) Fetch(ctx context.Context) ([]model.Item, error) {
	q := url.Values{"type": {"game"}}
	if f.platform != "" {
		q.Set("platform", f.platform)
	}

	body, err := get(ctx, f.client, f.base+"?"+q.Encode(), f.timeout)
	if err != nil {
		return nil, err
	}

	var games []freeGame
	if err := json.Unmarshal(body, &games); err != nil {
		return nil, fmt.Errorf("decode giveaways: %w", err)
	}

	items := make([]model.Item, 0, len(games))
	for _, g := range games {
		item := model.Item{
			SourceKey: f.key,
			// The upstream's numeric id is the only stable identity;
			// titles and dates get edited after publication.
			ItemID:      strconv.Itoa(g.ID),
			Title:       g.Title,
			Summary:     g.Description,
			URL:         g.OpenGiveawayURL,
			ImageURL:    g.Image,
			Worth:       cleanOptional(g.Worth),
			Platforms:   splitPlatforms(g.Platforms),
			Expiry:      parseUpstreamTime(g.EndDate),
			PublishedAt: parseUpstreamTime(g.PublishedDate),
		}
		if item.ImageURL == "" {
			item.ImageURL = g.Thumbnail
		}
		items = append(items, item)
	}
	return items, nil
}

func cleanOptional(v string) string {
	if v == "N/A" {
		return ""
	}
	return v
}

func splitPlatforms(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	platforms := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			platforms = append(platforms, p)
		}
	}
	return platforms
}

// upstreamTimeLayouts covers the date formats the giveaway API has
// been observed to emit.
var upstreamTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"01/02/2006",
	"2006-01-02",
}

func parseUpstreamTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "N/A" {
		return nil
	}
	for _, layout := range upstreamTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
