package source

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"feedbot/internal/model"
)

// RSS fetches game news items from one RSS/Atom feed.
type RSS struct {
	key     string
	url     string
	client  HTTPClient
	timeout time.Duration
}

// NewRSS creates an adapter for one news category feed.
func NewRSS(category, url string, client HTTPClient, timeout time.Duration) *RSS {
	return &RSS{
		key:     "news:" + category,
		url:     url,
		client:  client,
		timeout: timeout,
	}
}

// Key returns the stable source identity.
func (r *RSS) Key() string { return r.key }

// Fetch downloads and parses the feed into candidate items.
func (r *RSS) Fetch(ctx context.Context) ([]model.Item, error) {
	body, err := get(ctx, r.client, r.url, r.timeout)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]model.Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		summary := it.Description
		if len(summary) > 300 {
			summary = summary[:300] + "..."
		}
		item := model.Item{
			SourceKey:   r.key,
			ItemID:      itemGUID(it),
			Title:       it.Title,
			Summary:     summary,
			URL:         it.Link,
			PublishedAt: it.PublishedParsed,
		}
		if it.Image != nil {
			item.ImageURL = it.Image.URL
		}
		items = append(items, item)
	}
	return items, nil
}

// itemGUID returns the stable identity for an RSS item. If the item
// has no GUID, a SHA-256 hash of title+link is used. Publish dates are
// deliberately excluded: their formatting varies between fetches.
func itemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}
