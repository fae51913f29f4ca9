// Package selection orders and filters a fetched batch of candidate
// items for one tenant cycle.
package selection

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"feedbot/internal/model"
)

// Lookup reports whether an item was already delivered to the tenant.
type Lookup func(ctx context.Context, sourceKey, itemID string) (bool, error)

// Select applies the tenant's inclusion filters, drops already
// delivered items, sorts the survivors newest-first (ties broken by
// ItemID ascending) and truncates to the per-cycle maximum. The output
// order is the delivery order.
func Select(ctx context.Context, items []model.Item, cfg *model.FeedConfig, delivered Lookup) ([]model.Item, error) {
	selected := make([]model.Item, 0, len(items))
	for _, item := range items {
		if !platformAllowed(item, cfg.Platforms) {
			continue
		}
		seen, err := delivered(ctx, item.SourceKey, item.ItemID)
		if err != nil {
			return nil, fmt.Errorf("ledger lookup %s/%s: %w", item.SourceKey, item.ItemID, err)
		}
		if seen {
			continue
		}
		selected = append(selected, item)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		a, b := selected[i], selected[j]
		switch {
		case a.PublishedAt == nil && b.PublishedAt == nil:
			return a.ItemID < b.ItemID
		case a.PublishedAt == nil:
			return false
		case b.PublishedAt == nil:
			return true
		case !a.PublishedAt.Equal(*b.PublishedAt):
			return a.PublishedAt.After(*b.PublishedAt)
		}
		return a.ItemID < b.ItemID
	})

	if cfg.MaxItemsPerCycle > 0 && len(selected) > cfg.MaxItemsPerCycle {
		selected = selected[:cfg.MaxItemsPerCycle]
	}
	return selected, nil
}

// platformAllowed checks the tenant's platform allow-list. Items that
// carry no platform information always pass; the allow-list only
// narrows what upstream labels.
func platformAllowed(item model.Item, allowed []string) bool {
	if len(allowed) == 0 || len(item.Platforms) == 0 {
		return true
	}
	for _, want := range allowed {
		for _, have := range item.Platforms {
			if normalizePlatform(want) == normalizePlatform(have) {
				return true
			}
		}
	}
	return false
}

// normalizePlatform folds the upstream's display names ("Epic Games
// Store") and selector slugs ("epic-games-store") onto one form.
func normalizePlatform(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	p = strings.ReplaceAll(p, " ", "-")
	return p
}
