// Package engine executes one tenant cycle: fetch candidates from the
// configured sources, select the deliverable subset, send each item
// and record it in the delivery ledger.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"feedbot/internal/backoff"
	"feedbot/internal/deliver"
	"feedbot/internal/model"
	"feedbot/internal/selection"
	"feedbot/internal/source"
	"feedbot/internal/storage"
)

// Sink sends a rendered payload to one channel.
type Sink interface {
	Send(ctx context.Context, channelID string, p *deliver.Payload) (string, error)
}

// Sources resolves a config into the adapters its cycle must query.
type Sources interface {
	ForConfig(cfg *model.FeedConfig) []source.Adapter
}

// Engine runs delivery cycles for tenant feed configs.
type Engine struct {
	store   storage.Storage
	sources Sources
	sink    Sink
	backoff *backoff.Controller
	log     *slog.Logger
}

// New creates an Engine.
func New(store storage.Storage, sources Sources, sink Sink, bo *backoff.Controller, log *slog.Logger) *Engine {
	return &Engine{
		store:   store,
		sources: sources,
		sink:    sink,
		backoff: bo,
		log:     log,
	}
}

// RunCycle executes one full cycle for the given config. Items are
// delivered one at a time, waiting for each ledger write before the
// next send, so audit order and rate-limit pressure stay predictable.
func (e *Engine) RunCycle(ctx context.Context, cfg *model.FeedConfig) error {
	log := e.log.With(
		"tenant_id", cfg.TenantID,
		"feature", cfg.Feature,
		"cycle_id", uuid.NewString()[:8],
	)
	now := time.Now().UTC()

	adapters := e.sources.ForConfig(cfg)
	if len(adapters) == 0 {
		err := errors.New("no sources configured")
		e.recordRun(ctx, cfg.ID, now, err.Error(), log)
		return err
	}

	candidates := e.fetchAll(ctx, cfg, adapters, now, log)

	selected, err := selection.Select(ctx, candidates, cfg, e.deliveredLookup(cfg.TenantID))
	if err != nil {
		e.recordRun(ctx, cfg.ID, now, err.Error(), log)
		return err
	}

	// News batches read best oldest-first; selection ranks newest-first
	// for capping, so flip the surviving batch into narrative order.
	if cfg.Feature == model.FeatureNews {
		reverse(selected)
	}

	sent, lastErr := e.deliverAll(ctx, cfg, selected, log)
	if sent > 0 {
		log.Info("delivered items", "count", sent, "selected", len(selected))
	}

	e.recordRun(ctx, cfg.ID, now, lastErr, log)
	return nil
}

// Preview runs fetch, selection and rendering for the config and sends
// the results to channelID, bypassing only the ledger write. It goes
// through the exact Render step, so previews match real output.
func (e *Engine) Preview(ctx context.Context, tenantID string, feature model.Feature, channelID string, limit int) (int, error) {
	cfg, err := e.store.GetConfigByTenant(ctx, tenantID, feature)
	if err != nil {
		return 0, err
	}
	if limit > 0 && (cfg.MaxItemsPerCycle == 0 || limit < cfg.MaxItemsPerCycle) {
		cfg.MaxItemsPerCycle = limit
	}

	now := time.Now().UTC()
	log := e.log.With("tenant_id", tenantID, "feature", feature, "preview", true)

	adapters := e.sources.ForConfig(cfg)
	if len(adapters) == 0 {
		return 0, errors.New("no sources configured")
	}

	candidates := e.fetchAll(ctx, cfg, adapters, now, log)
	selected, err := selection.Select(ctx, candidates, cfg, e.deliveredLookup(tenantID))
	if err != nil {
		return 0, err
	}
	if cfg.Feature == model.FeatureNews {
		reverse(selected)
	}

	sent := 0
	for _, item := range selected {
		payload, err := deliver.Render(item, cfg.Render)
		if err != nil {
			log.Error("render item", "source", item.SourceKey, "item_id", item.ItemID, "error", err)
			continue
		}
		if _, err := e.sink.Send(ctx, channelID, payload); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// SourceStatus returns the backoff state of the tenant's tracked
// sources, keyed by source key. Healthy untracked sources are omitted.
func (e *Engine) SourceStatus(tenantID string) map[string]backoff.Status {
	prefix := tenantID + "|"
	snap := e.backoff.Snapshot(prefix, time.Now().UTC())
	out := make(map[string]backoff.Status, len(snap))
	for key, st := range snap {
		out[strings.TrimPrefix(key, prefix)] = st
	}
	return out
}

// fetchAll queries every non-paused adapter concurrently. A failing
// source is logged and dropped; it never aborts its siblings.
func (e *Engine) fetchAll(ctx context.Context, cfg *model.FeedConfig, adapters []source.Adapter, now time.Time, log *slog.Logger) []model.Item {
	var mu sync.Mutex
	var all []model.Item

	g, ctx := errgroup.WithContext(ctx)
	for _, a := range adapters {
		a := a
		if !e.backoff.Allow(backoffKey(cfg.TenantID, a.Key()), now) {
			log.Debug("source paused, skipping", "source", a.Key())
			continue
		}
		g.Go(func() error {
			items, err := e.fetchOne(ctx, a)
			if err != nil {
				log.Error("fetch source", "source", a.Key(), "error", err)
				return nil
			}
			mu.Lock()
			all = append(all, items...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return all
}

// fetchOne fetches from one adapter with a small in-cycle retry
// budget. Exhausting the budget yields a FetchError; fetch failures do
// not feed the backoff streak.
func (e *Engine) fetchOne(ctx context.Context, a source.Adapter) ([]model.Item, error) {
	var items []model.Item
	b := retry.WithMaxRetries(1, retry.NewFibonacci(500*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		got, err := a.Fetch(ctx)
		if err != nil {
			return retry.RetryableError(err)
		}
		items = got
		return nil
	})
	if err != nil {
		return nil, &model.FetchError{SourceKey: a.Key(), Err: err}
	}
	return items, nil
}

// deliverAll renders and sends the selected items in order. The first
// send failure stops the cycle's remaining sends; render failures skip
// only the affected item. The ledger row is written only after a
// confirmed send, so a failed delivery stays eligible for retry.
func (e *Engine) deliverAll(ctx context.Context, cfg *model.FeedConfig, items []model.Item, log *slog.Logger) (int, string) {
	sent := 0
	var lastErr string

	for _, item := range items {
		payload, err := deliver.Render(item, cfg.Render)
		if err != nil {
			log.Error("render item", "source", item.SourceKey, "item_id", item.ItemID, "error", err)
			continue
		}

		msgID, err := e.sink.Send(ctx, cfg.ChannelID, payload)
		if err != nil {
			e.backoff.Failure(backoffKey(cfg.TenantID, item.SourceKey), time.Now().UTC())
			log.Error("send item", "source", item.SourceKey, "item_id", item.ItemID, "error", err)
			lastErr = err.Error()
			break
		}
		e.backoff.Success(backoffKey(cfg.TenantID, item.SourceKey))
		sent++

		inserted, err := e.store.InsertDelivery(ctx, &model.Delivery{
			TenantID:    cfg.TenantID,
			SourceKey:   item.SourceKey,
			ItemID:      item.ItemID,
			ChannelID:   cfg.ChannelID,
			MessageID:   msgID,
			Title:       item.Title,
			URL:         item.URL,
			DeliveredAt: time.Now().UTC(),
		})
		if err != nil {
			log.Error("record delivery", "source", item.SourceKey, "item_id", item.ItemID, "error", err)
			lastErr = err.Error()
		} else if !inserted {
			log.Debug("delivery already recorded", "source", item.SourceKey, "item_id", item.ItemID)
		}
	}
	return sent, lastErr
}

func (e *Engine) deliveredLookup(tenantID string) selection.Lookup {
	return func(ctx context.Context, sourceKey, itemID string) (bool, error) {
		return e.store.IsDelivered(ctx, tenantID, sourceKey, itemID)
	}
}

func (e *Engine) recordRun(ctx context.Context, id int64, ranAt time.Time, lastErr string, log *slog.Logger) {
	if err := e.store.RecordRunMetadata(ctx, id, ranAt, lastErr); err != nil {
		log.Error("record run metadata", "error", err)
	}
}

func backoffKey(tenantID, sourceKey string) string {
	return tenantID + "|" + sourceKey
}

func reverse(items []model.Item) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
