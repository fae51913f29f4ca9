package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"feedbot/internal/backoff"
	"feedbot/internal/deliver"
	"feedbot/internal/model"
	"feedbot/internal/source"
	"feedbot/internal/storage"
)

type stubAdapter struct {
	key     string
	items   []model.Item
	err     error
	fetches int
}

func (s *stubAdapter) Key() string { return s.key }

func (s *stubAdapter) Fetch(_ context.Context) ([]model.Item, error) {
	s.fetches++
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

type stubSources struct {
	adapters []source.Adapter
}

func (s *stubSources) ForConfig(_ *model.FeedConfig) []source.Adapter {
	return s.adapters
}

type sentMessage struct {
	ChannelID string
	Title     string
}

type fakeSink struct {
	mu        sync.Mutex
	messages  []sentMessage
	failAfter int // fail once this many messages were sent; -1 = never
}

func newFakeSink() *fakeSink { return &fakeSink{failAfter: -1} }

func (f *fakeSink) Send(_ context.Context, channelID string, p *deliver.Payload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter >= 0 && len(f.messages) >= f.failAfter {
		return "", &model.DeliveryError{ChannelID: channelID, Err: errors.New("channel unavailable")}
	}
	f.messages = append(f.messages, sentMessage{ChannelID: channelID, Title: p.Title})
	return "msg-" + p.Title, nil
}

func (f *fakeSink) titles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var titles []string
	for _, m := range f.messages {
		titles = append(titles, m.Title)
	}
	return titles
}

func timePtr(t time.Time) *time.Time { return &t }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newsItems(n int) []model.Item {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	items := make([]model.Item, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, model.Item{
			SourceKey:   "news:pc",
			ItemID:      string(rune('a' + i)),
			Title:       "Story " + string(rune('A'+i)),
			URL:         "https://news.example.com/" + string(rune('a'+i)),
			PublishedAt: timePtr(base.Add(time.Duration(i) * time.Hour)),
		})
	}
	return items
}

func createConfig(t *testing.T, store *storage.SQLite, cfg model.FeedConfig) *model.FeedConfig {
	t.Helper()
	if err := store.CreateConfig(context.Background(), &cfg); err != nil {
		t.Fatalf("create config: %v", err)
	}
	return &cfg
}

func TestRunCycleDeliversInChronologicalOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sink := newFakeSink()
	bo := backoff.New(5, time.Hour)

	adapter := &stubAdapter{key: "news:pc", items: newsItems(3)}
	eng := New(store, &stubSources{adapters: []source.Adapter{adapter}}, sink, bo, testLogger())

	cfg := createConfig(t, store, model.FeedConfig{
		TenantID: "g1", Feature: model.FeatureNews, Enabled: true,
		ChannelID: "chan-1", PollIntervalSeconds: 300,
	})

	if err := eng.RunCycle(ctx, cfg); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	// Selection ranks newest-first; news cycles flip to oldest-first.
	want := []string{"Story A", "Story B", "Story C"}
	if diff := cmp.Diff(want, sink.titles()); diff != "" {
		t.Errorf("delivery order mismatch (-want +got):\n%s", diff)
	}

	deliveries, err := store.ListRecentDeliveries(ctx, "g1", 10)
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(deliveries) != 3 {
		t.Fatalf("expected 3 ledger rows, got %d", len(deliveries))
	}

	got, err := store.GetConfig(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if got.LastRunAt == nil {
		t.Error("expected LastRunAt to be recorded")
	}
	if got.LastError != "" {
		t.Errorf("expected empty LastError, got %q", got.LastError)
	}
}

func TestRunCycleIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sink := newFakeSink()
	bo := backoff.New(5, time.Hour)

	adapter := &stubAdapter{key: "news:pc", items: newsItems(3)}
	eng := New(store, &stubSources{adapters: []source.Adapter{adapter}}, sink, bo, testLogger())

	cfg := createConfig(t, store, model.FeedConfig{
		TenantID: "g1", Feature: model.FeatureNews, Enabled: true,
		ChannelID: "chan-1", PollIntervalSeconds: 300,
	})

	// The upstream returns the same batch on both cycles; the ledger
	// must suppress every repost.
	for i := 0; i < 2; i++ {
		if err := eng.RunCycle(ctx, cfg); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}

	if len(sink.titles()) != 3 {
		t.Errorf("expected exactly 3 sends across both cycles, got %d", len(sink.titles()))
	}
	deliveries, err := store.ListRecentDeliveries(ctx, "g1", 10)
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(deliveries) != 3 {
		t.Errorf("expected 3 ledger rows, got %d", len(deliveries))
	}
}

func TestRunCycleCapLeavesRemainderEligible(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sink := newFakeSink()
	bo := backoff.New(5, time.Hour)

	adapter := &stubAdapter{key: "giveaways:loot", items: func() []model.Item {
		items := newsItems(5)
		for i := range items {
			items[i].SourceKey = "giveaways:loot"
		}
		return items
	}()}
	eng := New(store, &stubSources{adapters: []source.Adapter{adapter}}, sink, bo, testLogger())

	cfg := createConfig(t, store, model.FeedConfig{
		TenantID: "g1", Feature: model.FeatureGiveaways, Enabled: true,
		ChannelID: "chan-1", PollIntervalSeconds: 300, MaxItemsPerCycle: 2,
	})

	if err := eng.RunCycle(ctx, cfg); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if len(sink.titles()) != 2 {
		t.Fatalf("expected 2 sends in first cycle, got %d", len(sink.titles()))
	}

	// The three uncapped items stay eligible for the next cycle.
	if err := eng.RunCycle(ctx, cfg); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if len(sink.titles()) != 4 {
		t.Fatalf("expected 4 sends after second cycle, got %d", len(sink.titles()))
	}

	deliveries, err := store.ListRecentDeliveries(ctx, "g1", 10)
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(deliveries) != 4 {
		t.Errorf("expected 4 ledger rows, got %d", len(deliveries))
	}
}

func TestRunCycleDeliveryErrorStopsSends(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sink := newFakeSink()
	sink.failAfter = 1
	bo := backoff.New(5, time.Hour)

	adapter := &stubAdapter{key: "news:pc", items: newsItems(3)}
	eng := New(store, &stubSources{adapters: []source.Adapter{adapter}}, sink, bo, testLogger())

	cfg := createConfig(t, store, model.FeedConfig{
		TenantID: "g1", Feature: model.FeatureNews, Enabled: true,
		ChannelID: "chan-1", PollIntervalSeconds: 300,
	})

	if err := eng.RunCycle(ctx, cfg); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	// One success, then the failing send stops the rest of the batch.
	if len(sink.titles()) != 1 {
		t.Fatalf("expected 1 successful send, got %d", len(sink.titles()))
	}
	deliveries, err := store.ListRecentDeliveries(ctx, "g1", 10)
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(deliveries) != 1 {
		t.Errorf("expected 1 ledger row, got %d", len(deliveries))
	}

	st := bo.StatusOf("g1|news:pc", time.Now().UTC())
	if st.State != backoff.StateDegraded || st.Streak != 1 {
		t.Errorf("expected degraded streak 1, got %+v", st)
	}

	got, err := store.GetConfig(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if got.LastError == "" {
		t.Error("expected LastError to be recorded")
	}
}

func TestRunCycleSkipsPausedSource(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sink := newFakeSink()
	bo := backoff.New(1, time.Hour)
	bo.Failure("g1|news:pc", time.Now().UTC())

	paused := &stubAdapter{key: "news:pc", items: newsItems(2)}
	healthy := &stubAdapter{key: "news:consoles", items: []model.Item{{
		SourceKey:   "news:consoles",
		ItemID:      "c1",
		Title:       "Console Story",
		PublishedAt: timePtr(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)),
	}}}
	eng := New(store, &stubSources{adapters: []source.Adapter{paused, healthy}}, sink, bo, testLogger())

	cfg := createConfig(t, store, model.FeedConfig{
		TenantID: "g1", Feature: model.FeatureNews, Enabled: true,
		ChannelID: "chan-1", PollIntervalSeconds: 300,
	})

	if err := eng.RunCycle(ctx, cfg); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	// The paused source gets no fetch attempt at all; the healthy
	// sibling still delivers.
	if paused.fetches != 0 {
		t.Errorf("expected 0 fetches from paused source, got %d", paused.fetches)
	}
	if diff := cmp.Diff([]string{"Console Story"}, sink.titles()); diff != "" {
		t.Errorf("titles mismatch (-want +got):\n%s", diff)
	}
}

func TestRunCycleFetchErrorDoesNotAbortSiblings(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sink := newFakeSink()
	bo := backoff.New(5, time.Hour)

	broken := &stubAdapter{key: "news:pc", err: errors.New("upstream down")}
	healthy := &stubAdapter{key: "news:consoles", items: []model.Item{{
		SourceKey: "news:consoles", ItemID: "c1", Title: "Console Story",
	}}}
	eng := New(store, &stubSources{adapters: []source.Adapter{broken, healthy}}, sink, bo, testLogger())

	cfg := createConfig(t, store, model.FeedConfig{
		TenantID: "g1", Feature: model.FeatureNews, Enabled: true,
		ChannelID: "chan-1", PollIntervalSeconds: 300,
	})

	if err := eng.RunCycle(ctx, cfg); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	if diff := cmp.Diff([]string{"Console Story"}, sink.titles()); diff != "" {
		t.Errorf("titles mismatch (-want +got):\n%s", diff)
	}
	// The in-cycle retry budget allows a second attempt.
	if broken.fetches != 2 {
		t.Errorf("expected 2 fetch attempts, got %d", broken.fetches)
	}
	// Fetch failures never feed the backoff streak.
	if st := bo.StatusOf("g1|news:pc", time.Now().UTC()); st.State != backoff.StateHealthy {
		t.Errorf("expected healthy source, got %+v", st)
	}
}

func TestRunCycleSkipsUnrenderableItem(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sink := newFakeSink()
	bo := backoff.New(5, time.Hour)

	items := newsItems(2)
	items[0].Title = "" // render bug: fails for this item only
	adapter := &stubAdapter{key: "news:pc", items: items}
	eng := New(store, &stubSources{adapters: []source.Adapter{adapter}}, sink, bo, testLogger())

	cfg := createConfig(t, store, model.FeedConfig{
		TenantID: "g1", Feature: model.FeatureNews, Enabled: true,
		ChannelID: "chan-1", PollIntervalSeconds: 300,
	})

	if err := eng.RunCycle(ctx, cfg); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if diff := cmp.Diff([]string{"Story B"}, sink.titles()); diff != "" {
		t.Errorf("titles mismatch (-want +got):\n%s", diff)
	}
	// Render failures do not feed the backoff streak.
	if st := bo.StatusOf("g1|news:pc", time.Now().UTC()); st.State != backoff.StateHealthy {
		t.Errorf("expected healthy source, got %+v", st)
	}
}

func TestPreviewBypassesLedger(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sink := newFakeSink()
	bo := backoff.New(5, time.Hour)

	adapter := &stubAdapter{key: "freegames:steam", items: []model.Item{{
		SourceKey: "freegames:steam", ItemID: "1", Title: "Free Game", Worth: "€9.99",
	}}}
	eng := New(store, &stubSources{adapters: []source.Adapter{adapter}}, sink, bo, testLogger())

	createConfig(t, store, model.FeedConfig{
		TenantID: "g1", Feature: model.FeatureFreeGames, Enabled: true,
		ChannelID: "chan-1", PollIntervalSeconds: 300,
		Render:    model.RenderOptions{ShowPrice: true},
	})

	sent, err := eng.Preview(ctx, "g1", model.FeatureFreeGames, "test-chan", 0)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 preview send, got %d", sent)
	}
	if sink.messages[0].ChannelID != "test-chan" {
		t.Errorf("expected preview to use the test channel, got %q", sink.messages[0].ChannelID)
	}

	deliveries, err := store.ListRecentDeliveries(ctx, "g1", 10)
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(deliveries) != 0 {
		t.Errorf("preview must not write the ledger, found %d rows", len(deliveries))
	}
}

func TestSourceStatus(t *testing.T) {
	store := newTestStore(t)
	bo := backoff.New(5, time.Hour)
	eng := New(store, &stubSources{}, newFakeSink(), bo, testLogger())

	bo.Failure("g1|news:pc", time.Now().UTC())
	bo.Failure("g2|news:pc", time.Now().UTC())

	status := eng.SourceStatus("g1")
	if len(status) != 1 {
		t.Fatalf("expected 1 tracked source, got %d", len(status))
	}
	if st, ok := status["news:pc"]; !ok || st.State != backoff.StateDegraded {
		t.Errorf("unexpected status map %+v", status)
	}
}
