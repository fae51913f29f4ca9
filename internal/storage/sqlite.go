package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"feedbot/internal/model"
	"feedbot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

const configColumns = `id, tenant_id, feature, enabled, channel_id, poll_interval_seconds,
	max_items_per_cycle, platforms, categories,
	show_price, show_expiry, show_thumbnail, show_image, show_footer, show_links,
	last_run_at, last_error, created_at`

// CreateConfig inserts a new tenant feed config and populates its ID and CreatedAt.
// Values are clamped before they are written.
func (s *SQLite) CreateConfig(ctx context.Context, cfg *model.FeedConfig) error {
	cfg.Clamp()
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tenant_feed_configs (tenant_id, feature, enabled, channel_id,
		   poll_interval_seconds, max_items_per_cycle, platforms, categories,
		   show_price, show_expiry, show_thumbnail, show_image, show_footer, show_links,
		   last_error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.TenantID, string(cfg.Feature), boolToInt(cfg.Enabled), cfg.ChannelID,
		cfg.PollIntervalSeconds, cfg.MaxItemsPerCycle,
		joinList(cfg.Platforms), joinList(cfg.Categories),
		boolToInt(cfg.Render.ShowPrice), boolToInt(cfg.Render.ShowExpiry),
		boolToInt(cfg.Render.ShowThumbnail), boolToInt(cfg.Render.ShowImage),
		boolToInt(cfg.Render.ShowFooter), boolToInt(cfg.Render.ShowLinks),
		cfg.LastError, now,
	)
	if err != nil {
		return fmt.Errorf("insert config: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	cfg.ID = id
	cfg.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetConfig returns a single config by its ID.
func (s *SQLite) GetConfig(ctx context.Context, id int64) (*model.FeedConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM tenant_feed_configs WHERE id = ?`, id,
	)
	return scanConfig(row)
}

// GetConfigByTenant returns the config for one (tenant, feature) pair.
func (s *SQLite) GetConfigByTenant(ctx context.Context, tenantID string, feature model.Feature) (*model.FeedConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM tenant_feed_configs WHERE tenant_id = ? AND feature = ?`,
		tenantID, string(feature),
	)
	return scanConfig(row)
}

// ListEnabledConfigs returns enabled configs that have a destination channel.
func (s *SQLite) ListEnabledConfigs(ctx context.Context, feature model.Feature) ([]model.FeedConfig, error) {
	query := `SELECT ` + configColumns + ` FROM tenant_feed_configs
		 WHERE enabled = 1 AND channel_id != ''`
	args := []any{}
	if feature != "" {
		query += ` AND feature = ?`
		args = append(args, string(feature))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query configs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanConfigs(rows)
}

// UpdateConfig persists changes to an existing config.
func (s *SQLite) UpdateConfig(ctx context.Context, cfg *model.FeedConfig) error {
	cfg.Clamp()
	_, err := s.db.ExecContext(ctx,
		`UPDATE tenant_feed_configs SET enabled = ?, channel_id = ?,
		   poll_interval_seconds = ?, max_items_per_cycle = ?, platforms = ?, categories = ?,
		   show_price = ?, show_expiry = ?, show_thumbnail = ?, show_image = ?,
		   show_footer = ?, show_links = ?
		 WHERE id = ?`,
		boolToInt(cfg.Enabled), cfg.ChannelID,
		cfg.PollIntervalSeconds, cfg.MaxItemsPerCycle,
		joinList(cfg.Platforms), joinList(cfg.Categories),
		boolToInt(cfg.Render.ShowPrice), boolToInt(cfg.Render.ShowExpiry),
		boolToInt(cfg.Render.ShowThumbnail), boolToInt(cfg.Render.ShowImage),
		boolToInt(cfg.Render.ShowFooter), boolToInt(cfg.Render.ShowLinks),
		cfg.ID,
	)
	if err != nil {
		return fmt.Errorf("update config: %w", err)
	}
	return nil
}

// DeleteConfig removes a config. Ledger rows are kept for audit.
func (s *SQLite) DeleteConfig(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tenant_feed_configs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete config: %w", err)
	}
	return nil
}

// RecordRunMetadata stores the outcome of the latest cycle.
func (s *SQLite) RecordRunMetadata(ctx context.Context, id int64, ranAt time.Time, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tenant_feed_configs SET last_run_at = ?, last_error = ? WHERE id = ?`,
		ranAt.UTC().Format(timeLayout), lastError, id,
	)
	if err != nil {
		return fmt.Errorf("record run metadata: %w", err)
	}
	return nil
}

// InsertDelivery records a confirmed send. The composite primary key
// makes the insert idempotent: a colliding key reports inserted=false.
func (s *SQLite) InsertDelivery(ctx context.Context, d *model.Delivery) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO deliveries
		   (tenant_id, source_key, item_id, channel_id, message_id, title, url, delivered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.TenantID, d.SourceKey, d.ItemID, d.ChannelID, d.MessageID,
		d.Title, d.URL, d.DeliveredAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("insert delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// IsDelivered checks whether an item has already been delivered to the tenant.
func (s *SQLite) IsDelivered(ctx context.Context, tenantID, sourceKey, itemID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deliveries WHERE tenant_id = ? AND source_key = ? AND item_id = ?`,
		tenantID, sourceKey, itemID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check delivered: %w", err)
	}
	return count > 0, nil
}

// ListRecentDeliveries returns the tenant's latest deliveries, newest first.
func (s *SQLite) ListRecentDeliveries(ctx context.Context, tenantID string, limit int) ([]model.Delivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, source_key, item_id, channel_id, message_id, title, url, delivered_at
		 FROM deliveries WHERE tenant_id = ?
		 ORDER BY delivered_at DESC, item_id DESC LIMIT ?`,
		tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var deliveries []model.Delivery
	for rows.Next() {
		var d model.Delivery
		var deliveredStr string
		err := rows.Scan(&d.TenantID, &d.SourceKey, &d.ItemID, &d.ChannelID,
			&d.MessageID, &d.Title, &d.URL, &deliveredStr)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.DeliveredAt, _ = time.Parse(timeLayout, deliveredStr)
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinList(vals []string) string {
	return strings.Join(vals, ",")
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanConfig(row scannable) (*model.FeedConfig, error) {
	var c model.FeedConfig
	var featureStr, platforms, categories string
	var enabled, showPrice, showExpiry, showThumb, showImage, showFooter, showLinks int
	var lastRun, created sql.NullString
	err := row.Scan(&c.ID, &c.TenantID, &featureStr, &enabled, &c.ChannelID,
		&c.PollIntervalSeconds, &c.MaxItemsPerCycle, &platforms, &categories,
		&showPrice, &showExpiry, &showThumb, &showImage, &showFooter, &showLinks,
		&lastRun, &c.LastError, &created)
	if err != nil {
		return nil, fmt.Errorf("scan config: %w", err)
	}
	c.Feature = model.Feature(featureStr)
	c.Enabled = enabled == 1
	c.Platforms = splitList(platforms)
	c.Categories = splitList(categories)
	c.Render = model.RenderOptions{
		ShowPrice:     showPrice == 1,
		ShowExpiry:    showExpiry == 1,
		ShowThumbnail: showThumb == 1,
		ShowImage:     showImage == 1,
		ShowFooter:    showFooter == 1,
		ShowLinks:     showLinks == 1,
	}
	if lastRun.Valid {
		t, _ := time.Parse(timeLayout, lastRun.String)
		c.LastRunAt = &t
	}
	if created.Valid {
		c.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	c.Clamp()
	return &c, nil
}

func scanConfigs(rows *sql.Rows) ([]model.FeedConfig, error) {
	var configs []model.FeedConfig
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *c)
	}
	return configs, rows.Err()
}
