// Package model defines the domain types used across the application.
package model

import "time"

// Feature identifies one of the delivery features a tenant can enable.
type Feature string

// Supported features.
const (
	FeatureNews      Feature = "news"
	FeatureFreeGames Feature = "freegames"
	FeatureGiveaways Feature = "giveaways"
)

// Clamping bounds for tenant-editable values.
const (
	MinPollIntervalSeconds = 60
	MaxPollIntervalSeconds = 3600
	MaxItemsPerCycleLimit  = 50
)

// RenderOptions selects which optional message fields are rendered.
type RenderOptions struct {
	ShowPrice     bool
	ShowExpiry    bool
	ShowThumbnail bool
	ShowImage     bool
	ShowFooter    bool
	ShowLinks     bool
}

// FeedConfig is a tenant's configuration for one feature.
// It is created and edited by an external collaborator (dashboard or
// command); the engine only reads it and writes run metadata.
type FeedConfig struct {
	ID                  int64
	TenantID            string
	Feature             Feature
	Enabled             bool
	ChannelID           string
	PollIntervalSeconds int
	MaxItemsPerCycle    int // 0 = unlimited
	Platforms           []string
	Categories          []string
	Render              RenderOptions
	LastRunAt           *time.Time
	LastError           string
	CreatedAt           time.Time
}

// Clamp forces tenant-editable values into their allowed ranges.
func (c *FeedConfig) Clamp() {
	if c.PollIntervalSeconds < MinPollIntervalSeconds {
		c.PollIntervalSeconds = MinPollIntervalSeconds
	}
	if c.PollIntervalSeconds > MaxPollIntervalSeconds {
		c.PollIntervalSeconds = MaxPollIntervalSeconds
	}
	if c.MaxItemsPerCycle < 0 {
		c.MaxItemsPerCycle = 0
	}
	if c.MaxItemsPerCycle > MaxItemsPerCycleLimit {
		c.MaxItemsPerCycle = MaxItemsPerCycleLimit
	}
}

// Item is a candidate produced by a source adapter for one fetch.
// It is never persisted directly; a successful delivery converts it
// into a Delivery row.
type Item struct {
	SourceKey   string
	ItemID      string
	Title       string
	Summary     string
	URL         string
	ImageURL    string
	Worth       string
	Platforms   []string
	Expiry      *time.Time
	PublishedAt *time.Time
}

// Delivery is one ledger entry recording a confirmed send.
// (TenantID, SourceKey, ItemID) is unique; a colliding insert means
// "already delivered", not an error.
type Delivery struct {
	TenantID    string
	SourceKey   string
	ItemID      string
	ChannelID   string
	MessageID   string
	Title       string
	URL         string
	DeliveredAt time.Time
}
