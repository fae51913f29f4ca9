// Package deliver renders candidate items into channel messages and
// sends them through the chat platform.
package deliver

import (
	"errors"
	"fmt"
	"strings"

	"feedbot/internal/model"
)

// Field is one labeled value in a rendered message.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Payload is a channel-agnostic rendered message. The item's URL is
// exposed only through LinkURL; titles are never hyperlinked.
type Payload struct {
	Title        string
	Description  string
	Fields       []Field
	ThumbnailURL string
	ImageURL     string
	Footer       string
	LinkURL      string
	LinkLabel    string
}

const maxDescriptionRunes = 2000

// Render builds the message payload for one item. It is pure: no
// network access, no side effects. Optional fields that are empty are
// omitted rather than rendered as placeholders.
func Render(item model.Item, opts model.RenderOptions) (*Payload, error) {
	if item.Title == "" {
		return nil, &model.RenderError{ItemID: item.ItemID, Err: errors.New("item has no title")}
	}

	p := &Payload{
		Title:       item.Title,
		Description: truncateRunes(item.Summary, maxDescriptionRunes),
	}

	if opts.ShowPrice && item.Worth != "" {
		p.Fields = append(p.Fields, Field{
			Name:   "Price",
			Value:  fmt.Sprintf("~~%s~~ **Free**", item.Worth),
			Inline: true,
		})
	}
	if opts.ShowExpiry && item.Expiry != nil {
		p.Fields = append(p.Fields, Field{
			Name:   "Ends",
			Value:  item.Expiry.UTC().Format("2006-01-02 15:04 UTC"),
			Inline: true,
		})
	}
	if opts.ShowThumbnail && item.ImageURL != "" {
		p.ThumbnailURL = secureURL(item.ImageURL)
	}
	if opts.ShowImage && item.ImageURL != "" {
		p.ImageURL = secureURL(item.ImageURL)
	}
	if opts.ShowFooter {
		p.Footer = footerFor(item.SourceKey)
	}
	if opts.ShowLinks && item.URL != "" {
		p.LinkURL = item.URL
		p.LinkLabel = "Open"
		if item.Worth != "" || strings.HasPrefix(item.SourceKey, "freegames:") {
			p.LinkLabel = "Claim"
		}
	}
	return p, nil
}

// secureURL upgrades plain-http asset URLs; the channel may refuse to
// display mixed content.
func secureURL(u string) string {
	if rest, ok := strings.CutPrefix(u, "http://"); ok {
		return "https://" + rest
	}
	return u
}

// footerFor turns a source key like "freegames:epic-games-store" into
// a short display label.
func footerFor(sourceKey string) string {
	feature, rest, ok := strings.Cut(sourceKey, ":")
	if !ok {
		return sourceKey
	}
	switch feature {
	case "news":
		return "Game news · " + rest
	case "freegames":
		return "Free to keep · " + rest
	case "giveaways":
		return "Giveaway · " + rest
	}
	return sourceKey
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
