package deliver

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"feedbot/internal/model"
)

// Session is the slice of the Discord API the sink needs.
type Session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord sends rendered payloads as Discord embed messages.
type Discord struct {
	session Session
}

// NewDiscord creates a sink on top of an authenticated session.
func NewDiscord(session Session) *Discord {
	return &Discord{session: session}
}

// Send posts the payload to the channel and returns the message id.
// Failures are wrapped as DeliveryError so callers can tell them apart
// from rendering bugs.
func (d *Discord) Send(ctx context.Context, channelID string, p *Payload) (string, error) {
	msg, err := d.session.ChannelMessageSendComplex(channelID, toMessageSend(p), discordgo.WithContext(ctx))
	if err != nil {
		return "", &model.DeliveryError{ChannelID: channelID, Err: err}
	}
	return msg.ID, nil
}

// toMessageSend maps the neutral payload onto the Discord wire shape.
// The embed URL is deliberately left empty: item links are exposed as
// a button, never as a hyperlinked title.
func toMessageSend(p *Payload) *discordgo.MessageSend {
	embed := &discordgo.MessageEmbed{
		Title:       p.Title,
		Description: p.Description,
	}
	for _, f := range p.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	if p.ThumbnailURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: p.ThumbnailURL}
	}
	if p.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: p.ImageURL}
	}
	if p.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: p.Footer}
	}

	send := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}
	if p.LinkURL != "" {
		send.Components = []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Style: discordgo.LinkButton,
						Label: p.LinkLabel,
						URL:   p.LinkURL,
					},
				},
			},
		}
	}
	return send
}
