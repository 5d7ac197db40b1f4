package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/live-herald/notify"
)

// messageSender is the slice of *discordgo.Session used to post notifications.
type messageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// textChannel is a guild text or announcement channel.
type textChannel struct {
	id     string
	sender messageSender
}

func (c *textChannel) ID() string { return c.id }

// Send posts msg; ctx bounds the REST call.
func (c *textChannel) Send(ctx context.Context, msg notify.Message) (string, error) {
	m, err := c.sender.ChannelMessageSendComplex(c.id, toMessageSend(msg), discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord send to %s: %w", c.id, err)
	}
	return m.ID, nil
}

// otherChannel is any cached channel notifications cannot be posted to.
type otherChannel struct {
	id  string
	typ discordgo.ChannelType
}

func (c otherChannel) ID() string { return c.id }

// postable reports whether a channel type accepts notification posts.
func postable(t discordgo.ChannelType) bool {
	return t == discordgo.ChannelTypeGuildText || t == discordgo.ChannelTypeGuildNews
}

// wrapChannel classifies a cached channel for notify.ResolveChannel.
func wrapChannel(ch *discordgo.Channel, sender messageSender) notify.Channel {
	if postable(ch.Type) {
		return &textChannel{id: ch.ID, sender: sender}
	}
	return otherChannel{id: ch.ID, typ: ch.Type}
}
