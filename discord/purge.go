package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	maxPurge = 100
	// bulkDeleteMaxAge is the oldest message age the bulk delete endpoint accepts.
	bulkDeleteMaxAge = 14 * 24 * time.Hour
)

var errPurgeCount = errors.New("messages must be between 1 and 100")

func purgeCommand() *discordgo.ApplicationCommand {
	perms := int64(discordgo.PermissionManageMessages)
	minMessages := 1.0
	return &discordgo.ApplicationCommand{
		Name:                     "purge",
		Description:              "moderator command to delete up to 100 messages!",
		DefaultMemberPermissions: &perms,
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionInteger,
			Name:        "messages",
			Description: "Number of messages to delete",
			Required:    true,
			MinValue:    &minMessages,
		}},
	}
}

// purgeCount extracts and validates the messages option.
func purgeCount(opts []*discordgo.ApplicationCommandInteractionDataOption) (int, error) {
	for _, o := range opts {
		if o.Name != "messages" {
			continue
		}
		n := int(o.IntValue())
		if n < 1 || n > maxPurge {
			return 0, errPurgeCount
		}
		return n, nil
	}
	return 0, errPurgeCount
}

// messageable reports whether a channel type holds messages that can be purged.
func messageable(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeGuildNewsThread, discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread, discordgo.ChannelTypeGuildVoice:
		return true
	}
	return false
}

// deletable returns ids of messages young enough for bulk deletion.
func deletable(msgs []*discordgo.Message, now time.Time) []string {
	cutoff := now.Add(-bulkDeleteMaxAge)
	var ids []string
	for _, m := range msgs {
		ts := m.Timestamp
		if ts.IsZero() {
			if t, err := discordgo.SnowflakeTimestamp(m.ID); err == nil {
				ts = t
			}
		}
		if ts.After(cutoff) {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// purge deletes up to n recent messages of channelID and returns how many were removed.
func (b *Bot) purge(ctx context.Context, channelID string, n int) (int, error) {
	msgs, err := b.api.ChannelMessages(channelID, n, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("list messages: %w", err)
	}
	ids := deletable(msgs, b.clock.Now())
	switch len(ids) {
	case 0:
		return 0, nil
	case 1:
		err = b.api.ChannelMessageDelete(channelID, ids[0], discordgo.WithContext(ctx))
	default:
		err = b.api.ChannelMessagesBulkDelete(channelID, ids, discordgo.WithContext(ctx))
	}
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return len(ids), nil
}

func (b *Bot) handlePurge(ctx context.Context, i *discordgo.Interaction) {
	n, err := purgeCount(i.ApplicationCommandData().Options)
	if err != nil {
		b.replyTransient(ctx, i, "You can only delete up to 100 messages at a time!")
		return
	}
	ch, err := b.lookupChannel(ctx, i.ChannelID)
	if err != nil || !messageable(ch.Type) {
		b.replyTransient(ctx, i, "This command only works in text channels!")
		return
	}
	deleted, err := b.purge(ctx, ch.ID, n)
	if err != nil {
		slog.Error("purge failed", slog.String("channel", ch.ID), slog.Int("requested", n), slog.Any("err", err), slog.String("component", "discord"))
		b.replyTransient(ctx, i, "An error occurred while trying to delete messages!")
		return
	}
	slog.Info("purged messages", slog.String("channel", ch.ID), slog.Int("requested", n), slog.Int("deleted", deleted), slog.String("component", "discord"))
	b.replyTransient(ctx, i, fmt.Sprintf("Deleted %d messages!", deleted))
}
