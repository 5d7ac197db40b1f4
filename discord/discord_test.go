package discord

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/live-herald/notify"
	"github.com/onnwee/live-herald/tracker"
)

type fakeAPI struct {
	mu          sync.Mutex
	sent        []*discordgo.MessageSend
	sendErr     error
	channels    map[string]*discordgo.Channel
	messages    []*discordgo.Message
	listLimit   int
	bulkDeleted []string
	deleted     []string
	responses   []*discordgo.InteractionResponse
	respDeletes int
}

func (f *fakeAPI) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, data)
	return &discordgo.Message{ID: "m-1", ChannelID: channelID}, nil
}

func (f *fakeAPI) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if ch, ok := f.channels[channelID]; ok {
		return ch, nil
	}
	return nil, errors.New("unknown channel")
}

func (f *fakeAPI) ChannelMessages(_ string, limit int, _, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listLimit = limit
	if limit < len(f.messages) {
		return f.messages[:limit], nil
	}
	return f.messages, nil
}

func (f *fakeAPI) ChannelMessageDelete(_, messageID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeAPI) ChannelMessagesBulkDelete(_ string, messages []string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkDeleted = append(f.bulkDeleted, messages...)
	return nil
}

func (f *fakeAPI) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeAPI) InteractionResponseDelete(_ *discordgo.Interaction, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respDeletes++
	return nil
}

func (f *fakeAPI) lastResponse(t *testing.T) *discordgo.InteractionResponse {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.responses)
	return f.responses[len(f.responses)-1]
}

func (f *fakeAPI) responseDeletes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.respDeletes
}

func newTestState(t *testing.T) *discordgo.State {
	t.Helper()
	st := discordgo.NewState()
	require.NoError(t, st.GuildAdd(&discordgo.Guild{
		ID: "g1",
		Channels: []*discordgo.Channel{
			{ID: "text", GuildID: "g1", Type: discordgo.ChannelTypeGuildText},
			{ID: "news", GuildID: "g1", Type: discordgo.ChannelTypeGuildNews},
			{ID: "voice", GuildID: "g1", Type: discordgo.ChannelTypeGuildVoice},
			{ID: "category", GuildID: "g1", Type: discordgo.ChannelTypeGuildCategory},
		},
	}))
	return st
}

func liveRecord() tracker.StreamerRecord {
	return tracker.StreamerRecord{
		Login:   "alice",
		State:   tracker.Live,
		Profile: &tracker.Profile{DisplayName: "Alice", ProfileImageURL: "https://img/alice.png"},
		Session: &tracker.Session{Title: "hello", GameName: "Chess", ViewerCount: 3, StartedAt: time.Unix(1700000000, 0)},
	}
}

func TestToMessageSend(t *testing.T) {
	ms := toMessageSend(notify.Render(liveRecord()))

	assert.Equal(t, "**Alice** is live now!", ms.Content)
	require.Len(t, ms.Embeds, 1)
	e := ms.Embeds[0]
	assert.Equal(t, "hello", e.Title)
	assert.Equal(t, "https://www.twitch.tv/alice", e.URL)
	assert.Equal(t, notify.EmbedColor, e.Color)
	require.NotNil(t, e.Author)
	assert.Equal(t, "Alice", e.Author.Name)
	require.NotNil(t, e.Thumbnail)
	assert.Equal(t, "https://img/alice.png", e.Thumbnail.URL)
	require.NotNil(t, e.Image)
	assert.Equal(t, notify.PreviewURL("alice"), e.Image.URL)
	assert.Equal(t, "2023-11-14T22:13:20Z", e.Timestamp)
	require.Len(t, e.Fields, 3)
	assert.Equal(t, "<t:1700000000:R>", e.Fields[1].Value)

	require.Len(t, ms.Components, 1)
	row, ok := ms.Components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	require.Len(t, row.Components, 1)
	btn, ok := row.Components[0].(discordgo.Button)
	require.True(t, ok)
	assert.Equal(t, discordgo.SecondaryButton, btn.Style)
	assert.Equal(t, "streamer-alice-cta", btn.CustomID)
	assert.Equal(t, "Watch stream", btn.Label)
}

func TestDirectoryClassifiesChannels(t *testing.T) {
	b := newBot(&fakeAPI{}, newTestState(t), clockwork.NewFakeClock())

	for _, id := range []string{"text", "news"} {
		ch, err := notify.ResolveChannel(b, id)
		require.NoError(t, err, id)
		assert.Equal(t, id, ch.ID())
	}
	_, err := notify.ResolveChannel(b, "voice")
	assert.ErrorIs(t, err, notify.ErrWrongChannelType)
	_, err = notify.ResolveChannel(b, "category")
	assert.ErrorIs(t, err, notify.ErrWrongChannelType)
	_, err = notify.ResolveChannel(b, "missing")
	assert.ErrorIs(t, err, notify.ErrChannelNotFound)
}

func TestTextChannelSend(t *testing.T) {
	api := &fakeAPI{}
	b := newBot(api, newTestState(t), clockwork.NewFakeClock())
	ch, err := notify.ResolveChannel(b, "text")
	require.NoError(t, err)

	id, err := ch.Send(context.Background(), notify.Render(liveRecord()))
	require.NoError(t, err)
	assert.Equal(t, "m-1", id)
	require.Len(t, api.sent, 1)

	api.sendErr = errors.New("403 missing access")
	_, err = ch.Send(context.Background(), notify.Render(liveRecord()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing access")
}

func TestPurgeCount(t *testing.T) {
	opt := func(v float64) []*discordgo.ApplicationCommandInteractionDataOption {
		return []*discordgo.ApplicationCommandInteractionDataOption{{Name: "messages", Type: discordgo.ApplicationCommandOptionInteger, Value: v}}
	}
	n, err := purgeCount(opt(10))
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	n, err = purgeCount(opt(100))
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	_, err = purgeCount(opt(101))
	assert.ErrorIs(t, err, errPurgeCount)
	_, err = purgeCount(opt(0))
	assert.ErrorIs(t, err, errPurgeCount)
	_, err = purgeCount(nil)
	assert.ErrorIs(t, err, errPurgeCount)
}

func TestDeletableSkipsOldMessages(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	msgs := []*discordgo.Message{
		{ID: "new", Timestamp: now.Add(-time.Hour)},
		{ID: "edge", Timestamp: now.Add(-13 * 24 * time.Hour)},
		{ID: "old", Timestamp: now.Add(-15 * 24 * time.Hour)},
	}
	assert.Equal(t, []string{"new", "edge"}, deletable(msgs, now))
}

func TestPurge(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	now := clock.Now()

	t.Run("bulk", func(t *testing.T) {
		api := &fakeAPI{messages: []*discordgo.Message{
			{ID: "1", Timestamp: now.Add(-time.Minute)},
			{ID: "2", Timestamp: now.Add(-time.Hour)},
			{ID: "3", Timestamp: now.Add(-30 * 24 * time.Hour)},
		}}
		b := newBot(api, newTestState(t), clock)
		n, err := b.purge(context.Background(), "text", 3)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []string{"1", "2"}, api.bulkDeleted)
		assert.Equal(t, 3, api.listLimit)
	})
	t.Run("single message uses plain delete", func(t *testing.T) {
		api := &fakeAPI{messages: []*discordgo.Message{{ID: "1", Timestamp: now}}}
		b := newBot(api, newTestState(t), clock)
		n, err := b.purge(context.Background(), "text", 5)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []string{"1"}, api.deleted)
		assert.Empty(t, api.bulkDeleted)
	})
	t.Run("nothing recent", func(t *testing.T) {
		api := &fakeAPI{}
		b := newBot(api, newTestState(t), clock)
		n, err := b.purge(context.Background(), "text", 5)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func purgeInteraction(channelID string, n float64) *discordgo.Interaction {
	return &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		ChannelID: channelID,
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "purge",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "messages", Type: discordgo.ApplicationCommandOptionInteger, Value: n},
			},
		},
	}
}

func TestHandlePurgeRepliesAndCleansUp(t *testing.T) {
	clock := clockwork.NewFakeClock()
	api := &fakeAPI{messages: []*discordgo.Message{
		{ID: "1", Timestamp: clock.Now()},
		{ID: "2", Timestamp: clock.Now()},
	}}
	b := newBot(api, newTestState(t), clock)

	b.handleInteraction(purgeInteraction("text", 2))
	assert.Equal(t, "Deleted 2 messages!", api.lastResponse(t).Data.Content)

	clock.BlockUntil(1)
	clock.Advance(defaultReplyTTL)
	require.Eventually(t, func() bool { return api.responseDeletes() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Close())
}

func TestHandlePurgeRejections(t *testing.T) {
	tests := []struct {
		name string
		in   *discordgo.Interaction
		want string
	}{
		{"too many", purgeInteraction("text", 150), "You can only delete up to 100 messages at a time!"},
		{"category channel", purgeInteraction("category", 5), "This command only works in text channels!"},
		{"unknown channel", purgeInteraction("nope", 5), "This command only works in text channels!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{}
			b := newBot(api, newTestState(t), clockwork.NewFakeClock())
			b.handleInteraction(tt.in)
			assert.Equal(t, tt.want, api.lastResponse(t).Data.Content)
			assert.Empty(t, api.bulkDeleted)
			require.NoError(t, b.Close())
		})
	}
}

func TestPurgeFallsBackToRESTChannel(t *testing.T) {
	api := &fakeAPI{channels: map[string]*discordgo.Channel{"thread": {ID: "thread", Type: discordgo.ChannelTypeGuildPublicThread}}}
	b := newBot(api, newTestState(t), clockwork.NewFakeClock())
	b.handleInteraction(purgeInteraction("thread", 5))
	assert.Equal(t, "Deleted 0 messages!", api.lastResponse(t).Data.Content)
	require.NoError(t, b.Close())
}

func TestWatchButton(t *testing.T) {
	api := &fakeAPI{}
	b := newBot(api, newTestState(t), clockwork.NewFakeClock())

	b.handleInteraction(&discordgo.Interaction{
		Type: discordgo.InteractionMessageComponent,
		Data: discordgo.MessageComponentInteractionData{CustomID: notify.WatchButtonID("alice")},
	})
	resp := api.lastResponse(t)
	assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, resp.Type)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	assert.Contains(t, resp.Data.Content, "https://www.twitch.tv/alice")

	b.handleInteraction(&discordgo.Interaction{
		Type: discordgo.InteractionMessageComponent,
		Data: discordgo.MessageComponentInteractionData{CustomID: "something-else"},
	})
	assert.Len(t, api.responses, 1, "foreign components are ignored")
}

func TestPurgeCommandDefinition(t *testing.T) {
	cmd := purgeCommand()
	assert.Equal(t, "purge", cmd.Name)
	require.NotNil(t, cmd.DefaultMemberPermissions)
	assert.Equal(t, int64(discordgo.PermissionManageMessages), *cmd.DefaultMemberPermissions)
	require.Len(t, cmd.Options, 1)
	assert.True(t, cmd.Options[0].Required)
	assert.Equal(t, discordgo.ApplicationCommandOptionInteger, cmd.Options[0].Type)
}
