package notify

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrMissingConfig    = errors.New("notification channel id not configured")
	ErrChannelNotFound  = errors.New("notification channel not found")
	ErrWrongChannelType = errors.New("notification channel is not a text channel")
)

// ChannelError reports why the notification channel could not be resolved.
type ChannelError struct {
	ChannelID string
	Err       error
}

func (e *ChannelError) Error() string {
	if e.ChannelID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (channel %s)", e.Err, e.ChannelID)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// Channel is any object the chat client's cache can return for an id.
type Channel interface {
	ID() string
}

// TextChannel is a channel notifications can be posted to.
type TextChannel interface {
	Channel
	// Send posts msg and returns the created message id.
	Send(ctx context.Context, msg Message) (string, error)
}

// Directory looks channels up in the chat client's cache.
type Directory interface {
	Channel(id string) (Channel, bool)
}

// ResolveChannel looks up channelID and checks it can receive notifications.
// It is called on every dispatch; the result is not cached.
func ResolveChannel(dir Directory, channelID string) (TextChannel, error) {
	if channelID == "" {
		return nil, &ChannelError{Err: ErrMissingConfig}
	}
	if dir == nil {
		return nil, &ChannelError{ChannelID: channelID, Err: ErrChannelNotFound}
	}
	ch, ok := dir.Channel(channelID)
	if !ok || ch == nil {
		return nil, &ChannelError{ChannelID: channelID, Err: ErrChannelNotFound}
	}
	tc, ok := ch.(TextChannel)
	if !ok {
		return nil, &ChannelError{ChannelID: channelID, Err: ErrWrongChannelType}
	}
	return tc, nil
}
