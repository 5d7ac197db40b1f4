// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// Feature-specific requirements are checked by ValidatePolling and ValidateDiscord.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// StreamerKeyPrefix marks environment keys whose values are tracked streamer logins.
const StreamerKeyPrefix = "TWITCH_STREAMER_"

const (
	DefaultPollInterval   = 60 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultRateLimit      = 10.0
	DefaultHTTPAddr       = ":8080"
)

var (
	ErrMissingCredentials = errors.New("missing twitch client id/secret")
	ErrMissingChannel     = errors.New("missing notification channel id")
	ErrMissingBotToken    = errors.New("missing discord bot token")
	ErrNoStreamers        = errors.New("no streamers configured")
)

// loginPattern matches Twitch login names.
var loginPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,25}$`)

// ConfigError reports a missing or invalid setting.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config %s: %v", e.Field, e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

type Config struct {
	// Twitch
	TwitchClientID       string
	TwitchClientSecret   string
	Streamers            []string
	TwitchRequestTimeout time.Duration
	TwitchRateLimit      float64

	// Discord
	DiscordBotToken  string
	DiscordChannelID string
	DiscordGuildID   string

	// Polling
	PollInterval time.Duration

	// HTTP
	HTTPAddr string

	streamersErr error
}

// Load reads environment variables and applies defaults. It doesn't fail when credentials are
// missing; the polling feature checks those with ValidatePolling so the rest of the bot can run.
// Malformed durations and numbers are reported as errors.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = firstEnv("TWITCH_CLIENT_SECRET", "TWITCH_SECRET")

	// A malformed login only disables polling; ValidatePolling reports it.
	cfg.Streamers, cfg.streamersErr = discoverStreamers(os.Environ())

	cfg.TwitchRequestTimeout = DefaultRequestTimeout
	if v := os.Getenv("TWITCH_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, &ConfigError{Field: "TWITCH_REQUEST_TIMEOUT", Err: fmt.Errorf("invalid duration %q", v)}
		}
		cfg.TwitchRequestTimeout = d
	}

	cfg.TwitchRateLimit = DefaultRateLimit
	if v := os.Getenv("TWITCH_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, &ConfigError{Field: "TWITCH_RATE_LIMIT", Err: fmt.Errorf("invalid rate %q", v)}
		}
		cfg.TwitchRateLimit = f
	}

	// Discord
	cfg.DiscordBotToken = firstEnv("DISCORD_BOT_TOKEN", "BOT_TOKEN")
	cfg.DiscordChannelID = os.Getenv("DISCORD_CHANNEL_ID")
	cfg.DiscordGuildID = os.Getenv("DISCORD_GUILD_ID")

	cfg.PollInterval = DefaultPollInterval
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, &ConfigError{Field: "POLL_INTERVAL", Err: fmt.Errorf("invalid duration %q", v)}
		}
		cfg.PollInterval = d
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}

	return cfg, nil
}

// ValidatePolling checks the settings the live notification poller cannot run without.
func (c *Config) ValidatePolling() error {
	if c.TwitchClientID == "" || c.TwitchClientSecret == "" {
		return &ConfigError{Field: "TWITCH_CLIENT_ID/TWITCH_CLIENT_SECRET", Err: ErrMissingCredentials}
	}
	if c.DiscordChannelID == "" {
		return &ConfigError{Field: "DISCORD_CHANNEL_ID", Err: ErrMissingChannel}
	}
	if c.streamersErr != nil {
		return c.streamersErr
	}
	if len(c.Streamers) == 0 {
		return &ConfigError{Field: StreamerKeyPrefix + "*", Err: ErrNoStreamers}
	}
	return nil
}

// ValidateDiscord checks the bot credentials.
func (c *Config) ValidateDiscord() error {
	if c.DiscordBotToken == "" {
		return &ConfigError{Field: "DISCORD_BOT_TOKEN", Err: ErrMissingBotToken}
	}
	return nil
}

// discoverStreamers collects logins from TWITCH_STREAMER_* entries of environ.
// Keys are visited in sorted order; a value may hold several comma-separated logins.
// Duplicates keep their first position. Invalid logins are skipped and the first one is
// returned as a *ConfigError alongside the valid logins.
func discoverStreamers(environ []string) ([]string, error) {
	values := map[string]string{}
	keys := make([]string, 0)
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, StreamerKeyPrefix) {
			continue
		}
		if _, seen := values[k]; !seen {
			keys = append(keys, k)
		}
		values[k] = v
	}
	sort.Strings(keys)

	seen := map[string]bool{}
	out := make([]string, 0, len(keys))
	var firstErr error
	for _, k := range keys {
		for _, login := range strings.Split(values[k], ",") {
			login = strings.TrimSpace(login)
			if login == "" {
				continue
			}
			if !loginPattern.MatchString(login) {
				if firstErr == nil {
					firstErr = &ConfigError{Field: k, Err: fmt.Errorf("invalid twitch login %q", login)}
				}
				continue
			}
			if seen[login] {
				continue
			}
			seen[login] = true
			out = append(out, login)
		}
	}
	return out, firstErr
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
