// Package normalize maps platform-specific raw events into CanonicalEvent.
// Each function is a pure projection: same input always yields the same
// output, and normalizing an already-normalized event's fields again is a
// no-op.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/chris-alexander-pop/system-design-library/internal/bridge"
	appErrors "github.com/chris-alexander-pop/system-design-library/pkg/errors"
)

// DiscordRaw carries the subset of discordgo's message event fields the
// normalizer needs, decoupled from the discordgo types so this package has
// no SDK dependency.
type DiscordRaw struct {
	MessageID      string
	ChannelID      string
	GuildID        string
	Content        string
	AuthorID       string
	AuthorUsername string
	AvatarHash     string
	Timestamp      time.Time
	Attachments    []RawAttachment
}

// SlackRaw carries the subset of a Slack event the normalizer needs.
type SlackRaw struct {
	MessageTS   string
	ChannelID   string
	Content     string
	UserID      string
	Username    string
	AvatarURL   string
	TimestampS  string // Slack "ts" is a string like "1234567890.123456"
	Attachments []RawAttachment
}

// RawAttachment is the platform-neutral attachment shape both raw types use.
type RawAttachment struct {
	URL         string
	Filename    string
	ContentType string
	Size        int64
}

// Discord normalizes a Discord raw event into a CanonicalEvent.
func Discord(raw DiscordRaw, eventType bridge.EventType) (bridge.CanonicalEvent, error) {
	if raw.MessageID == "" || raw.ChannelID == "" {
		return bridge.CanonicalEvent{}, appErrors.InvalidArgument("discord event missing message or channel id", nil)
	}

	ev := bridge.CanonicalEvent{
		Type: eventType,
		Source: bridge.Source{
			Platform:  bridge.PlatformA,
			MessageID: raw.MessageID,
			ChannelID: raw.ChannelID,
			GuildID:   raw.GuildID,
		},
		Timestamp: raw.Timestamp.UnixMilli(),
	}

	if eventType == bridge.MsgDelete {
		return ev, nil
	}

	ev.Content = raw.Content
	ev.Author = bridge.Author{
		Name:   raw.AuthorUsername,
		Avatar: discordAvatarURL(raw.AuthorID, raw.AvatarHash),
	}
	ev.Attachments = normalizeAttachments(raw.Attachments)
	return ev, nil
}

// discordAvatarURL builds a CDN URL from a user id and avatar hash. A hash
// prefixed "a_" is an animated avatar and uses the gif extension; discordgo
// documents this prefix convention for cdn.discordapp.com/avatars.
func discordAvatarURL(userID, hash string) string {
	if hash == "" {
		return ""
	}
	if strings.HasPrefix(hash, "http://") || strings.HasPrefix(hash, "https://") {
		return hash
	}
	ext := "png"
	if strings.HasPrefix(hash, "a_") {
		ext = "gif"
	}
	return fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.%s", userID, hash, ext)
}

// Slack normalizes a Slack raw event into a CanonicalEvent.
func Slack(raw SlackRaw, eventType bridge.EventType) (bridge.CanonicalEvent, error) {
	if raw.MessageTS == "" || raw.ChannelID == "" {
		return bridge.CanonicalEvent{}, appErrors.InvalidArgument("slack event missing ts or channel id", nil)
	}

	ev := bridge.CanonicalEvent{
		Type: eventType,
		Source: bridge.Source{
			Platform:  bridge.PlatformB,
			MessageID: raw.MessageTS,
			ChannelID: raw.ChannelID,
		},
		Timestamp: slackTimestampMillis(raw.TimestampS),
	}

	if eventType == bridge.MsgDelete {
		return ev, nil
	}

	ev.Content = raw.Content
	ev.Author = bridge.Author{
		Name:   raw.Username,
		Avatar: raw.AvatarURL,
	}
	ev.Attachments = normalizeAttachments(raw.Attachments)
	return ev, nil
}

// slackTimestampMillis parses Slack's "<seconds>.<micros>" ts string into
// epoch milliseconds. Malformed input yields 0 rather than failing the
// whole event — timestamp is advisory ordering information, not identity.
func slackTimestampMillis(ts string) int64 {
	var sec, micro int64
	parts := strings.SplitN(ts, ".", 2)
	fmt.Sscanf(parts[0], "%d", &sec)
	if len(parts) == 2 {
		fmt.Sscanf(parts[1], "%d", &micro)
	}
	return sec*1000 + micro/1000
}

func normalizeAttachments(raw []RawAttachment) []bridge.Attachment {
	if len(raw) == 0 {
		return nil
	}
	out := make([]bridge.Attachment, len(raw))
	for i, a := range raw {
		out[i] = bridge.Attachment{
			URL:         a.URL,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
		}
	}
	return out
}
