// Package discord implements platform.Adapter for Discord (Platform A) on
// top of discordgo, materially rewritten from
// pkg/communication/chat/adapters/discord's send-only Sender into the full
// connect/webhook/fallback contract the platform package requires.
package discord

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/chris-alexander-pop/system-design-library/internal/bridge/normalize"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/platform"
	appErrors "github.com/chris-alexander-pop/system-design-library/pkg/errors"
)

// Adapter implements platform.Adapter for Discord.
type Adapter struct {
	session *discordgo.Session
	handler platform.EventHandler
}

// New constructs an unconnected Adapter; Connect performs the gateway login.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Connect(ctx context.Context, token string) error {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return appErrors.Internal("failed to create discord session", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		a.dispatch(ctx, "message", m.Message)
	})
	dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageUpdate) {
		a.dispatch(ctx, "messageUpdate", m.Message)
	})
	dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageDelete) {
		a.dispatch(ctx, "messageDelete", m.Message)
	})

	if err := dg.Open(); err != nil {
		return appErrors.Unavailable("failed to open discord gateway session", err)
	}
	a.session = dg
	return nil
}

func (a *Adapter) Disconnect() error {
	if a.session == nil {
		return nil
	}
	return a.session.Close()
}

func (a *Adapter) OnEvent(handler platform.EventHandler) {
	a.handler = handler
}

func (a *Adapter) dispatch(ctx context.Context, kind string, m *discordgo.Message) {
	if a.handler == nil || m == nil {
		return
	}
	// Ignore our own webhook-impersonated posts so a bridge can't re-ingest
	// the messages it just delivered (loop avoidance's first line of
	// defense; the content-hash filter is the second).
	if m.WebhookID != "" {
		return
	}

	raw := normalize.DiscordRaw{
		MessageID: m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		raw.AuthorID = m.Author.ID
		raw.AuthorUsername = m.Author.Username
		raw.AvatarHash = m.Author.Avatar
	}
	for _, att := range m.Attachments {
		raw.Attachments = append(raw.Attachments, normalize.RawAttachment{
			URL:         att.URL,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Size:        int64(att.Size),
		})
	}
	a.handler(ctx, kind, raw)
}

func (a *Adapter) CreateWebhook(ctx context.Context, channelID, name string) (*platform.Webhook, error) {
	wh, err := a.session.WebhookCreate(channelID, name, "")
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to create discord webhook")
	}
	return &platform.Webhook{ID: wh.ID, Token: wh.Token}, nil
}

func (a *Adapter) FetchWebhook(ctx context.Context, channelID string) (*platform.Webhook, error) {
	hooks, err := a.session.ChannelWebhooks(channelID)
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to list discord webhooks")
	}
	for _, wh := range hooks {
		if wh.Token != "" {
			return &platform.Webhook{ID: wh.ID, Token: wh.Token}, nil
		}
	}
	return nil, appErrors.NotFound("no usable discord webhook on channel", nil)
}

func (a *Adapter) SendWebhook(ctx context.Context, webhookID, token, channelID, content, username, avatarURL string) (string, error) {
	params := &discordgo.WebhookParams{
		Content:   content,
		Username:  username,
		AvatarURL: avatarURL,
	}
	msg, err := a.session.WebhookExecute(webhookID, token, true, params)
	if err != nil {
		return "", appErrors.Wrap(err, "failed to execute discord webhook")
	}
	if msg == nil {
		return "", nil
	}
	return msg.ID, nil
}

func (a *Adapter) EditWebhookMessage(ctx context.Context, webhookID, token, messageID, content string) (bool, error) {
	_, err := a.session.WebhookMessageEdit(webhookID, token, messageID, &discordgo.WebhookEdit{
		Content: &content,
	})
	if err != nil {
		return false, appErrors.Wrap(err, "failed to edit discord webhook message")
	}
	return true, nil
}

func (a *Adapter) DeleteWebhookMessage(ctx context.Context, webhookID, token, messageID string) (bool, error) {
	if err := a.session.WebhookMessageDelete(webhookID, token, messageID); err != nil {
		return false, appErrors.Wrap(err, "failed to delete discord webhook message")
	}
	return true, nil
}

// SendMessage is the no-webhook fallback: a plain bot message prefixed with
// the source author's name, since Discord bot posts cannot impersonate a
// display name/avatar outside of a webhook.
func (a *Adapter) SendMessage(ctx context.Context, channelID, content string, impersonate *platform.Impersonate) (string, error) {
	text := content
	if impersonate != nil && impersonate.Name != "" {
		text = "**" + strings.TrimSpace(impersonate.Name) + ":** " + content
	}
	msg, err := a.session.ChannelMessageSend(channelID, text)
	if err != nil {
		return "", appErrors.Wrap(err, "failed to send discord fallback message")
	}
	return msg.ID, nil
}

func (a *Adapter) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	_, err := a.session.ChannelMessageEdit(channelID, messageID, content)
	if err != nil {
		return appErrors.Wrap(err, "failed to edit discord message")
	}
	return nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := a.session.ChannelMessageDelete(channelID, messageID); err != nil {
		return appErrors.Wrap(err, "failed to delete discord message")
	}
	return nil
}

var _ platform.Adapter = (*Adapter)(nil)
