// Package slack implements platform.Adapter for Slack (Platform B) on top
// of slack-go/slack and its socketmode client, materially rewritten from
// pkg/communication/chat/adapters/slack's send-only Sender into the full
// connect/webhook/fallback contract the platform package requires.
package slack

import (
	"context"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/chris-alexander-pop/system-design-library/internal/bridge/normalize"
	"github.com/chris-alexander-pop/system-design-library/internal/bridge/platform"
	appErrors "github.com/chris-alexander-pop/system-design-library/pkg/errors"
	"github.com/chris-alexander-pop/system-design-library/pkg/logger"
)

// Adapter implements platform.Adapter for Slack, using Socket Mode so no
// public HTTP endpoint is required for inbound events.
type Adapter struct {
	appToken string
	client   *slackapi.Client
	sm       *socketmode.Client
	handler  platform.EventHandler
	cancel   context.CancelFunc
}

// New constructs an unconnected Adapter. appToken is the xapp- Socket Mode
// token; the bot token (xoxb-) is passed to Connect.
func New(appToken string) *Adapter {
	return &Adapter{appToken: appToken}
}

func (a *Adapter) Connect(ctx context.Context, token string) error {
	client := slackapi.New(token, slackapi.OptionAppLevelToken(a.appToken))
	sm := socketmode.New(client)

	runCtx, cancel := context.WithCancel(ctx)
	a.client = client
	a.sm = sm
	a.cancel = cancel

	go a.loop(runCtx)
	go func() {
		if err := sm.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			logger.L().ErrorContext(runCtx, "slack socket mode run exited", "error", err)
		}
	}()
	return nil
}

func (a *Adapter) Disconnect() error {
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}

func (a *Adapter) OnEvent(handler platform.EventHandler) {
	a.handler = handler
}

func (a *Adapter) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.sm.Events:
			if !ok {
				return
			}
			a.handle(ctx, evt)
		}
	}
}

func (a *Adapter) handle(ctx context.Context, evt socketmode.Event) {
	if evt.Request != nil {
		a.sm.Ack(*evt.Request)
	}

	if a.handler == nil {
		return
	}

	ev, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}

	switch e := ev.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		a.dispatchMessage(ctx, e)
	}
}

func (a *Adapter) dispatchMessage(ctx context.Context, e *slackevents.MessageEvent) {
	// Our own impersonated posts arrive as bot_message subtype; ignore so a
	// bridge can't re-ingest the messages it just delivered.
	if e.BotID != "" {
		return
	}

	raw := normalize.SlackRaw{
		MessageTS:  e.TimeStamp,
		ChannelID:  e.Channel,
		Content:    e.Text,
		UserID:     e.User,
		TimestampS: e.TimeStamp,
	}

	kind := "message"
	switch e.SubType {
	case "message_changed":
		kind = "messageUpdate"
		if e.Message != nil {
			raw.MessageTS = e.Message.TimeStamp
			raw.Content = e.Message.Text
			raw.UserID = e.Message.User
		}
	case "message_deleted":
		kind = "messageDelete"
		if e.PreviousMessage != nil {
			raw.MessageTS = e.PreviousMessage.TimeStamp
		}
	}

	a.handler(ctx, kind, raw)
}

func (a *Adapter) CreateWebhook(ctx context.Context, channelID, name string) (*platform.Webhook, error) {
	// Slack has no per-channel webhook-create API analogous to Discord's;
	// impersonation there runs entirely through chat.postMessage's
	// username/icon_url override, so there is no webhook credential to mint.
	return nil, appErrors.Permanent("slack has no per-channel webhook primitive", nil)
}

func (a *Adapter) FetchWebhook(ctx context.Context, channelID string) (*platform.Webhook, error) {
	return nil, appErrors.Permanent("slack has no per-channel webhook primitive", nil)
}

// SendWebhook on Slack is implemented as chat.postMessage with
// username/icon_url overrides (requires the chat:write.customize scope),
// not a true webhook call — webhookID/token are unused but kept to satisfy
// the shared Adapter signature.
func (a *Adapter) SendWebhook(ctx context.Context, webhookID, token, channelID, content, username, avatarURL string) (string, error) {
	_, ts, err := a.client.PostMessageContext(ctx, channelID,
		slackapi.MsgOptionText(content, false),
		slackapi.MsgOptionUsername(username),
		slackapi.MsgOptionIconURL(avatarURL),
	)
	if err != nil {
		return "", appErrors.Wrap(err, "failed to post impersonated slack message")
	}
	return ts, nil
}

// EditWebhookMessage can't be done on Slack through this signature: chat.update
// requires the channel id, which the shared Adapter contract (shaped around
// Discord's webhook+messageID addressing) doesn't carry. Report unsupported
// so the caller falls back to the edit-workaround.
func (a *Adapter) EditWebhookMessage(ctx context.Context, webhookID, token, messageID, content string) (bool, error) {
	return false, nil
}

func (a *Adapter) DeleteWebhookMessage(ctx context.Context, webhookID, token, messageID string) (bool, error) {
	return false, nil
}

func (a *Adapter) SendMessage(ctx context.Context, channelID, content string, impersonate *platform.Impersonate) (string, error) {
	opts := []slackapi.MsgOption{slackapi.MsgOptionText(content, false)}
	if impersonate != nil {
		if impersonate.Name != "" {
			opts = append(opts, slackapi.MsgOptionUsername(impersonate.Name))
		}
		if impersonate.AvatarURL != "" {
			opts = append(opts, slackapi.MsgOptionIconURL(impersonate.AvatarURL))
		}
	}
	_, ts, err := a.client.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", appErrors.Wrap(err, "failed to send slack fallback message")
	}
	return ts, nil
}

func (a *Adapter) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	_, _, _, err := a.client.UpdateMessageContext(ctx, channelID, messageID, slackapi.MsgOptionText(content, false))
	if err != nil {
		return appErrors.Wrap(err, "failed to edit slack message")
	}
	return nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	_, _, err := a.client.DeleteMessageContext(ctx, channelID, messageID)
	if err != nil {
		return appErrors.Wrap(err, "failed to delete slack message")
	}
	return nil
}

var _ platform.Adapter = (*Adapter)(nil)
